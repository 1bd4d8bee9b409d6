package game

import "github.com/hitoshi/mafiman/internal/model"

// VoteResult は昼投票の集計結果を表す。
// Countsは透明性のため全クライアントに公開される。
type VoteResult struct {
	EliminatedID string // 処刑なしの場合は空文字
	Counts       map[string]int
	Abstained    int
}

// ResolveVote は昼投票を集計する純粋関数。
//
// 集計規則:
//   - 棄権票は定足数には数えるが、どの目標の票にもならない。
//   - 最多票の目標が一意に決まる場合のみ処刑する。
//   - 最多票が同数で並んだ場合は処刑なし（決定的なno-lynch。乱択しない）。
func ResolveVote(votes []model.Vote) VoteResult {
	result := VoteResult{Counts: make(map[string]int)}

	for _, v := range votes {
		if v.TargetID == "" {
			result.Abstained++
			continue
		}
		result.Counts[v.TargetID]++
	}

	best, bestCount, tied := "", 0, false
	for target, c := range result.Counts {
		switch {
		case c > bestCount:
			best, bestCount, tied = target, c, false
		case c == bestCount:
			tied = true
		}
	}

	if !tied && bestCount > 0 {
		result.EliminatedID = best
	}
	return result
}
