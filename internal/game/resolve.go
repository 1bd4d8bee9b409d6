package game

import (
	"sort"

	"github.com/hitoshi/mafiman/internal/model"
)

// resolutionOrder は夜行動の解決優先度テーブル。
// 妨害→保護→殺害→調査の順で解決し、調査は保護適用後の状態を読む。
var resolutionOrder = []model.ActionKind{
	model.ActionBlock,
	model.ActionProtect,
	model.ActionKill,
	model.ActionInvestigate,
}

// Death は夜の解決で確定した死亡を表す。
type Death struct {
	UserID string
	Reason model.DeathReason
}

// Investigation は調査結果を表す。調査者本人にのみ配信される。
type Investigation struct {
	InvestigatorID string
	TargetID       string
	IsMafia        bool
}

// NightResult は夜行動の解決結果を表す。
type NightResult struct {
	Deaths         []Death
	Investigations []Investigation
	Blocked        []string
	ProtectedID    string
}

// ResolveNight は提出済みの夜行動を解決する純粋関数。
// 外部状態を一切変更しない。rolesは生存者の役職マップ。
//
// 解決規則:
//   - 妨害されたアクターの行動は破棄される（妨害自体は最優先で解決）。
//   - マフィアの殺害目標は提出の多数決で1つに決まる。同数の場合は殺害なし（決定的）。
//   - 保護された目標への殺害は無効化される。
//   - 複数の殺害が同一の犠牲者に向いても死亡は1件。
//   - 調査は目標の陣営所属（マフィアか否か）のみを報告し、正確な役職は明かさない。
func ResolveNight(actions []model.Action, roles map[string]model.Role) NightResult {
	result := NightResult{}

	byActor := make(map[string]model.Action, len(actions))
	for _, a := range actions {
		byActor[a.ActorID] = a
	}

	for _, kind := range resolutionOrder {
		switch kind {
		case model.ActionBlock:
			blocked := make(map[string]bool)
			for _, a := range byActor {
				if a.Kind == model.ActionBlock {
					blocked[a.TargetID] = true
				}
			}
			for actorID := range byActor {
				if blocked[actorID] && byActor[actorID].Kind != model.ActionBlock {
					delete(byActor, actorID)
					result.Blocked = append(result.Blocked, actorID)
				}
			}
			sort.Strings(result.Blocked)

		case model.ActionProtect:
			for _, a := range byActor {
				if a.Kind == model.ActionProtect {
					result.ProtectedID = a.TargetID
				}
			}

		case model.ActionKill:
			victim := killTarget(byActor)
			if victim != "" && victim != result.ProtectedID {
				result.Deaths = append(result.Deaths, Death{
					UserID: victim,
					Reason: model.DeathReasonKilled,
				})
			}

		case model.ActionInvestigate:
			for _, a := range byActor {
				if a.Kind == model.ActionInvestigate {
					result.Investigations = append(result.Investigations, Investigation{
						InvestigatorID: a.ActorID,
						TargetID:       a.TargetID,
						IsMafia:        roles[a.TargetID] == model.RoleMafia,
					})
				}
			}
			sort.Slice(result.Investigations, func(i, j int) bool {
				return result.Investigations[i].InvestigatorID < result.Investigations[j].InvestigatorID
			})
		}
	}

	return result
}

// killTarget は殺害行動の目標を多数決で1つに決める。
// 最多票の目標が複数ある場合は空文字（殺害なし）を返す。
func killTarget(byActor map[string]model.Action) string {
	counts := make(map[string]int)
	for _, a := range byActor {
		if a.Kind == model.ActionKill {
			counts[a.TargetID]++
		}
	}
	if len(counts) == 0 {
		return ""
	}

	best, bestCount, tied := "", 0, false
	for target, c := range counts {
		switch {
		case c > bestCount:
			best, bestCount, tied = target, c, false
		case c == bestCount:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return best
}
