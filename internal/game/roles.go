// Package game はマフィアゲームのセッションエンジンを提供する。
// フェーズ状態機械、配役、夜行動の解決、投票集計を含む。
package game

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/hitoshi/mafiman/internal/model"
)

// roleQuota はプレイヤー人数から役職の割当数を決定する。
// クォータを満たせない人数の場合はエラーを返す。
func roleQuota(n int) (map[model.Role]int, error) {
	switch {
	case n < 4:
		return nil, model.NewInsufficientPlayersError(n)
	case n < 6:
		return map[model.Role]int{
			model.RoleMafia:   1,
			model.RoleDoctor:  1,
			model.RoleCitizen: n - 2,
		}, nil
	case n < 10:
		return map[model.Role]int{
			model.RoleMafia:     2,
			model.RoleDoctor:    1,
			model.RoleDetective: 1,
			model.RoleCitizen:   n - 4,
		}, nil
	default:
		return map[model.Role]int{
			model.RoleMafia:     3,
			model.RoleDoctor:    1,
			model.RoleDetective: 1,
			model.RoleEscort:    1,
			model.RoleCitizen:   n - 6,
		}, nil
	}
}

// quotaOrder は配役の割当順。mapの反復順に依存しないための固定順序。
var quotaOrder = []model.Role{
	model.RoleMafia,
	model.RoleDoctor,
	model.RoleDetective,
	model.RoleEscort,
	model.RoleCitizen,
}

// AssignRoles はプレイヤーIDのリストに役職を割り当てる。
// 割当は暗号論的に予測不能なシャッフルで行い、各プレイヤーはちょうど1つの役職を受け取る。
func AssignRoles(userIDs []string) ([]model.Player, error) {
	quota, err := roleQuota(len(userIDs))
	if err != nil {
		return nil, err
	}

	shuffled := make([]string, len(userIDs))
	copy(shuffled, userIDs)
	if err := cryptoShuffle(shuffled); err != nil {
		return nil, fmt.Errorf("配役シャッフルに失敗しました: %w", err)
	}

	seat := make(map[string]int, len(userIDs))
	for i, id := range userIDs {
		seat[id] = i
	}

	players := make([]model.Player, 0, len(userIDs))
	idx := 0
	for _, role := range quotaOrder {
		for i := 0; i < quota[role]; i++ {
			players = append(players, model.Player{
				UserID:    shuffled[idx],
				Seat:      seat[shuffled[idx]],
				Role:      role,
				Alive:     true,
				Connected: true,
			})
			idx++
		}
	}

	return players, nil
}

// cryptoShuffle はcrypto/randを乱数源とするFisher-Yatesシャッフル。
func cryptoShuffle(ids []string) error {
	for i := len(ids) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		j := n.Int64()
		ids[i], ids[j] = ids[j], ids[i]
	}
	return nil
}
