package game

import (
	"context"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
)

// PlayerView は閲覧者から見えるプレイヤー情報。
// Roleは公開条件（本人・死亡公開・ゲーム終了・マフィア同士）を満たす場合のみ入る。
type PlayerView struct {
	UserID    string     `json:"user_id"`
	Seat      int        `json:"seat"`
	Alive     bool       `json:"alive"`
	Connected bool       `json:"connected"`
	Role      model.Role `json:"role,omitempty"`
}

// State は閲覧者視点のゲーム状態。
type State struct {
	GameID        string         `json:"game_id"`
	Phase         model.Phase    `json:"phase"`
	Day           int            `json:"day"`
	TimeRemaining time.Duration  `json:"time_remaining_ms"`
	AlivePlayers  []string       `json:"alive_players"`
	Players       []PlayerView   `json:"players"`
	MyRole        model.Role     `json:"my_role,omitempty"`
	CanAct        bool           `json:"can_act"`
	MafiaMembers  []string       `json:"mafia_members,omitempty"`
	Outcome       *model.Outcome `json:"outcome,omitempty"`
}

// GetState は閲覧者視点の現在状態を返す。
// 自分の役職は常に見え、マフィア名簿はマフィア本人またはゲーム終了後のみ見える。
func (s *Session) GetState(ctx context.Context, viewerID string) (*State, error) {
	var state *State
	err := s.do(ctx, func() error {
		state = s.viewFor(viewerID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Session) viewFor(viewerID string) *State {
	viewer := s.players[viewerID]
	ended := s.phase == model.PhaseGameEnded
	viewerIsMafia := viewer != nil && viewer.Role == model.RoleMafia

	state := &State{
		GameID:       s.id,
		Phase:        s.phase,
		Day:          s.day,
		AlivePlayers: s.aliveIDs(),
		Outcome:      s.outcome,
	}

	if !ended && !s.deadline.IsZero() {
		if remaining := s.deadline.Sub(s.now()); remaining > 0 {
			state.TimeRemaining = remaining
		}
	}

	if viewer != nil {
		state.MyRole = viewer.Role
		switch s.phase {
		case model.PhaseNight:
			state.CanAct = viewer.Alive && viewer.Role.NightCapability() != ""
		case model.PhaseDayVote:
			state.CanAct = viewer.Alive
		}
	}

	for _, id := range s.order {
		p := s.players[id]
		view := PlayerView{
			UserID:    p.UserID,
			Seat:      p.Seat,
			Alive:     p.Alive,
			Connected: p.Connected,
		}
		visible := ended || p.Revealed || id == viewerID ||
			(viewerIsMafia && p.Role == model.RoleMafia)
		if visible {
			view.Role = p.Role
		}
		state.Players = append(state.Players, view)

		if p.Role == model.RoleMafia && (viewerIsMafia || ended) {
			state.MafiaMembers = append(state.MafiaMembers, id)
		}
	}

	return state
}
