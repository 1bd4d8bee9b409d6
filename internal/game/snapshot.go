package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
)

// saveSnapshot は最新のスナップショットを保存キューへ置く。
// 保存が追いつかない場合は古いスナップショットを捨てて最新のみを残すため、
// DB書き込みがセッションのコマンド処理を塞ぐことはない。
func (s *Session) saveSnapshot() {
	if s.snaps == nil {
		return
	}
	snap := s.buildSnapshot()
	for {
		select {
		case s.snapCh <- snap:
			return
		default:
			select {
			case <-s.snapCh:
			default:
			}
		}
	}
}

func (s *Session) snapshotLoop() {
	for {
		select {
		case snap := <-s.snapCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.snaps.Save(ctx, snap); err != nil {
				s.logger.Error("スナップショットの保存に失敗しました",
					slog.String("game_id", s.id),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		case <-s.stopped:
			return
		}
	}
}

// buildSnapshot は復旧に必要な状態の深いコピーを作る。
func (s *Session) buildSnapshot() *model.GameSnapshot {
	snap := &model.GameSnapshot{
		GameID:    s.id,
		Phase:     s.phase,
		DayCount:  s.day,
		Deadline:  s.deadline,
		UpdatedAt: s.now(),
	}
	for _, id := range s.order {
		snap.Players = append(snap.Players, *s.players[id])
	}
	for _, a := range s.actions {
		snap.Actions = append(snap.Actions, a)
	}
	for _, v := range s.votes {
		snap.Votes = append(snap.Votes, v)
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

// Restore はスナップショットからセッションを復元する。
// 解決済みフェーズは再実行せず、残り時間で締切タイマーを張り直す。
// 締切をすでに過ぎていた場合は短い猶予の後にフェーズを閉じる。
func Restore(snap *model.GameSnapshot, cfg Config, deps Deps) *Session {
	s := New(snap.GameID, cfg, deps)

	done := make(chan struct{})
	s.enqueueAsync(func() {
		defer close(done)
		s.phase = snap.Phase
		s.day = snap.DayCount
		s.deadline = snap.Deadline
		for i := range snap.Players {
			p := snap.Players[i]
			p.Connected = false
			s.players[p.UserID] = &p
			s.order = append(s.order, p.UserID)
		}
		for _, a := range snap.Actions {
			s.actions[a.ActorID] = a
		}
		for _, v := range snap.Votes {
			s.votes[v.VoterID] = v
		}
		if snap.Outcome != nil {
			o := *snap.Outcome
			s.outcome = &o
		}

		if s.phase != model.PhaseGameEnded && s.phase != model.PhaseLobbyLocked {
			remaining := time.Until(snap.Deadline)
			if remaining < time.Second {
				remaining = time.Second
			}
			s.armTimer(remaining)
		}
	})
	<-done
	return s
}
