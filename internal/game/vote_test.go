package game

import (
	"testing"

	"github.com/hitoshi/mafiman/internal/model"
)

func vote(voter, target string) model.Vote {
	return model.Vote{VoterID: voter, TargetID: target}
}

// TestResolveVote_Plurality は単独最多票の目標が処刑されることを検証する。
func TestResolveVote_Plurality(t *testing.T) {
	result := ResolveVote([]model.Vote{
		vote("a", "d"),
		vote("b", "d"),
		vote("c", "a"),
	})

	if result.EliminatedID != "d" {
		t.Errorf("eliminated = %q, want d", result.EliminatedID)
	}
	if result.Counts["d"] != 2 || result.Counts["a"] != 1 {
		t.Errorf("counts = %v, want d:2 a:1", result.Counts)
	}
}

// TestResolveVote_TieNoElimination は最多票が同数の場合に処刑なしとなることを検証する。
func TestResolveVote_TieNoElimination(t *testing.T) {
	result := ResolveVote([]model.Vote{
		vote("a", "c"),
		vote("b", "c"),
		vote("c", "a"),
		vote("d", "a"),
	})

	if result.EliminatedID != "" {
		t.Errorf("eliminated = %q, want no elimination on 2-2 tie", result.EliminatedID)
	}
	if result.Counts["c"] != 2 || result.Counts["a"] != 2 {
		t.Errorf("counts = %v, want c:2 a:2", result.Counts)
	}
}

// TestResolveVote_AbstainCountsTowardQuorumOnly は棄権がどの目標の票にもならないことを検証する。
func TestResolveVote_AbstainCountsTowardQuorumOnly(t *testing.T) {
	result := ResolveVote([]model.Vote{
		vote("a", "b"),
		vote("b", ""),
		vote("c", ""),
	})

	if result.EliminatedID != "b" {
		t.Errorf("eliminated = %q, want b (single non-abstain vote)", result.EliminatedID)
	}
	if result.Abstained != 2 {
		t.Errorf("abstained = %d, want 2", result.Abstained)
	}
	if len(result.Counts) != 1 {
		t.Errorf("counts = %v, abstentions must not appear as targets", result.Counts)
	}
}

// TestResolveVote_AllAbstain は全員棄権で処刑なしとなることを検証する。
func TestResolveVote_AllAbstain(t *testing.T) {
	result := ResolveVote([]model.Vote{
		vote("a", ""),
		vote("b", ""),
	})

	if result.EliminatedID != "" {
		t.Errorf("eliminated = %q, want none", result.EliminatedID)
	}
}

// TestResolveVote_NoVotes は投票ゼロでも処刑なしの結果を返すことを検証する。
func TestResolveVote_NoVotes(t *testing.T) {
	result := ResolveVote(nil)
	if result.EliminatedID != "" {
		t.Errorf("eliminated = %q, want none", result.EliminatedID)
	}
}
