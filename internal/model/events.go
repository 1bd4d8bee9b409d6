package model

// EventType はブローカー経由でクライアントへ配信されるイベント種別を表す。
type EventType string

const (
	EventRoleAssigned        EventType = "role_assigned"
	EventPhaseChanged        EventType = "phase_changed"
	EventVotingStarted       EventType = "voting_started"
	EventVotingResults       EventType = "voting_results"
	EventNightResults        EventType = "night_results"
	EventInvestigationResult EventType = "investigation_result"
	EventEliminated          EventType = "eliminated"
	EventGameEnded           EventType = "game_ended"
	EventChat                EventType = "chat"
	EventStateSync           EventType = "state_sync"
)

// Event はクライアントへ配信される1イベントを表す。
// Seqはユーザーごとの配信時に採番されるため、生成時はゼロ値でよい。
// Recipientが空の場合はセッション全員への公開イベント。
type Event struct {
	Type      EventType      `json:"event"`
	GameID    string         `json:"game_id"`
	Seq       uint64         `json:"seq"`
	Recipient string         `json:"-"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Private はイベントが特定ユーザー宛てかどうかを返す。
func (e *Event) Private() bool {
	return e.Recipient != ""
}
