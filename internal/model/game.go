// Package model はドメインモデルを定義する。
package model

import "time"

// Role はプレイヤーの秘匿役職を表す。
type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleMafia     Role = "mafia"
	RoleDoctor    Role = "doctor"
	RoleDetective Role = "detective"
	RoleEscort    Role = "escort"
)

// Faction は役職の所属陣営を返す。マフィア陣営とそれ以外（市民陣営）の2陣営。
func (r Role) Faction() Faction {
	if r == RoleMafia {
		return FactionMafia
	}
	return FactionCitizens
}

// Faction は勝敗判定の単位となる陣営を表す。
type Faction string

const (
	FactionMafia    Faction = "mafia"
	FactionCitizens Faction = "citizens"
)

// Phase はゲームセッションのフェーズを表す。
// 遷移順: LobbyLocked → RoleAssignment → Night → DayDiscussion → DayVote → Resolution → {Night | GameEnded}
type Phase string

const (
	PhaseLobbyLocked    Phase = "lobby_locked"
	PhaseRoleAssignment Phase = "role_assignment"
	PhaseNight          Phase = "night"
	PhaseDayDiscussion  Phase = "day_discussion"
	PhaseDayVote        Phase = "day_vote"
	PhaseResolution     Phase = "resolution"
	PhaseGameEnded      Phase = "game_ended"
)

// DeathReason は死亡理由を表す。
type DeathReason string

const (
	DeathReasonKilled   DeathReason = "killed"
	DeathReasonVotedOut DeathReason = "voted_out"
	DeathReasonAFK      DeathReason = "afk"
)

// Player はセッション内の1プレイヤーを表す。
// 役職は配役時に1回だけ割り当てられ、公開条件（死亡またはゲーム終了）を満たすまで秘匿される。
type Player struct {
	UserID      string
	Seat        int
	Role        Role
	Alive       bool
	DeathReason DeathReason
	DeathDay    int
	Connected   bool
	Revealed    bool
}

// ActionKind は夜フェーズの行動種別を表す。
// 継承ではなく閉じたタグ付き列挙として扱い、解決順序は優先度テーブルで定義する。
type ActionKind string

const (
	ActionKill        ActionKind = "kill"
	ActionProtect     ActionKind = "protect"
	ActionInvestigate ActionKind = "investigate"
	ActionBlock       ActionKind = "block"
)

// NightCapability は役職が持つ夜行動の種別を返す。
// 夜行動を持たない役職は空文字を返す。
func (r Role) NightCapability() ActionKind {
	switch r {
	case RoleMafia:
		return ActionKill
	case RoleDoctor:
		return ActionProtect
	case RoleDetective:
		return ActionInvestigate
	case RoleEscort:
		return ActionBlock
	default:
		return ""
	}
}

// Action は夜フェーズに提出された行動を表す。
// 同一アクターからの再提出は先の提出を上書きする（last-write-wins）。
type Action struct {
	ActorID     string
	Kind        ActionKind
	TargetID    string
	SubmittedAt time.Time
}

// Vote は昼フェーズの投票を表す。TargetIDが空文字の場合は棄権。
type Vote struct {
	VoterID     string
	TargetID    string
	SubmittedAt time.Time
}

// Outcome はゲームの確定結果を表す。勝敗未確定の間はnil。
type Outcome struct {
	Winner Faction // 引き分けの場合は空文字
	Draw   bool
}
