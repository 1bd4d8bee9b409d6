package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
)

// Config はセッションエンジンのポリシー設定を保持する。
// タイブレークや勝利条件は確定仕様ではなく設定可能なポリシーとして扱う。
type Config struct {
	MinPlayers int
	MaxPlayers int
	// MaxDays は引き分け宣言となる日数上限。
	MaxDays int

	NightDuration         time.Duration
	DayDiscussionDuration time.Duration
	DayVoteDuration       time.Duration
	ResolutionDuration    time.Duration
	AFKTimeout            time.Duration

	// MafiaWinsAtParity は生存マフィア数が市民陣営以上になった時点で
	// マフィア勝利とするか（従来ルール）。falseの場合は全滅のみで決着する。
	MafiaWinsAtParity bool

	BaseReward int64
	WinBonus   int64
}

// EventSink はセッションが発行するイベントの配信先インターフェース。
// Publishはブロックしてはならない（遅いクライアントへの配送はブローカー側の責務）。
type EventSink interface {
	Publish(event *model.Event)
}

// RewardSubmitter はゲーム終了時の報酬トランザクション送信インターフェース。
type RewardSubmitter interface {
	Apply(ctx context.Context, tx *model.Transaction) (*model.Transaction, error)
}

// SnapshotSaver はクラッシュ復旧用スナップショットの保存インターフェース。
type SnapshotSaver interface {
	Save(ctx context.Context, snap *model.GameSnapshot) error
}

// MetricsRecorder はセッションのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordPhaseTransition(phase string)
	RecordGameEnded(winner string)
}

// Deps はSessionの外部依存をまとめた構造体。
// Ledger・Snapshots・Metricsはnil可（テスト用）。
type Deps struct {
	Sink      EventSink
	Ledger    RewardSubmitter
	Snapshots SnapshotSaver
	Metrics   MetricsRecorder
	Logger    *slog.Logger
	// OnEnd はGAME_ENDED到達時に呼ばれる（レジストリの破棄スケジュール用）。
	OnEnd func(gameID string)
	// Now はテストで時刻を差し替えるためのフック。nilならtime.Now。
	Now func() time.Time
}

// Session は1ゲームの状態機械。
//
// すべての状態変更は直列化されたコマンドキュー経由で行われ、1コマンドずつ
// runゴルーチンが処理する。フェーズ締切タイマーもコマンドとしてキューに
// 入るため、締切と駆け込み提出がレースしても先にキューへ到達した方が勝ち、
// 負けた方はno-opになる。
type Session struct {
	id     string
	cfg    Config
	sink   EventSink
	ledger RewardSubmitter
	snaps  SnapshotSaver
	mets   MetricsRecorder
	logger *slog.Logger
	onEnd  func(string)
	now    func() time.Time

	cmds    chan func()
	stopped chan struct{}
	snapCh  chan *model.GameSnapshot

	// 以下のフィールドはrunゴルーチンのみが読み書きする。
	phase     model.Phase
	day       int
	players   map[string]*model.Player
	order     []string
	actions   map[string]model.Action
	votes     map[string]model.Vote
	deadline  time.Time
	outcome   *model.Outcome
	epoch     uint64
	timer     *time.Timer
	afkTimers map[string]*time.Timer
}

// New はSessionを生成し、コマンド処理ゴルーチンを起動する。
func New(id string, cfg Config, deps Deps) *Session {
	s := &Session{
		id:        id,
		cfg:       cfg,
		sink:      deps.Sink,
		ledger:    deps.Ledger,
		snaps:     deps.Snapshots,
		mets:      deps.Metrics,
		logger:    deps.Logger,
		onEnd:     deps.OnEnd,
		now:       deps.Now,
		cmds:      make(chan func(), 64),
		stopped:   make(chan struct{}),
		snapCh:    make(chan *model.GameSnapshot, 1),
		phase:     model.PhaseLobbyLocked,
		players:   make(map[string]*model.Player),
		actions:   make(map[string]model.Action),
		votes:     make(map[string]model.Vote),
		afkTimers: make(map[string]*time.Timer),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	go s.run()
	go s.snapshotLoop()
	return s
}

// ID はゲームIDを返す。
func (s *Session) ID() string { return s.id }

func (s *Session) run() {
	for {
		select {
		case cmd := <-s.cmds:
			cmd()
		case <-s.stopped:
			return
		}
	}
}

// do はコマンドを直列キューに投入し、結果を同期的に待つ。
func (s *Session) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	wrapped := func() {
		defer s.recoverInvariant(reply)
		reply <- fn()
	}
	select {
	case s.cmds <- wrapped:
	case <-s.stopped:
		return model.NewGameNotFoundError(s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.stopped:
		// 停止直前に実行済みの場合は結果を優先する。未実行ならコマンドは
		// キューに残ったまま実行されないので、待たずに破棄済みとして返す。
		select {
		case err := <-reply:
			return err
		default:
			return model.NewGameNotFoundError(s.id)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueAsync はタイマー等からの応答不要コマンドを投入する。
// 破棄済みセッションへの投入は黙って捨てる。
func (s *Session) enqueueAsync(fn func()) {
	wrapped := func() {
		defer s.recoverInvariant(nil)
		fn()
	}
	select {
	case s.cmds <- wrapped:
	case <-s.stopped:
	}
}

// recoverInvariant はセッション内部の不変条件違反（二重解決等）を
// プロセス全体ではなくこのセッションだけの停止に封じ込める。
func (s *Session) recoverInvariant(reply chan<- error) {
	if rec := recover(); rec != nil {
		s.logger.Error("セッション内部の不変条件違反を検出したためセッションを停止します",
			slog.String("game_id", s.id),
			slog.Any("panic", rec),
		)
		s.halt()
		if reply != nil {
			reply <- fmt.Errorf("セッション内部エラーが発生しました: %v", rec)
		}
	}
}

// halt はタイマーを全て止め、セッションを破棄対象にする。
func (s *Session) halt() {
	s.stopTimers()
	s.phase = model.PhaseGameEnded
	if s.onEnd != nil {
		s.onEnd(s.id)
	}
}

// Retire はセッションのゴルーチンを停止する。レジストリの破棄時に呼ばれる。
// 破棄後のコマンドはGameNotFoundErrorになる。
func (s *Session) Retire() {
	s.enqueueAsync(func() {
		s.stopTimers()
		close(s.stopped)
	})
}

func (s *Session) stopTimers() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for id, t := range s.afkTimers {
		t.Stop()
		delete(s.afkTimers, id)
	}
}

// --- 公開操作 ---

// Start はロースターを受け取ってゲームを開始する。
// 人数が設定範囲外の場合はInvalidRosterErrorを返す。
// 配役後、各プレイヤーへ秘匿のrole_assignedイベント、全体へphase_changedを発行し、
// 夜フェーズへ遷移する。
func (s *Session) Start(ctx context.Context, roster []string) error {
	return s.do(ctx, func() error { return s.start(roster) })
}

// SubmitAction は夜フェーズの行動を受け付ける。
// 同一アクターからの再提出は上書きされ、フェーズ締切時点の最後の提出のみが有効。
func (s *Session) SubmitAction(ctx context.Context, actorID string, kind model.ActionKind, targetID string) error {
	return s.do(ctx, func() error { return s.submitAction(actorID, kind, targetID) })
}

// SubmitVote は昼投票を受け付ける。targetIDが空文字の場合は棄権。
func (s *Session) SubmitVote(ctx context.Context, voterID, targetID string) error {
	return s.do(ctx, func() error { return s.submitVote(voterID, targetID) })
}

// ForceAdvance は現在のフェーズを即座に締め切る（運用者向け特権操作）。
// 効果は締切経過と同一。
func (s *Session) ForceAdvance(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.phase == model.PhaseGameEnded {
			return model.NewGameEndedError(s.id)
		}
		s.closePhase()
		return nil
	})
}

// End はセッションを強制終了する（運用者向け）。
// forcedWinnerが空の場合は引き分けとして確定する。
func (s *Session) End(ctx context.Context, forcedWinner model.Faction) error {
	return s.do(ctx, func() error {
		if s.phase == model.PhaseGameEnded {
			return model.NewGameEndedError(s.id)
		}
		switch forcedWinner {
		case "":
			s.finish(model.Outcome{Draw: true})
		case model.FactionMafia, model.FactionCitizens:
			s.finish(model.Outcome{Winner: forcedWinner})
		default:
			return model.NewIllegalActionError("unknown faction: " + string(forcedWinner))
		}
		return nil
	})
}

// Chat はチャットメッセージをセッションの可視性ルールに従って配信する。
// 昼は全体へ、夜は生存マフィアのみがマフィア宛てに送れる。死亡者は送信不可。
// テキストのサニタイズは呼び出し側の責務。
func (s *Session) Chat(ctx context.Context, userID, text string) error {
	return s.do(ctx, func() error { return s.chat(userID, text) })
}

// PlayerDisconnected は切断を記録し、AFKタイマーを起動する。
// タイムアウトまでに再接続しなかった生存プレイヤーはAFK理由で脱落する。
func (s *Session) PlayerDisconnected(userID string) {
	s.enqueueAsync(func() {
		p, ok := s.players[userID]
		if !ok || s.phase == model.PhaseGameEnded {
			return
		}
		p.Connected = false
		if t, ok := s.afkTimers[userID]; ok {
			t.Stop()
		}
		s.afkTimers[userID] = time.AfterFunc(s.cfg.AFKTimeout, func() {
			s.enqueueAsync(func() { s.afkExpired(userID) })
		})
	})
}

// PlayerConnected は（再）接続を記録し、AFKタイマーを解除する。
func (s *Session) PlayerConnected(userID string) {
	s.enqueueAsync(func() {
		p, ok := s.players[userID]
		if !ok {
			return
		}
		p.Connected = true
		if t, ok := s.afkTimers[userID]; ok {
			t.Stop()
			delete(s.afkTimers, userID)
		}
	})
}

// --- 内部遷移（runゴルーチン内のみ） ---

func (s *Session) start(roster []string) error {
	if s.phase != model.PhaseLobbyLocked {
		panic(fmt.Sprintf("start called in phase %s", s.phase))
	}
	if len(roster) < s.cfg.MinPlayers || len(roster) > s.cfg.MaxPlayers {
		return model.NewInvalidRosterError(len(roster), s.cfg.MinPlayers, s.cfg.MaxPlayers)
	}

	s.phase = model.PhaseRoleAssignment
	players, err := AssignRoles(roster)
	if err != nil {
		s.phase = model.PhaseLobbyLocked
		return err
	}

	s.order = make([]string, 0, len(players))
	for i := range players {
		p := players[i]
		s.players[p.UserID] = &p
		s.order = append(s.order, p.UserID)
	}

	for _, id := range s.order {
		p := s.players[id]
		s.emit(&model.Event{
			Type:      model.EventRoleAssigned,
			GameID:    s.id,
			Recipient: id,
			Payload: map[string]any{
				"role":        string(p.Role),
				"description": roleDescriptions[p.Role],
			},
		})
	}

	s.logger.Info("ゲームを開始しました",
		slog.String("game_id", s.id),
		slog.Int("players", len(roster)),
	)

	s.enterPhase(model.PhaseNight)
	return nil
}

func (s *Session) submitAction(actorID string, kind model.ActionKind, targetID string) error {
	if s.phase != model.PhaseNight {
		return model.NewIllegalActionError("夜フェーズではありません")
	}
	actor, ok := s.players[actorID]
	if !ok {
		return model.NewIllegalActionError("このゲームの参加者ではありません")
	}
	if !actor.Alive {
		return model.NewIllegalActionError("死亡したプレイヤーは行動できません")
	}
	if actor.Role.NightCapability() != kind {
		return model.NewIllegalActionError("この役職では宣言された行動を実行できません")
	}
	target, ok := s.players[targetID]
	if !ok || !target.Alive {
		return model.NewIllegalActionError("目標が生存プレイヤーではありません")
	}
	// 自己対象の可否は行動種別ごとに決まる。自己保護のみ許可する。
	if targetID == actorID && kind != model.ActionProtect {
		return model.NewIllegalActionError("自分自身を目標にできません")
	}

	s.actions[actorID] = model.Action{
		ActorID:     actorID,
		Kind:        kind,
		TargetID:    targetID,
		SubmittedAt: s.now(),
	}

	if s.allActorsSubmitted() {
		s.closePhase()
	}
	return nil
}

func (s *Session) submitVote(voterID, targetID string) error {
	if s.phase != model.PhaseDayVote {
		return model.NewIllegalVoteError("投票フェーズではありません")
	}
	voter, ok := s.players[voterID]
	if !ok {
		return model.NewIllegalVoteError("このゲームの参加者ではありません")
	}
	if !voter.Alive {
		return model.NewIllegalVoteError("死亡したプレイヤーは投票できません")
	}
	if targetID != "" {
		target, ok := s.players[targetID]
		if !ok || !target.Alive {
			return model.NewIllegalVoteError("投票先が生存プレイヤーではありません")
		}
	}

	s.votes[voterID] = model.Vote{
		VoterID:     voterID,
		TargetID:    targetID,
		SubmittedAt: s.now(),
	}

	if s.allVotersSubmitted() {
		s.closePhase()
	}
	return nil
}

func (s *Session) chat(userID, text string) error {
	p, ok := s.players[userID]
	if !ok {
		return model.NewIllegalActionError("このゲームの参加者ではありません")
	}
	if !p.Alive {
		return model.NewIllegalActionError("死亡したプレイヤーはチャットできません")
	}

	payload := map[string]any{"from": userID, "text": text}

	// 夜はマフィアのみが発言でき、生存マフィアにだけ届く。
	if s.phase == model.PhaseNight {
		if p.Role != model.RoleMafia {
			return model.NewIllegalActionError("夜フェーズに発言できるのはマフィアのみです")
		}
		for _, id := range s.order {
			m := s.players[id]
			if m.Alive && m.Role == model.RoleMafia {
				s.emit(&model.Event{Type: model.EventChat, GameID: s.id, Recipient: id, Payload: payload})
			}
		}
		return nil
	}

	s.emit(&model.Event{Type: model.EventChat, GameID: s.id, Payload: payload})
	return nil
}

// enterPhase は新フェーズへ遷移し、締切タイマーを張り直す。
func (s *Session) enterPhase(p model.Phase) {
	s.phase = p
	s.epoch++
	s.actions = make(map[string]model.Action)
	s.votes = make(map[string]model.Vote)

	if p == model.PhaseDayDiscussion {
		s.day++
	}

	dur := s.phaseDuration(p)
	s.deadline = s.now().Add(dur)

	s.emit(&model.Event{
		Type:   model.EventPhaseChanged,
		GameID: s.id,
		Payload: map[string]any{
			"phase":    string(p),
			"day":      s.day,
			"deadline": s.deadline.UTC().Format(time.RFC3339),
		},
	})

	if p == model.PhaseDayVote {
		s.emit(&model.Event{
			Type:    model.EventVotingStarted,
			GameID:  s.id,
			Payload: map[string]any{"eligible_targets": s.aliveIDs()},
		})
	}

	if s.mets != nil {
		s.mets.RecordPhaseTransition(string(p))
	}

	s.armTimer(dur)
	s.saveSnapshot()
}

func (s *Session) phaseDuration(p model.Phase) time.Duration {
	switch p {
	case model.PhaseNight:
		return s.cfg.NightDuration
	case model.PhaseDayDiscussion:
		return s.cfg.DayDiscussionDuration
	case model.PhaseDayVote:
		return s.cfg.DayVoteDuration
	case model.PhaseResolution:
		return s.cfg.ResolutionDuration
	default:
		return s.cfg.ResolutionDuration
	}
}

func (s *Session) armTimer(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	epoch := s.epoch
	s.timer = time.AfterFunc(d, func() {
		s.enqueueAsync(func() { s.phaseExpired(epoch) })
	})
}

// phaseExpired は締切タイマーからのコマンド。
// 駆け込み提出が先にフェーズを閉じていた場合（epoch不一致）はno-op。
func (s *Session) phaseExpired(epoch uint64) {
	if epoch != s.epoch || s.phase == model.PhaseGameEnded {
		return
	}
	s.closePhase()
}

// closePhase は現在のフェーズを締め切り、解決エンジンを呼んで次フェーズへ遷移する。
// 提出ゼロでも必ず定義された締切動作を持つ（行動なし／処刑なし）。
func (s *Session) closePhase() {
	switch s.phase {
	case model.PhaseNight:
		s.resolveNightPhase()
	case model.PhaseDayDiscussion:
		s.enterPhase(model.PhaseDayVote)
	case model.PhaseDayVote:
		s.resolveVotePhase()
	case model.PhaseResolution:
		s.enterPhase(model.PhaseNight)
	case model.PhaseGameEnded:
		// no-op
	default:
		panic(fmt.Sprintf("closePhase called in phase %s", s.phase))
	}
}

func (s *Session) resolveNightPhase() {
	actions := make([]model.Action, 0, len(s.actions))
	for _, a := range s.actions {
		actions = append(actions, a)
	}

	roles := make(map[string]model.Role, len(s.players))
	for id, p := range s.players {
		if p.Alive {
			roles[id] = p.Role
		}
	}

	result := ResolveNight(actions, roles)

	deaths := make([]map[string]any, 0, len(result.Deaths))
	for _, d := range result.Deaths {
		s.kill(d.UserID, d.Reason, s.day+1)
		deaths = append(deaths, map[string]any{
			"user_id": d.UserID,
			"reason":  string(d.Reason),
			"role":    string(s.players[d.UserID].Role),
		})
	}

	s.emit(&model.Event{
		Type:    model.EventNightResults,
		GameID:  s.id,
		Payload: map[string]any{"deaths": deaths},
	})

	for _, inv := range result.Investigations {
		s.emit(&model.Event{
			Type:      model.EventInvestigationResult,
			GameID:    s.id,
			Recipient: inv.InvestigatorID,
			Payload: map[string]any{
				"target_id": inv.TargetID,
				"is_mafia":  inv.IsMafia,
			},
		})
	}

	if outcome, ended := s.checkWin(); ended {
		s.finish(outcome)
		return
	}
	s.enterPhase(model.PhaseDayDiscussion)
}

func (s *Session) resolveVotePhase() {
	votes := make([]model.Vote, 0, len(s.votes))
	for _, v := range s.votes {
		votes = append(votes, v)
	}

	result := ResolveVote(votes)

	payload := map[string]any{
		"counts":    result.Counts,
		"abstained": result.Abstained,
	}
	if result.EliminatedID != "" {
		payload["eliminated"] = result.EliminatedID
	}
	s.emit(&model.Event{Type: model.EventVotingResults, GameID: s.id, Payload: payload})

	if result.EliminatedID != "" {
		s.kill(result.EliminatedID, model.DeathReasonVotedOut, s.day)
	}

	if outcome, ended := s.checkWin(); ended {
		s.finish(outcome)
		return
	}
	s.enterPhase(model.PhaseResolution)
}

// kill はプレイヤーを死亡させ、役職を公開してeliminatedイベントを発行する。
func (s *Session) kill(userID string, reason model.DeathReason, day int) {
	p, ok := s.players[userID]
	if !ok || !p.Alive {
		return
	}
	p.Alive = false
	p.DeathReason = reason
	p.DeathDay = day
	p.Revealed = true

	if t, ok := s.afkTimers[userID]; ok {
		t.Stop()
		delete(s.afkTimers, userID)
	}

	s.emit(&model.Event{
		Type:   model.EventEliminated,
		GameID: s.id,
		Payload: map[string]any{
			"user_id": userID,
			"reason":  string(reason),
			"role":    string(p.Role),
		},
	})
}

func (s *Session) afkExpired(userID string) {
	p, ok := s.players[userID]
	if !ok || p.Connected || !p.Alive || s.phase == model.PhaseGameEnded {
		return
	}
	delete(s.afkTimers, userID)
	s.kill(userID, model.DeathReasonAFK, s.day)

	if outcome, ended := s.checkWin(); ended {
		s.finish(outcome)
		return
	}

	// 脱落により残り全員が提出済みになった場合はフェーズを閉じる。
	switch s.phase {
	case model.PhaseNight:
		if s.allActorsSubmitted() {
			s.closePhase()
		}
	case model.PhaseDayVote:
		if s.allVotersSubmitted() {
			s.closePhase()
		}
	}
}

// checkWin は全解決後に勝敗を判定する。
func (s *Session) checkWin() (model.Outcome, bool) {
	mafia, citizens := 0, 0
	for _, p := range s.players {
		if !p.Alive {
			continue
		}
		if p.Role.Faction() == model.FactionMafia {
			mafia++
		} else {
			citizens++
		}
	}

	switch {
	case mafia == 0:
		return model.Outcome{Winner: model.FactionCitizens}, true
	case citizens == 0:
		return model.Outcome{Winner: model.FactionMafia}, true
	case s.cfg.MafiaWinsAtParity && mafia >= citizens:
		return model.Outcome{Winner: model.FactionMafia}, true
	case s.cfg.MaxDays > 0 && s.day >= s.cfg.MaxDays:
		return model.Outcome{Draw: true}, true
	}
	return model.Outcome{}, false
}

// finish はゲームを終了状態にし、役職を全公開して報酬を台帳へ送信する。
func (s *Session) finish(outcome model.Outcome) {
	if s.phase == model.PhaseGameEnded {
		panic("finish called twice")
	}
	s.phase = model.PhaseGameEnded
	s.epoch++
	s.outcome = &outcome
	s.stopTimers()

	roles := make(map[string]any, len(s.players))
	for id, p := range s.players {
		p.Revealed = true
		roles[id] = string(p.Role)
	}

	rewards := s.computeRewards(outcome)
	rewardPayload := make(map[string]any, len(rewards))
	for id, amount := range rewards {
		rewardPayload[id] = amount
	}

	payload := map[string]any{
		"draw":    outcome.Draw,
		"roles":   roles,
		"rewards": rewardPayload,
	}
	if !outcome.Draw {
		payload["winner"] = string(outcome.Winner)
	}
	s.emit(&model.Event{Type: model.EventGameEnded, GameID: s.id, Payload: payload})

	s.submitRewards(rewards)
	s.saveSnapshot()

	winnerLabel := "draw"
	if !outcome.Draw {
		winnerLabel = string(outcome.Winner)
	}
	if s.mets != nil {
		s.mets.RecordGameEnded(winnerLabel)
	}
	s.logger.Info("ゲームが終了しました",
		slog.String("game_id", s.id),
		slog.String("winner", winnerLabel),
		slog.Int("day", s.day),
	)

	if s.onEnd != nil {
		s.onEnd(s.id)
	}
}

// computeRewards は参加報酬＋勝利ボーナスを計算する。引き分けは参加報酬のみ。
func (s *Session) computeRewards(outcome model.Outcome) map[string]int64 {
	rewards := make(map[string]int64, len(s.players))
	for id, p := range s.players {
		amount := s.cfg.BaseReward
		if !outcome.Draw && p.Role.Faction() == outcome.Winner {
			amount += s.cfg.WinBonus
		}
		rewards[id] = amount
	}
	return rewards
}

// submitRewards は報酬トランザクションを台帳へ送信する。
// 冪等キーがgameID+種別+playerIDで決まるため、再送しても二重適用されない。
func (s *Session) submitRewards(rewards map[string]int64) {
	if s.ledger == nil {
		return
	}
	txs := make([]*model.Transaction, 0, len(rewards))
	for id, amount := range rewards {
		txs = append(txs, &model.Transaction{
			IdempotencyKey: fmt.Sprintf("%s:%s:%s", s.id, model.ReasonGameReward, id),
			UserID:         id,
			Amount:         amount,
			Reason:         model.ReasonGameReward,
			Status:         model.TxStatusPending,
		})
	}

	// 台帳書き込みでセッションのコマンド処理を塞がない。
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, tx := range txs {
			if _, err := s.ledger.Apply(ctx, tx); err != nil {
				s.logger.Error("報酬トランザクションの適用に失敗しました",
					slog.String("game_id", s.id),
					slog.String("user_id", tx.UserID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

func (s *Session) allActorsSubmitted() bool {
	for _, p := range s.players {
		if p.Alive && p.Role.NightCapability() != "" {
			if _, ok := s.actions[p.UserID]; !ok {
				return false
			}
		}
	}
	return true
}

func (s *Session) allVotersSubmitted() bool {
	for _, p := range s.players {
		if p.Alive {
			if _, ok := s.votes[p.UserID]; !ok {
				return false
			}
		}
	}
	return true
}

func (s *Session) aliveIDs() []string {
	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.players[id].Alive {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Session) emit(ev *model.Event) {
	if s.sink != nil {
		s.sink.Publish(ev)
	}
}

// roleDescriptions は配役通知に添える役職説明。
var roleDescriptions = map[model.Role]string{
	model.RoleCitizen:   "あなたは市民です。マフィアを見つけ出して追放してください。",
	model.RoleMafia:     "あなたはマフィアです。夜ごとに1人を襲撃できます。",
	model.RoleDoctor:    "あなたは医者です。夜ごとに1人を襲撃から守れます。",
	model.RoleDetective: "あなたは探偵です。夜ごとに1人の陣営を調査できます。",
	model.RoleEscort:    "あなたは娼婦です。夜ごとに1人の行動を妨害できます。",
}
