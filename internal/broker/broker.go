// Package broker はWebSocket接続とゲームセッションの橋渡しを行う。
//
// ユーザーごとのイベントストリームに単調増加のシーケンス番号を振り、直近の
// イベントをリングバッファに保持する。再接続時はクライアントが最後に受信した
// シーケンス番号を申告し、欠落分だけが再送される。バッファ範囲を超えて欠落
// していた場合は全量状態同期にフォールバックする。
//
// 遅いクライアントへの配送がゲーム進行を遅らせることはない。送信キューが
// あふれた接続は切断され、クライアントは再接続と再送で追いつく。
package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/mafiman/internal/model"
)

// Config はブローカーの動作設定。
type Config struct {
	// EventBufferSize はユーザーごとの再送用リングバッファの長さ。
	EventBufferSize int
	// SendQueueSize は接続ごとの送信キューの長さ。あふれた接続は切断される。
	SendQueueSize int
	PingInterval  time.Duration
	PongTimeout   time.Duration
	WriteTimeout  time.Duration
}

// CommandSink はクライアントからの受信メッセージの投入先インターフェース。
type CommandSink interface {
	SubmitAction(ctx context.Context, gameID, userID string, kind model.ActionKind, targetID string) error
	SubmitVote(ctx context.Context, gameID, userID, targetID string) error
	Chat(ctx context.Context, gameID, userID, text string) error
}

// Presence は接続状態変化のセッションへの通知インターフェース。
type Presence interface {
	PlayerConnected(gameID, userID string)
	PlayerDisconnected(gameID, userID string)
}

// StateProvider は全量状態同期用の状態取得インターフェース。
type StateProvider interface {
	StateFor(ctx context.Context, gameID, userID string) (any, error)
}

// Metrics はブローカーのメトリクス記録インターフェース。
type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSReplay(events int)
}

// Deps はBrokerの外部依存をまとめた構造体。Metricsはnil可。
type Deps struct {
	Commands CommandSink
	Presence Presence
	States   StateProvider
	Metrics  Metrics
	Logger   *slog.Logger
}

// Envelope はWebSocketで送受信されるメッセージの外装。
// Seqはユーザーストリーム内で単調増加し、再接続時の欠落検出に使う。
// エラー通知などの非再送メッセージはSeq 0で送られる。
type Envelope struct {
	Seq     uint64         `json:"seq"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Broker はゲームごと・ユーザーごとのイベントストリームを所有する。
type Broker struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu    sync.RWMutex
	games map[string]*gameStreams
}

type gameStreams struct {
	mu    sync.Mutex
	users map[string]*stream
}

// stream は1ユーザー分の順序付きイベントストリーム。
type stream struct {
	mu     sync.Mutex
	seq    uint64
	buf    []*Envelope // 直近イベントのリングバッファ（seq昇順）
	client *client
}

// New はBrokerを生成する。
func New(cfg Config, deps Deps) *Broker {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 64
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 32
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Broker{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		games:  make(map[string]*gameStreams),
	}
}

// Publish はゲームセッションからのイベントを該当ストリームへ配る。
// Recipientが空のイベントはゲーム内全ユーザーへ、指定ありは当人のみに届く。
// ブロックしないことが保証される。
func (b *Broker) Publish(ev *model.Event) {
	b.mu.RLock()
	gs, ok := b.games[ev.GameID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	gs.mu.Lock()
	targets := make([]*stream, 0, len(gs.users))
	if ev.Recipient != "" {
		if st, ok := gs.users[ev.Recipient]; ok {
			targets = append(targets, st)
		}
	} else {
		for _, st := range gs.users {
			targets = append(targets, st)
		}
	}
	gs.mu.Unlock()

	for _, st := range targets {
		st.deliver(b, ev)
	}
}

// RegisterGame はゲーム開始時にストリーム台帳を用意し、参加者を登録する。
// 登録後は接続前のイベントもバッファに積まれ、初回接続時に再送される。
func (b *Broker) RegisterGame(gameID string, userIDs []string) {
	gs := &gameStreams{users: make(map[string]*stream, len(userIDs))}
	for _, id := range userIDs {
		gs.users[id] = &stream{}
	}
	b.mu.Lock()
	b.games[gameID] = gs
	b.mu.Unlock()
}

// CloseGame はゲーム破棄時に全接続を閉じてストリームを解放する。
func (b *Broker) CloseGame(gameID string) {
	b.mu.Lock()
	gs, ok := b.games[gameID]
	delete(b.games, gameID)
	b.mu.Unlock()
	if !ok {
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	for _, st := range gs.users {
		st.mu.Lock()
		if st.client != nil {
			st.client.close()
			st.client = nil
		}
		st.mu.Unlock()
	}
}

// deliver はイベントに次のシーケンス番号を振り、バッファへ積み、接続中なら送信する。
func (st *stream) deliver(b *Broker, ev *model.Event) {
	st.mu.Lock()
	st.seq++
	env := &Envelope{Seq: st.seq, Type: string(ev.Type), Payload: ev.Payload}

	st.buf = append(st.buf, env)
	if len(st.buf) > b.cfg.EventBufferSize {
		st.buf = st.buf[len(st.buf)-b.cfg.EventBufferSize:]
	}

	c := st.client
	st.mu.Unlock()

	if c == nil {
		return
	}
	if !c.trySend(env) {
		// 送信キューあふれ。接続を切って再接続と再送に任せる。
		b.logger.Warn("送信キューがあふれたため接続を切断します",
			slog.String("game_id", ev.GameID),
		)
		c.close()
	}
}

// Attach はアップグレード済みのWebSocket接続をユーザーストリームへ接続する。
// lastSeqはクライアントが最後に受信したシーケンス番号（初回接続は0）。
// 既存の接続がある場合は置き換える。ゲームが存在しない場合はfalseを返す。
func (b *Broker) Attach(ctx context.Context, conn *websocket.Conn, gameID, userID string, lastSeq uint64) bool {
	b.mu.RLock()
	gs, ok := b.games[gameID]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	gs.mu.Lock()
	st, ok := gs.users[userID]
	gs.mu.Unlock()
	if !ok {
		return false
	}

	c := newClient(conn, b.cfg, b.logger)

	// 再送のエンキューはロック内で行う。クライアント公開後にロックを手放してから
	// 積むと、並行配信のより新しいseqが再送より先にキューへ入り順序が壊れる。
	st.mu.Lock()
	replay, needSync := st.pendingSince(lastSeq)
	if !needSync {
		if st.client != nil {
			st.client.close()
		}
		st.client = c
		for _, env := range replay {
			c.trySend(env)
		}
		st.mu.Unlock()

		if b.deps.Metrics != nil {
			b.deps.Metrics.RecordWSReplay(len(replay))
		}
	} else {
		// バッファ範囲を超えて欠落していた場合は全量状態同期を先に送る。
		// 状態取得はブロックし得るためロック外で行い、取得中に到着した
		// イベントは同期後にバッファから続けて再送する。
		syncSeq := st.seq
		st.mu.Unlock()

		var syncEnv *Envelope
		if b.deps.States != nil {
			state, err := b.deps.States.StateFor(ctx, gameID, userID)
			if err == nil {
				syncEnv = &Envelope{
					Seq:     syncSeq,
					Type:    string(model.EventStateSync),
					Payload: map[string]any{"state": state},
				}
			} else {
				b.logger.Error("状態同期の取得に失敗しました",
					slog.String("game_id", gameID),
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
		}

		st.mu.Lock()
		if st.client != nil {
			st.client.close()
		}
		st.client = c
		if syncEnv != nil {
			c.trySend(syncEnv)
			tail, _ := st.pendingSince(syncSeq)
			for _, env := range tail {
				c.trySend(env)
			}
		}
		st.mu.Unlock()
	}

	if b.deps.Metrics != nil {
		b.deps.Metrics.IncWSConnections()
	}

	if b.deps.Presence != nil {
		b.deps.Presence.PlayerConnected(gameID, userID)
	}

	go c.writePump()
	go b.readPump(c, gameID, userID)
	go func() {
		<-c.done
		b.detach(st, c, gameID, userID)
	}()
	return true
}

// pendingSince はlastSeqより後のバッファ済みイベントを返す。
// バッファの先頭がすでにlastSeq+1を超えている場合は全量同期が必要。
func (st *stream) pendingSince(lastSeq uint64) ([]*Envelope, bool) {
	if lastSeq >= st.seq {
		return nil, false
	}
	if len(st.buf) == 0 || st.buf[0].Seq > lastSeq+1 {
		return nil, true
	}
	var out []*Envelope
	for _, env := range st.buf {
		if env.Seq > lastSeq {
			out = append(out, env)
		}
	}
	return out, false
}

func (b *Broker) detach(st *stream, c *client, gameID, userID string) {
	st.mu.Lock()
	if st.client == c {
		st.client = nil
	}
	current := st.client
	st.mu.Unlock()

	if b.deps.Metrics != nil {
		b.deps.Metrics.DecWSConnections()
	}
	// 別の接続に置き換わっていた場合は切断通知を出さない。
	if current == nil && b.deps.Presence != nil {
		b.deps.Presence.PlayerDisconnected(gameID, userID)
	}
}

// inboundMessage はクライアントからの受信メッセージ。
type inboundMessage struct {
	Type     string `json:"type"`
	Action   string `json:"action,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Text     string `json:"text,omitempty"`
}

// readPump はクライアントからの受信メッセージをコマンドへ変換して投入する。
func (b *Broker) readPump(c *client, gameID, userID string) {
	defer c.close()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(b.cfg.PingInterval + b.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(b.cfg.PingInterval + b.cfg.PongTimeout))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := b.dispatch(ctx, gameID, userID, &msg)
		cancel()

		if err != nil {
			c.trySend(&Envelope{
				Type:    "error",
				Payload: errorPayload(err),
			})
		}
	}
}

func (b *Broker) dispatch(ctx context.Context, gameID, userID string, msg *inboundMessage) error {
	switch msg.Type {
	case "action":
		return b.deps.Commands.SubmitAction(ctx, gameID, userID, model.ActionKind(msg.Action), msg.TargetID)
	case "vote":
		return b.deps.Commands.SubmitVote(ctx, gameID, userID, msg.TargetID)
	case "chat":
		return b.deps.Commands.Chat(ctx, gameID, userID, msg.Text)
	default:
		return model.NewIllegalActionError("未知のメッセージ種別です")
	}
}

func errorPayload(err error) map[string]any {
	if apiErr, ok := err.(*model.APIError); ok {
		return map[string]any{"code": apiErr.Code, "message": apiErr.Message}
	}
	return map[string]any{"code": "INTERNAL", "message": "内部エラーが発生しました"}
}
