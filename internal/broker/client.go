package broker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client は1本のWebSocket接続を表す。
// 送信はwritePumpゴルーチンに集約され、接続への書き込みが競合することはない。
type client struct {
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	send chan *Envelope
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, cfg Config, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		send:   make(chan *Envelope, cfg.SendQueueSize),
		done:   make(chan struct{}),
	}
}

// trySend は送信キューへの投入を試みる。キューが満杯ならfalseを返す。
func (c *client) trySend(env *Envelope) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// close は接続を閉じる。複数回呼んでも安全。
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump は送信キューのメッセージと定期Pingを接続へ書き込む。
func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
