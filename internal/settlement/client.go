// Package settlement は外部決済ゲートウェイのHTTPクライアントを提供する。
//
// 出金処理ワーカーはこのクライアント経由で送金を依頼し、確認状態を照会する。
// ゲートウェイ側が冪等キーとして出金IDを受け取るため、同一出金の再送信が
// 二重送金になることはない。
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
)

// Status は外部決済の処理状態。
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// SubmitResult は送金依頼の応答。
type SubmitResult struct {
	TxHash string `json:"tx_hash"`
}

// StatusResult は送金状態照会の応答。
type StatusResult struct {
	Status Status `json:"status"`
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// RetryableError は一時的な失敗を表す。再試行で成功する可能性がある。
type RetryableError struct {
	msg string
}

func (e *RetryableError) Error() string { return e.msg }

// PermanentError は恒久的な失敗を表す。再試行しても成功しない。
type PermanentError struct {
	msg string
}

func (e *PermanentError) Error() string { return e.msg }

// Client は決済ゲートウェイのHTTPクライアント。
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SubmitTransfer は出金リクエストをゲートウェイへ送信する。
// 出金IDが冪等キーになるため、同一リクエストの再送信は安全。
func (c *Client) SubmitTransfer(ctx context.Context, w *model.Withdrawal) (*SubmitResult, error) {
	body, err := json.Marshal(map[string]any{
		"withdrawal_id": w.ID,
		"destination":   w.Destination,
		"amount":        w.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("送金リクエストの組み立てに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{msg: fmt.Sprintf("決済ゲートウェイへの接続に失敗しました: %s", err.Error())}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	result := &SubmitResult{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(result); err != nil {
		return nil, &RetryableError{msg: fmt.Sprintf("送金応答の読み取りに失敗しました: %s", err.Error())}
	}
	return result, nil
}

// GetTransferStatus は送金の確認状態を照会する。
func (c *Client) GetTransferStatus(ctx context.Context, withdrawalID string) (*StatusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/transfers/"+withdrawalID, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{msg: fmt.Sprintf("決済ゲートウェイへの接続に失敗しました: %s", err.Error())}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	result := &StatusResult{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(result); err != nil {
		return nil, &RetryableError{msg: fmt.Sprintf("状態応答の読み取りに失敗しました: %s", err.Error())}
	}
	return result, nil
}

// classifyStatus はHTTPステータスコードを再試行可能/恒久エラーに分類する。
// 429と5xxは一時的、その他の4xxは恒久エラーとして扱う。
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &RetryableError{msg: fmt.Sprintf("決済ゲートウェイが一時エラーを返しました: HTTP %d", resp.StatusCode)}
	default:
		return &PermanentError{msg: fmt.Sprintf("決済ゲートウェイがリクエストを拒否しました: HTTP %d", resp.StatusCode)}
	}
}
