// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ChatSanitizerService はチャットメッセージをサニタイズし、
// XSS攻撃などのセキュリティリスクから他の参加者を保護する。
// bluemondayライブラリのStrictPolicyをベースに、チャット本文から
// すべてのHTMLタグを除去してプレーンテキストのみを通過させる。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxChatMessageLength はチャット1メッセージの最大文字数。
const MaxChatMessageLength = 500

// ChatSanitizerService はチャットメッセージのサニタイズ機能のインターフェースを定義する。
// ブローカー経由の受信チャットをセッションへ渡す前に使用される。
type ChatSanitizerService interface {
	// Sanitize はチャットメッセージをサニタイズして安全なテキストを返す。
	// すべてのHTMLタグを除去し、前後の空白を削り、最大長を超える部分を切り詰める。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// chatSanitizer はChatSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type chatSanitizer struct {
	policy *bluemonday.Policy
}

// NewChatSanitizer はChatSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはタグを一切許可しないため、チャット本文はプレーンテキストになる。
func NewChatSanitizer() *chatSanitizer {
	return &chatSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はチャットメッセージをサニタイズして安全なテキストを返す。
func (s *chatSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := strings.TrimSpace(s.policy.Sanitize(raw))
	if runes := []rune(cleaned); len(runes) > MaxChatMessageLength {
		cleaned = string(runes[:MaxChatMessageLength])
	}
	return cleaned
}

// compile-time interface check
var _ ChatSanitizerService = (*chatSanitizer)(nil)
