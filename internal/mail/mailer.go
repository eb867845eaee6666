// Package mail はユーザー向け通知メールの送信を抽象化する。
package mail

import (
	"context"
	"log/slog"
)

// Mailer は通知メールの送信インターフェース。
// 送信失敗は呼び出し元の処理を妨げない前提で実装する。
type Mailer interface {
	SendWelcome(ctx context.Context, email, name string) error
}

// LogMailer は実際の送信を行わず、送信内容をログに記録する実装。
// SMTP設定を持たない環境の既定実装として使用する。
type LogMailer struct{}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// SendWelcome は登録完了メールの送信をログに記録する。
func (m *LogMailer) SendWelcome(_ context.Context, email, name string) error {
	slog.Info("welcome mail (log only)",
		slog.String("to", email),
		slog.String("name", name),
	)
	return nil
}
