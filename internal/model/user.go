// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// MFASecretはbase32エンコードされたTOTPシークレット。
// 未登録の場合は空文字列で、MFAEnabled == true のとき必ず非空となる。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	MFAEnabled   bool
	MFASecret    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// 1回のログイン成功につき1レコード作成され、以降更新されない。
// 有効期限カラムは持たず、レコードの存在とリフレッシュトークン自体の
// 有効期限の組み合わせで生存を判定する。
type Session struct {
	ID        string
	UserID    string
	UserAgent string
	CreatedAt time.Time
}
