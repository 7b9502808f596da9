// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証情報ストアに登録されたユーザーを表す。
// ログイン成功時にリクエストへ紐付く認証済みアイデンティティとしても使用する。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// 同一ユーザーが複数のセッションを同時に持つことを許容する。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
