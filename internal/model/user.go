// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Username は大文字小文字を区別せず一意。
type User struct {
	ID        string
	Username  string
	Admin     bool
	Staff     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPのアカウントとユーザーの紐付けを表す。
// (ProviderID, ProviderUserID) の組は高々1人のユーザーにのみ対応する。
type Identity struct {
	ProviderID     string
	ProviderUserID string
	UserID         string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time

	// ReplacedBy は更新後のセッションID。更新前のセッションにのみ設定され、
	// その場合 ExpiresAt は猶予期間の終わりまで短縮されている。
	ReplacedBy string
	ReplacedAt time.Time

	// Fresh は発行または更新直後のセッションであることを示す。
	// 永続化されず、Cookieの再発行が必要かどうかの判定にのみ使う。
	Fresh bool
}

// IsExpired は指定時刻の時点でセッションが失効しているかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsReplaced は新しいIDへ更新済みのセッションかを返す。
func (s *Session) IsReplaced() bool {
	return s.ReplacedBy != ""
}

// PendingSignup はIdP認証済みだがユーザー未作成の一時状態を表す。
// ID は登録画面の new_user_key として使われる。
type PendingSignup struct {
	ID             string
	ProviderID     string
	ProviderUserID string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// IsExpired は指定時刻の時点で登録待ちが失効しているかを返す。
func (p *PendingSignup) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
