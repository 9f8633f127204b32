// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/paddock/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// CompleteSignup は登録待ちの消費、ユーザー作成、identity作成を同一トランザクションで行う。
	// 登録待ちが存在しないか user.CreatedAt 時点で失効していれば ErrPendingSignupNotFound、
	// ユーザー名が重複していれば ErrUsernameTaken、
	// IdP側のアカウントが既に紐付いていれば ErrIdentityAlreadyLinked を返す。
	CompleteSignup(ctx context.Context, pendingID string, user *model.User) (*model.Identity, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はprovider_idとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, providerID, providerUserID string) (*model.Identity, error)

	// ListByUserID はユーザーに紐付く全identityを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れでも返すため、判定は呼び出し側で行う。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Rotate は新セッションを作成し、旧セッションに更新先を記録する。
	// 旧セッションの有効期限は graceUntil までに短縮される。
	// 旧セッションが存在しないか既に更新済みの場合は ErrSessionNotFound を返し、何も作成しない。
	Rotate(ctx context.Context, oldID string, next *model.Session, graceUntil time.Time) error
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は指定時刻以前に失効したセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PendingSignupRepository は登録待ちレコードの永続化インターフェース。
type PendingSignupRepository interface {
	// Create は登録待ちレコードを作成する。
	Create(ctx context.Context, pending *model.PendingSignup) error
	// FindByID は指定IDの登録待ちを取得する。期限切れでも返す。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PendingSignup, error)
	// DeleteExpired は指定時刻以前に失効した登録待ちを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OAuthStateRepository はOAuth stateの使い捨て管理のインターフェース。
type OAuthStateRepository interface {
	// Consume はstateを使用済みとして記録する。
	// 初回はtrue、既に使用済みならfalseを返す。
	Consume(ctx context.Context, state string, ttl time.Duration) (bool, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
