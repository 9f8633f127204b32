package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/paddock/internal/model"
)

// PostgresPendingSignupRepo はPostgreSQLを使用した登録待ちリポジトリ。
// 消費（削除）はユーザー作成と同じトランザクションで行うため PostgresUserRepo.CompleteSignup が担う。
type PostgresPendingSignupRepo struct {
	db *sql.DB
}

// NewPostgresPendingSignupRepo はPostgresPendingSignupRepoを生成する。
func NewPostgresPendingSignupRepo(db *sql.DB) *PostgresPendingSignupRepo {
	return &PostgresPendingSignupRepo{db: db}
}

// Create は登録待ちレコードを作成する。
func (r *PostgresPendingSignupRepo) Create(ctx context.Context, pending *model.PendingSignup) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_signups (id, provider_id, provider_user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		pending.ID, pending.ProviderID, pending.ProviderUserID, pending.ExpiresAt, pending.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pending signup: %w", err)
	}
	return nil
}

// FindByID は指定IDの登録待ちを取得する。見つからない場合はnilを返す。
func (r *PostgresPendingSignupRepo) FindByID(ctx context.Context, id string) (*model.PendingSignup, error) {
	pending := &model.PendingSignup{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider_id, provider_user_id, expires_at, created_at
		 FROM pending_signups
		 WHERE id = $1`,
		id,
	).Scan(&pending.ID, &pending.ProviderID, &pending.ProviderUserID, &pending.ExpiresAt, &pending.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending signup: %w", err)
	}

	return pending, nil
}

// DeleteExpired は失効済みの登録待ちを削除する。
func (r *PostgresPendingSignupRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_signups WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pending signups: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ PendingSignupRepository = (*PostgresPendingSignupRepo)(nil)
