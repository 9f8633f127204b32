package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

// SignupConfig はユーザー登録の設定。
type SignupConfig struct {
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// SignupInput は登録フォームの入力。
type SignupInput struct {
	NewUserKey string
	Username   string
}

// Validate は入力を正規化して検証する。
func (in *SignupInput) Validate() error {
	in.Username = NormalizeUsername(in.Username)
	return ValidateUsername(in.Username)
}

// SignupResult はユーザー登録の結果。
type SignupResult struct {
	User    *model.User
	Session *model.Session
}

// SignupService は登録待ちからのユーザー登録を行う。
type SignupService struct {
	users    repository.UserRepository
	pendings repository.PendingSignupRepository
	sessions SessionCreator
	metrics  Recorder
	now      func() time.Time
}

// NewSignupService はSignupServiceを生成する。
func NewSignupService(
	users repository.UserRepository,
	pendings repository.PendingSignupRepository,
	sessions SessionCreator,
	metrics Recorder,
	config SignupConfig,
) *SignupService {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &SignupService{
		users:    users,
		pendings: pendings,
		sessions: sessions,
		metrics:  recorderOrNop(metrics),
		now:      config.Now,
	}
}

// LookupPending は登録待ちを取得する。
// 存在しないか失効している場合は ErrPendingSignupNotFound を返す。
func (s *SignupService) LookupPending(ctx context.Context, key string) (*model.PendingSignup, error) {
	if key == "" {
		return nil, ErrPendingSignupNotFound
	}

	pending, err := s.pendings.FindByID(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending signup: %w", err)
	}
	if pending == nil || pending.IsExpired(s.now()) {
		return nil, ErrPendingSignupNotFound
	}
	return pending, nil
}

// CompleteSignup はユーザー名を検証し、ユーザーとidentityを作成して登録待ちを消費し、
// セッションを発行する。
//
// 入力の不備は *ValidationError、登録待ちの不在・失効は ErrPendingSignupNotFound を返す。
// それ以外の失敗では登録待ちはそのまま残るため、同じキーで再試行できる。
func (s *SignupService) CompleteSignup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.LookupPending(ctx, in.NewUserKey); err != nil {
		return nil, err
	}

	// 事前確認は参考程度で、最終判定はDBの一意制約が行う
	existing, err := s.users.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, usernameTakenError()
	}

	now := s.now()
	user := &model.User{
		ID:        uuid.NewString(),
		Username:  in.Username,
		CreatedAt: now,
		UpdatedAt: now,
	}

	identity, err := s.users.CompleteSignup(ctx, in.NewUserKey, user)
	switch {
	case errors.Is(err, repository.ErrUsernameTaken):
		return nil, usernameTakenError()
	case errors.Is(err, repository.ErrPendingSignupNotFound):
		return nil, ErrPendingSignupNotFound
	case errors.Is(err, repository.ErrIdentityAlreadyLinked):
		return nil, ErrIdentityAlreadyLinked
	case err != nil:
		return nil, fmt.Errorf("failed to complete signup: %w", err)
	}

	session, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordSignupCompleted()
	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", identity.ProviderID),
	)

	return &SignupResult{User: user, Session: session}, nil
}

func usernameTakenError() error {
	return &ValidationError{
		Field:   "username",
		Message: "このユーザー名は既に使われています",
		Err:     ErrUsernameTaken,
	}
}
