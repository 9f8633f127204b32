// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo     repository.UserRepository
	identityRepo repository.IdentityRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	identityRepo repository.IdentityRepository,
) *Service {
	return &Service{
		userRepo:     userRepo,
		identityRepo: identityRepo,
	}
}

// Profile はユーザーと紐付いたIdPの一覧。
type Profile struct {
	User       *model.User
	Identities []*model.Identity
}

// GetProfile はユーザーと紐付いたIdPの一覧を返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	identities, err := s.identityRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("IdP紐付けの取得に失敗しました: %w", err)
	}

	return &Profile{User: user, Identities: identities}, nil
}

// Withdraw はユーザーの退会処理を実行する。
// ユーザー行の削除は1文で行い、sessionsとidentitiesはON DELETE CASCADEで同時に消える。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
