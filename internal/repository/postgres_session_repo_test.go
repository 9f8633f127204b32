package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/paddock/internal/model"
)

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

func TestPostgresPendingSignupRepo_ImplementsInterface(t *testing.T) {
	var _ PendingSignupRepository = (*PostgresPendingSignupRepo)(nil)
}

func TestPostgresSessionRepo_Rotate_RecordsReplacement(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewPostgresSessionRepo(db)
	user := createSessionUser(t, NewPostgresUserRepo(db), NewPostgresPendingSignupRepo(db), "rotator")

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := sessions.Create(ctx, &model.Session{ID: "s-1", UserID: user.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	graceUntil := now.Add(time.Minute)
	next := &model.Session{ID: "s-2", UserID: user.ID, ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now}
	if err := sessions.Rotate(ctx, "s-1", next, graceUntil); err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}

	old, err := sessions.FindByID(ctx, "s-1")
	if err != nil || old == nil {
		t.Fatalf("old session should remain during the grace period: %+v, %v", old, err)
	}
	if old.ReplacedBy != "s-2" {
		t.Errorf("ReplacedBy = %q, want s-2", old.ReplacedBy)
	}
	if !old.ExpiresAt.Equal(graceUntil) {
		t.Errorf("old ExpiresAt = %v, want %v", old.ExpiresAt, graceUntil)
	}
	if got, _ := sessions.FindByID(ctx, "s-2"); got == nil || got.IsReplaced() {
		t.Errorf("new session should exist unreplaced, got %+v", got)
	}

	// 既に更新済みのIDでは何も作成されない
	err = sessions.Rotate(ctx, "s-1", &model.Session{ID: "s-3", UserID: user.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}, graceUntil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if got, _ := sessions.FindByID(ctx, "s-3"); got != nil {
		t.Error("session must not be created when the old one was already replaced")
	}

	// 猶予期間が過ぎた旧セッションは掃除対象になる
	n, err := sessions.DeleteExpired(ctx, graceUntil)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired = %d, want 1", n)
	}
}

func TestPostgresSessionRepo_Rotate_MissingSession_ReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	sessions := NewPostgresSessionRepo(db)

	now := time.Now().UTC()
	err := sessions.Rotate(context.Background(), "missing", &model.Session{ID: "s-x", UserID: "00000000-0000-0000-0000-000000000000", ExpiresAt: now.Add(time.Hour), CreatedAt: now}, now)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestPostgresSessionRepo_DeleteByUserID_RemovesAll(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewPostgresSessionRepo(db)
	user := createSessionUser(t, NewPostgresUserRepo(db), NewPostgresPendingSignupRepo(db), "everywhere")

	now := time.Now().UTC()
	for _, id := range []string{"s-a", "s-b"} {
		if err := sessions.Create(ctx, &model.Session{ID: id, UserID: user.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	if err := sessions.DeleteByUserID(ctx, user.ID); err != nil {
		t.Fatalf("DeleteByUserID returned error: %v", err)
	}
	for _, id := range []string{"s-a", "s-b"} {
		if got, _ := sessions.FindByID(ctx, id); got != nil {
			t.Errorf("session %s should be deleted", id)
		}
	}

	// 存在しないセッションの削除はエラーにならない
	if err := sessions.DeleteByID(ctx, "s-a"); err != nil {
		t.Errorf("DeleteByID on missing session returned error: %v", err)
	}
}

func TestPostgresPendingSignupRepo_DeleteExpired(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	pendings := NewPostgresPendingSignupRepo(db)

	now := time.Now().UTC()
	seedPending(t, pendings, "p-live", "g-live", now.Add(time.Hour))
	seedPending(t, pendings, "p-dead", "g-dead", now.Add(-time.Second))

	n, err := pendings.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired = %d, want 1", n)
	}
	if got, _ := pendings.FindByID(ctx, "p-live"); got == nil {
		t.Error("live pending signup should remain")
	}
}
