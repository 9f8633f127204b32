package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn       func(ctx context.Context, id string) (*model.User, error)
	findByUsernameFn func(ctx context.Context, username string) (*model.User, error)
	completeSignupFn func(ctx context.Context, pendingID string, user *model.User) (*model.Identity, error)
	deleteByIDFn     func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) CompleteSignup(ctx context.Context, pendingID string, user *model.User) (*model.Identity, error) {
	if m.completeSignupFn != nil {
		return m.completeSignupFn(ctx, pendingID, user)
	}
	return nil, nil
}

func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, providerID, providerUserID string) (*model.Identity, error)
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, providerID, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, providerID, providerUserID)
	}
	return nil, nil
}

func (m *mockIdentityRepo) ListByUserID(_ context.Context, _ string) ([]*model.Identity, error) {
	return nil, nil
}

type mockPendingSignupRepo struct {
	createFn   func(ctx context.Context, pending *model.PendingSignup) error
	findByIDFn func(ctx context.Context, id string) (*model.PendingSignup, error)
}

func (m *mockPendingSignupRepo) Create(ctx context.Context, pending *model.PendingSignup) error {
	if m.createFn != nil {
		return m.createFn(ctx, pending)
	}
	return nil
}

func (m *mockPendingSignupRepo) FindByID(ctx context.Context, id string) (*model.PendingSignup, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPendingSignupRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockOAuthStateRepo struct {
	consumeFn func(ctx context.Context, state string, ttl time.Duration) (bool, error)
}

func (m *mockOAuthStateRepo) Consume(ctx context.Context, state string, ttl time.Duration) (bool, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, state, ttl)
	}
	return true, nil
}

type mockOAuthProvider struct {
	name          string
	authCodeURLFn func(state, codeVerifier string) string
	exchangeFn    func(ctx context.Context, code, codeVerifier string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) Name() string {
	if m.name == "" {
		return GoogleProviderID
	}
	return m.name
}

func (m *mockOAuthProvider) AuthCodeURL(state, codeVerifier string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state, codeVerifier)
	}
	return "https://idp.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) Exchange(ctx context.Context, code, codeVerifier string) (*OAuthUserInfo, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, codeVerifier)
	}
	return nil, nil
}

type mockSessionCreator struct {
	createSessionFn func(ctx context.Context, userID string) (*model.Session, error)
}

func (m *mockSessionCreator) CreateSession(ctx context.Context, userID string) (*model.Session, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, userID)
	}
	return &model.Session{ID: "session-for-" + userID, UserID: userID, Fresh: true}, nil
}

// spyRecorder は記録されたメトリクスを保持する。
type spyRecorder struct {
	mu               sync.Mutex
	logins           []string
	signupsStarted   []string
	signupsCompleted int
	failures         []string
	renewals         int
}

func (r *spyRecorder) RecordLogin(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, provider)
}

func (r *spyRecorder) RecordSignupStarted(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signupsStarted = append(r.signupsStarted, provider)
}

func (r *spyRecorder) RecordSignupCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signupsCompleted++
}

func (r *spyRecorder) RecordCallbackFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

func (r *spyRecorder) RecordSessionRenewed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renewals++
}

// memSessionRepo はメモリ上のセッションリポジトリ。更新の一連の流れを検証するために使う。
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*model.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Fresh = false
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) Rotate(_ context.Context, oldID string, next *model.Session, graceUntil time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.sessions[oldID]
	if !ok || old.IsReplaced() {
		return repository.ErrSessionNotFound
	}
	old.ReplacedBy = next.ID
	old.ReplacedAt = next.CreatedAt
	if graceUntil.Before(old.ExpiresAt) {
		old.ExpiresAt = graceUntil
	}
	cp := *next
	cp.Fresh = false
	r.sessions[next.ID] = &cp
	return nil
}

func (r *memSessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *memSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.IsExpired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ repository.PendingSignupRepository = (*mockPendingSignupRepo)(nil)
var _ repository.OAuthStateRepository = (*mockOAuthStateRepo)(nil)
var _ repository.SessionRepository = (*memSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ SessionCreator = (*mockSessionCreator)(nil)
var _ Recorder = (*spyRecorder)(nil)
