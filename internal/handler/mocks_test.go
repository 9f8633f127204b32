package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/paddock/internal/auth"
	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/user"
)

const (
	testSessionCookie = "auth_session"
	testSessionID     = "valid-session-id"
	testUserID        = "user-123"
)

// --- モック定義 ---

type mockLoginService struct {
	providers        []string
	beginLoginFn     func(ctx context.Context, providerID, next string) (*auth.LoginStart, error)
	handleCallbackFn func(ctx context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error)
}

func (m *mockLoginService) Providers() []string {
	if m.providers == nil {
		return []string{"google"}
	}
	return m.providers
}

func (m *mockLoginService) BeginLogin(ctx context.Context, providerID, next string) (*auth.LoginStart, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn(ctx, providerID, next)
	}
	return &auth.LoginStart{
		AuthURL:     "https://idp.example.com/authorize?state=s",
		StateCookie: "signed-state",
		MaxAge:      10 * time.Minute,
	}, nil
}

func (m *mockLoginService) HandleCallback(ctx context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, req)
	}
	return nil, &auth.AuthError{Reason: auth.ReasonMissingCode}
}

type mockSignupService struct {
	lookupPendingFn  func(ctx context.Context, key string) (*model.PendingSignup, error)
	completeSignupFn func(ctx context.Context, in auth.SignupInput) (*auth.SignupResult, error)
}

func (m *mockSignupService) LookupPending(ctx context.Context, key string) (*model.PendingSignup, error) {
	if m.lookupPendingFn != nil {
		return m.lookupPendingFn(ctx, key)
	}
	return nil, auth.ErrPendingSignupNotFound
}

func (m *mockSignupService) CompleteSignup(ctx context.Context, in auth.SignupInput) (*auth.SignupResult, error) {
	if m.completeSignupFn != nil {
		return m.completeSignupFn(ctx, in)
	}
	return nil, auth.ErrPendingSignupNotFound
}

// mockSessionStore はSessionStoreのモック実装。
// testSessionID のみ有効なセッションとして扱う。
type mockSessionStore struct {
	mu                 sync.Mutex
	invalidated        []string
	invalidatedUsers   []string
	invalidateErr      error
	invalidateUsersErr error
}

func (m *mockSessionStore) CookieName() string { return testSessionCookie }

func (m *mockSessionStore) ValidateSession(ctx context.Context, sessionID string) (*auth.SessionResult, error) {
	if sessionID != testSessionID {
		return nil, nil
	}
	return &auth.SessionResult{
		User:    testUser(),
		Session: &model.Session{ID: testSessionID, UserID: testUserID, ExpiresAt: time.Now().Add(time.Hour)},
	}, nil
}

func (m *mockSessionStore) InvalidateSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, sessionID)
	return m.invalidateErr
}

func (m *mockSessionStore) InvalidateUserSessions(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidatedUsers = append(m.invalidatedUsers, userID)
	return m.invalidateUsersErr
}

func (m *mockSessionStore) SessionCookie(session *model.Session) *http.Cookie {
	return &http.Cookie{
		Name:     testSessionCookie,
		Value:    session.ID,
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *mockSessionStore) BlankSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     testSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

type mockUserService struct {
	getProfileFn func(ctx context.Context, userID string) (*user.Profile, error)
	withdrawFn   func(ctx context.Context, userID string) error
}

func (m *mockUserService) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return &user.Profile{User: testUser()}, nil
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

var (
	_ LoginService         = (*mockLoginService)(nil)
	_ SignupService        = (*mockSignupService)(nil)
	_ SessionStore         = (*mockSessionStore)(nil)
	_ UserServiceInterface = (*mockUserService)(nil)
)

// --- ヘルパー ---

func testUser() *model.User {
	return &model.User{
		ID:        testUserID,
		Username:  "alice",
		Staff:     true,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// withSession はセッションミドルウェアを通過した状態のリクエストを返す。
func withSession(req *http.Request) *http.Request {
	ctx := middleware.ContextWithSession(req.Context(), testUser(), &model.Session{
		ID:     testSessionID,
		UserID: testUserID,
	})
	return req.WithContext(ctx)
}

// findCookie はレスポンス中で最後に設定された指定名のCookieを返す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusFound, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}
