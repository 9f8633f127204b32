package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

// セッションの既定値
const (
	DefaultSessionTTL        = 30 * 24 * time.Hour
	DefaultSessionCookieName = "auth_session"

	// RotationGracePeriod は更新前のセッションIDが更新後のセッションに解決される期間。
	// 更新前のCookieを持った並行リクエストがログアウト扱いにならないようにする。
	RotationGracePeriod = time.Minute
)

// SessionConfig はセッション管理の設定。
type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	CookieDomain string
	CookieSecure bool

	// Now は現在時刻を返す。テストで差し替える。nilの場合はtime.Now。
	Now func() time.Time
}

// SessionCreator はセッションを発行する。
// OAuthコールバックと登録完了処理が依存する。
type SessionCreator interface {
	CreateSession(ctx context.Context, userID string) (*model.Session, error)
}

// SessionResult はセッション検証の結果。
// Cookie がnilでない場合、呼び出し側はレスポンスにCookieを書き戻す必要がある。
type SessionResult struct {
	Session *model.Session
	User    *model.User
	Cookie  *http.Cookie
}

// SessionManager はセッションの発行、検証、更新、破棄を行う。
// Cookieの書き込みは行わず、書き込むべきCookieを返すだけにとどめる。
type SessionManager struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	config   SessionConfig
	metrics  Recorder
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	config SessionConfig,
	metrics Recorder,
) *SessionManager {
	if config.TTL <= 0 {
		config.TTL = DefaultSessionTTL
	}
	if config.CookieName == "" {
		config.CookieName = DefaultSessionCookieName
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &SessionManager{
		sessions: sessions,
		users:    users,
		config:   config,
		metrics:  recorderOrNop(metrics),
	}
}

// CookieName はセッションCookie名を返す。
func (m *SessionManager) CookieName() string {
	return m.config.CookieName
}

// CreateSession はユーザーに新しいセッションを発行する。
// 返すセッションはFreshで、呼び出し側はCookieを発行する必要がある。
func (m *SessionManager) CreateSession(ctx context.Context, userID string) (*model.Session, error) {
	session, err := m.newSession(userID)
	if err != nil {
		return nil, err
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// ValidateSession はセッションIDを検証する。
// セッションが存在しない、失効している、またはユーザーが存在しない場合は (nil, nil) を返す。
// 残り有効期間がTTLの半分を下回っていれば新しいIDでセッションを更新し、Cookieを返す。
// 更新前のIDは猶予期間の間、同じ更新後セッションとそのCookieを返し続ける。
func (m *SessionManager) ValidateSession(ctx context.Context, sessionID string) (*SessionResult, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := m.findLive(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}
	if session.IsReplaced() {
		return m.resolveReplacement(ctx, session)
	}

	user, err := m.sessionUser(ctx, session)
	if err != nil || user == nil {
		return nil, err
	}

	result := &SessionResult{Session: session, User: user}
	now := m.config.Now()
	if session.ExpiresAt.Sub(now) >= m.config.TTL/2 {
		return result, nil
	}

	renewed, err := m.newSession(user.ID)
	if err != nil {
		return nil, err
	}
	if err := m.sessions.Rotate(ctx, session.ID, renewed, now.Add(RotationGracePeriod)); err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return nil, fmt.Errorf("failed to rotate session: %w", err)
		}
		// 並行リクエストが先に更新済み。その更新結果に合わせる
		latest, err := m.findLive(ctx, session.ID)
		if err != nil || latest == nil || !latest.IsReplaced() {
			return nil, err
		}
		return m.resolveReplacement(ctx, latest)
	}

	m.metrics.RecordSessionRenewed()
	slog.Info("session renewed", slog.String("user_id", user.ID))

	result.Session = renewed
	result.Cookie = m.SessionCookie(renewed)
	return result, nil
}

// findLive はセッションを取得する。失効済みなら削除してnilを返す。
func (m *SessionManager) findLive(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	if session.IsExpired(m.config.Now()) {
		if err := m.sessions.DeleteByID(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return nil, nil
	}
	return session, nil
}

// sessionUser はセッションのユーザーを取得する。ユーザーが削除済みならセッションも削除してnilを返す。
func (m *SessionManager) sessionUser(ctx context.Context, session *model.Session) (*model.User, error) {
	user, err := m.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		if err := m.sessions.DeleteByID(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("failed to delete orphaned session: %w", err)
		}
		return nil, nil
	}
	return user, nil
}

// resolveReplacement は更新前のセッションから更新後のセッションを引き、
// 再度の更新は行わずにそのCookieを返す。
func (m *SessionManager) resolveReplacement(ctx context.Context, previous *model.Session) (*SessionResult, error) {
	next, err := m.findLive(ctx, previous.ReplacedBy)
	if err != nil || next == nil {
		return nil, err
	}
	// 猶予期間内にさらに更新されることはないため、連鎖はたどらない
	if next.IsReplaced() {
		return nil, nil
	}

	user, err := m.sessionUser(ctx, next)
	if err != nil || user == nil {
		return nil, err
	}

	next.Fresh = true
	return &SessionResult{
		Session: next,
		User:    user,
		Cookie:  m.SessionCookie(next),
	}, nil
}

// InvalidateSession はセッションを破棄する。既に存在しない場合も成功とする。
func (m *SessionManager) InvalidateSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := m.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// InvalidateUserSessions はユーザーの全セッションを破棄する。
func (m *SessionManager) InvalidateUserSessions(ctx context.Context, userID string) error {
	if err := m.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	slog.Info("all sessions invalidated", slog.String("user_id", userID))
	return nil
}

// SessionCookie はセッションIDを運ぶCookieを生成する。
func (m *SessionManager) SessionCookie(session *model.Session) *http.Cookie {
	maxAge := int(session.ExpiresAt.Sub(m.config.Now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     m.config.CookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   m.config.CookieDomain,
		Expires:  session.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// BlankSessionCookie はセッションCookieを削除するためのCookieを生成する。
func (m *SessionManager) BlankSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.config.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *SessionManager) newSession(userID string) (*model.Session, error) {
	id, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	now := m.config.Now()
	return &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(m.config.TTL),
		CreatedAt: now,
		Fresh:     true,
	}, nil
}

var _ SessionCreator = (*SessionManager)(nil)
