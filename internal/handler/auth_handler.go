// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/paddock/internal/auth"
	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/security"
)

const (
	// oauthStateCookie はサインイン開始からコールバックまでのstateを保持するCookie。
	oauthStateCookie = "oauth-state"

	signInPath  = "/auth/signin"
	landingPath = "/"
)

// LoginService はサインインのOAuthフローを担うサービスインターフェース。
type LoginService interface {
	Providers() []string
	BeginLogin(ctx context.Context, providerID, next string) (*auth.LoginStart, error)
	HandleCallback(ctx context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error)
}

// SignupService は登録待ちからのユーザー登録を担うサービスインターフェース。
type SignupService interface {
	LookupPending(ctx context.Context, key string) (*model.PendingSignup, error)
	CompleteSignup(ctx context.Context, in auth.SignupInput) (*auth.SignupResult, error)
}

// SessionService はセッションの破棄とCookie生成を担うサービスインターフェース。
type SessionService interface {
	InvalidateSession(ctx context.Context, sessionID string) error
	InvalidateUserSessions(ctx context.Context, userID string) error
	SessionCookie(session *model.Session) *http.Cookie
	BlankSessionCookie() *http.Cookie
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はサインイン、登録、サインアウトのHTTPハンドラー。
type AuthHandler struct {
	login    LoginService
	signup   SignupService
	sessions SessionService
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(login LoginService, signup SignupService, sessions SessionService, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		login:    login,
		signup:   signup,
		sessions: sessions,
		config:   config,
	}
}

type signInPageResponse struct {
	Providers []string `json:"providers"`
	Next      string   `json:"next,omitempty"`
}

// SignInPage はサインイン画面の情報を返す。ログイン済みならトップへリダイレクトする。
// GET /auth/signin?next=
func (h *AuthHandler) SignInPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserFromContext(r.Context()); ok {
		http.Redirect(w, r, landingPath, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, signInPageResponse{
		Providers: h.login.Providers(),
		Next:      security.SafeReturnPath(r.URL.Query().Get("next")),
	})
}

// SignIn はOAuthフローを開始する。stateをCookieに保存してIdPへリダイレクトする。
// POST /auth/signin/{provider}
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	next := r.PostFormValue("next")
	if next == "" {
		next = r.URL.Query().Get("next")
	}

	start, err := h.login.BeginLogin(r.Context(), providerParam(r), next)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, h.stateCookie(start.StateCookie, start.MaxAge))
	// POSTをIdPへ持ち越さないよう302を使う
	http.Redirect(w, r, start.AuthURL, http.StatusFound)
}

// Callback はIdPからのリダイレクトを処理する。
// GET /auth/callback?state=&code=
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	req := auth.CallbackRequest{
		State:         r.URL.Query().Get("state"),
		Code:          r.URL.Query().Get("code"),
		ProviderError: r.URL.Query().Get("error"),
	}
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		req.StateCookie = c.Value
	}

	// stateは成否にかかわらず一度きり
	http.SetCookie(w, h.stateCookie("", -1))

	result, err := h.login.HandleCallback(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if result.Outcome == auth.OutcomeLoggedIn {
		http.SetCookie(w, h.sessions.SessionCookie(result.Session))
	}
	http.Redirect(w, r, result.RedirectTo, http.StatusFound)
}

type signupPageResponse struct {
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SignupPage は登録待ちの情報を返す。失効していればサインイン画面へリダイレクトする。
// GET /auth/signup?new_user_key=
func (h *AuthHandler) SignupPage(w http.ResponseWriter, r *http.Request) {
	pending, err := h.signup.LookupPending(r.Context(), r.URL.Query().Get("new_user_key"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, signupPageResponse{
		Provider:  pending.ProviderID,
		ExpiresAt: pending.ExpiresAt,
	})
}

// Signup はユーザー名を受け取りユーザー登録を完了する。
// POST /auth/signup?new_user_key=
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("new_user_key")
	if key == "" {
		key = r.PostFormValue("new_user_key")
	}

	result, err := h.signup.CompleteSignup(r.Context(), auth.SignupInput{
		NewUserKey: key,
		Username:   r.PostFormValue("username"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, h.sessions.SessionCookie(result.Session))
	http.Redirect(w, r, landingPath, http.StatusFound)
}

// SignOut は現在のセッションを破棄する。セッションがなくても成功として扱う。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if session, ok := middleware.SessionFromContext(r.Context()); ok {
		if err := h.sessions.InvalidateSession(r.Context(), session.ID); err != nil {
			// 削除に失敗してもCookieはクリアする
			slog.Error("failed to invalidate session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	http.SetCookie(w, h.sessions.BlankSessionCookie())
	http.Redirect(w, r, landingPath, http.StatusFound)
}

// SignOutEverywhere は現在のユーザーの全セッションを破棄する。
// POST /auth/signout-everywhere
func (h *AuthHandler) SignOutEverywhere(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	if err := h.sessions.InvalidateUserSessions(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	slog.Info("signed out from all sessions", slog.String("user_id", userID))
	http.SetCookie(w, h.sessions.BlankSessionCookie())
	http.Redirect(w, r, landingPath, http.StatusFound)
}

type meResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Admin     bool      `json:"admin"`
	Staff     bool      `json:"staff"`
	CreatedAt time.Time `json:"created_at"`
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:        user.ID,
		Username:  user.Username,
		Admin:     user.Admin,
		Staff:     user.Staff,
		CreatedAt: user.CreatedAt,
	})
}

// stateCookie はoauth-state Cookieを生成する。maxAgeが負の場合は削除用。
func (h *AuthHandler) stateCookie(value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(maxAge.Seconds())
	}
	return c
}

func providerParam(r *http.Request) string {
	return chi.URLParam(r, "provider")
}
