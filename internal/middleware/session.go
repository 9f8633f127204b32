// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/paddock/internal/auth"
	"github.com/hitoshi/paddock/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey    = contextKey("user")
	sessionContextKey = contextKey("session")
)

// SessionValidator はセッション検証に必要なインターフェース。
// auth.SessionManager が実装する。
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*auth.SessionResult, error)
	BlankSessionCookie() *http.Cookie
	CookieName() string
}

// NewSessionMiddleware は全リクエストでセッションCookieを検証するミドルウェアを返す。
//
// 有効なセッションがあればユーザーとセッションをコンテキストに注入する。
// セッションが更新された場合は新しいCookieを、Cookieがあるのに無効な場合は削除用のCookieを書き込む。
// セッションがないことはエラーではなく、未ログインとして次のハンドラーに渡す。
func NewSessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(validator.CookieName())
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := validator.ValidateSession(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to validate session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if result == nil {
				http.SetCookie(w, validator.BlankSessionCookie())
				next.ServeHTTP(w, r)
				return
			}

			if result.Cookie != nil {
				http.SetCookie(w, result.Cookie)
			}

			setLogUserID(r.Context(), result.User.ID)
			ctx := context.WithValue(r.Context(), userContextKey, result.User)
			ctx = context.WithValue(ctx, sessionContextKey, result.Session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth はログイン済みでないリクエストに401を返すミドルウェア。
// NewSessionMiddleware の後に配置する。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			WriteUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthRedirect はページ遷移向けの RequireAuth。
// 未ログインのGET/HEADは元のパスとクエリを next に付けて signInPath へ302でリダイレクトする。
// それ以外のメソッドはリダイレクト先で再送できないため401を返す。
func RequireAuthRedirect(signInPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				WriteUnauthorized(w)
				return
			}
			query := url.Values{"next": {r.URL.RequestURI()}}
			http.Redirect(w, r, signInPath+"?"+query.Encode(), http.StatusFound)
		})
	}
}

// UserFromContext はリクエストコンテキストからログイン中のユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// SessionFromContext はリクエストコンテキストから現在のセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	return session, ok && session != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithSession はコンテキストにユーザーとセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, user *model.User, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, sessionContextKey, session)
}
