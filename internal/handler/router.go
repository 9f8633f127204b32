package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/paddock/internal/metrics"
	"github.com/hitoshi/paddock/internal/middleware"
)

// HealthCheckFunc は依存先（DB）の疎通を確認する。
type HealthCheckFunc func(ctx context.Context) error

// SessionStore はルーターが必要とするセッション管理のインターフェース。
// auth.SessionManager が実装する。
type SessionStore interface {
	middleware.SessionValidator
	SessionService
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 認証
	Login    LoginService
	Signup   SignupService
	Sessions SessionStore
	Users    UserServiceInterface

	// ミドルウェア依存
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CookieSecure      bool
	CookieDomain      string

	// 運用
	Health   HealthCheckFunc
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  → Session → CSRF → (認証系: AuthAttempt) / (ログイン必須: RequireAuth → General)
//
// APIはRequireAuthで401を返し、ページ（/account）はRequireAuthRedirectでサインイン画面へ誘導する。
//
// /health と /metrics はセッション検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Login, deps.Signup, deps.Sessions, AuthHandlerConfig{
		CookieSecure: deps.CookieSecure,
	})
	userHandler := NewUserHandler(deps.Users, deps.Sessions)

	// --- セッション検証の外 ---
	r.Get("/health", healthHandler(deps.Health))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 全リクエストでセッションを検証する ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/signin", authHandler.SignInPage)
			r.Get("/signup", authHandler.SignupPage)
			r.Post("/signout", authHandler.SignOut)

			// 認証試行: IPごとのレート制限
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthAttemptMiddleware())
				r.Post("/signin/{provider}", authHandler.SignIn)
				r.Get("/callback", authHandler.Callback)
				r.Post("/signup", authHandler.Signup)
			})

			// ログイン必須
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth)
				r.Use(deps.RateLimiter.GeneralMiddleware())
				r.Get("/me", authHandler.Me)
				r.Post("/signout-everywhere", authHandler.SignOutEverywhere)
			})
		})

		r.Route("/account", func(r chi.Router) {
			r.Use(middleware.RequireAuthRedirect(signInPath))
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/", userHandler.GetProfile)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/me", userHandler.GetProfile)
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}

// healthHandler はDBの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(check HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteServiceUnavailable(w)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
