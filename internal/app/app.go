// Package app はサブコマンドの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/paddock/internal/auth"
	"github.com/hitoshi/paddock/internal/config"
	"github.com/hitoshi/paddock/internal/database"
	"github.com/hitoshi/paddock/internal/handler"
	"github.com/hitoshi/paddock/internal/logger"
	"github.com/hitoshi/paddock/internal/metrics"
	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/repository"
	"github.com/hitoshi/paddock/internal/security"
	"github.com/hitoshi/paddock/internal/telemetry"
	"github.com/hitoshi/paddock/internal/user"
	"github.com/hitoshi/paddock/internal/worker/cleanup"
)

const (
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 30 * time.Second

	// providerMaxResponseSize はトークンとJWKSのレスポンスサイズ上限。
	providerMaxResponseSize = 1 << 20
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, logger.Options{})

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログを再設定する
	logger.SetupDefault(w, logger.Options{Level: cfg.LogLevel, Service: cfg.ServiceName})

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. Redis（任意）
	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 3. IdPへの外向き通信クライアント
	providerClient, err := newProviderClient(cfg)
	if err != nil {
		return err
	}

	// 4. ルーターの構築
	reg := prometheus.NewRegistry()
	router, stopRouter, err := buildRouter(cfg, db, rdb, reg, providerClient)
	if err != nil {
		return err
	}
	defer stopRouter()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return serveUntilDone(ctx, server, "API server")
}

// buildRouter はリポジトリ、認証サービス、ミドルウェアを組み立ててルーターを返す。
// 戻り値の関数はバックグラウンド処理を停止する。
func buildRouter(
	cfg *config.Config,
	db *sql.DB,
	rdb *redis.Client,
	reg *prometheus.Registry,
	providerClient *http.Client,
) (http.Handler, func(), error) {
	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identityRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	pendingRepo := repository.NewPostgresPendingSignupRepo(db)

	// stateの使い捨て管理はRedisがある場合のみ有効にする
	var states repository.OAuthStateRepository
	if rdb != nil {
		states = repository.NewRedisOAuthStateRepo(rdb)
	}

	collector := metrics.NewCollector(reg)

	// 認証
	codec, err := auth.NewStateCodec(cfg.SessionSecret, cfg.OAuthStateTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create state codec: %w", err)
	}
	sessions := auth.NewSessionManager(sessionRepo, userRepo, auth.SessionConfig{
		TTL:          cfg.SessionTTL,
		CookieName:   cfg.SessionCookieName,
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.SecureCookies(),
	}, collector)
	google := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
		JWKSURL:      cfg.GoogleJWKSURL,
		HTTPClient:   providerClient,
	})
	login := auth.NewService(auth.ServiceDeps{
		Providers:  []auth.OAuthProvider{google},
		Identities: identityRepo,
		Pendings:   pendingRepo,
		States:     states,
		Sessions:   sessions,
		Codec:      codec,
		Metrics:    collector,
	}, auth.ServiceConfig{PendingSignupTTL: cfg.PendingSignupTTL})
	signup := auth.NewSignupService(userRepo, pendingRepo, sessions, collector, auth.SignupConfig{})
	users := user.NewService(userRepo, identityRepo)

	// レート制限（設定はreq/min単位、rate.Limitはreq/sec）
	limiterCfg := middleware.DefaultRateLimiterConfig()
	limiterCfg.GeneralRate = rate.Limit(float64(cfg.APIRateLimit) / 60)
	limiterCfg.GeneralBurst = cfg.APIRateLimit
	limiterCfg.AuthRate = rate.Limit(float64(cfg.AuthRateLimit) / 60)
	limiterCfg.AuthBurst = cfg.AuthRateLimit
	limiter := middleware.NewRateLimiter(limiterCfg)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Login:             login,
		Signup:            signup,
		Sessions:          sessions,
		Users:             users,
		RateLimiter:       limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.SecureCookies(),
		CookieDomain:      cfg.CookieDomain,
		Health:            healthCheck(db, rdb),
		Metrics:           collector,
		Gatherer:          reg,
	})

	return router, limiter.Stop, nil
}

// newProviderClient はIdPへの通信に使うSSRF対策済みクライアントを返す。
// エンドポイントが上書きされている場合は事前に安全性を検証する。
func newProviderClient(cfg *config.Config) (*http.Client, error) {
	guard := security.NewSSRFGuard()
	for name, raw := range map[string]string{
		"GOOGLE_AUTH_URL":  cfg.GoogleAuthURL,
		"GOOGLE_TOKEN_URL": cfg.GoogleTokenURL,
		"GOOGLE_JWKS_URL":  cfg.GoogleJWKSURL,
	} {
		if raw == "" {
			continue
		}
		if err := guard.ValidateURL(raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return guard.NewSafeClient(cfg.ProviderTimeout, providerMaxResponseSize), nil
}

// healthCheck はDBと（設定されていれば）Redisの疎通を確認する関数を返す。
func healthCheck(db *sql.DB, rdb *redis.Client) handler.HealthCheckFunc {
	return func(ctx context.Context) error {
		if err := database.Ping(ctx, db, pingTimeout); err != nil {
			return err
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to ping redis: %w", err)
			}
		}
		return nil
	}
}

// runWorker はワーカーモードで起動する。
// 失効したセッションと登録待ちを定期的に削除し、/health と /metrics を公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	job := cleanup.NewCleanupJob([]cleanup.Target{
		{Table: "sessions", Deleter: repository.NewPostgresSessionRepo(db)},
		{Table: "pending_signups", Deleter: repository.NewPostgresPendingSignupRepo(db)},
	}, collector, slog.Default())

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(r.Context(), db, pingTimeout); err != nil {
			middleware.WriteServiceUnavailable(w)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go job.Start(ctx, cfg.CleanupInterval)

	return serveUntilDone(ctx, server, "worker")
}

// serveUntilDone はコンテキストがキャンセルされるまでサーバーを動かし、グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen failed: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしまたは "up" で未適用分を適用し、"down [N]" でN件（既定1件）戻し、
// "version" で現在のバージョンを出力する。
func runMigrate(cfg *config.Config, args []string) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	slog.Info("running database migrations",
		slog.String("action", action),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rollback steps %q: %w", args[1], err)
			}
			steps = n
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case "version":
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		slog.Info("current migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// openRedis はREDIS_URLが設定されている場合のみRedisクライアントを返す。
func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		slog.Info("redis not configured; oauth state replay detection disabled")
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established")
	return rdb, nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
