package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
	"github.com/hitoshi/paddock/internal/security"
)

// 登録待ちの既定値
const (
	DefaultPendingSignupTTL = time.Hour
	DefaultSignupPath       = "/auth/signup"
	DefaultLandingPath      = "/"
)

const tracerName = "github.com/hitoshi/paddock/internal/auth"

// tracer は呼び出し時点のグローバルプロバイダーからTracerを取得する。
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// CallbackOutcome はOAuthコールバックの結果の種類。
type CallbackOutcome int

const (
	// OutcomeLoggedIn は既存ユーザーとしてログインしたことを表す。
	OutcomeLoggedIn CallbackOutcome = iota + 1
	// OutcomeSignupPending はユーザー登録待ちになったことを表す。
	OutcomeSignupPending
)

func (o CallbackOutcome) String() string {
	switch o {
	case OutcomeLoggedIn:
		return "logged_in"
	case OutcomeSignupPending:
		return "signup_pending"
	default:
		return "unknown"
	}
}

// ServiceDeps は認証フローが依存するコンポーネント。
type ServiceDeps struct {
	Providers  []OAuthProvider
	Identities repository.IdentityRepository
	Pendings   repository.PendingSignupRepository
	// States はstateの使い捨て管理。nilの場合は再利用検出を行わない。
	States   repository.OAuthStateRepository
	Sessions SessionCreator
	Codec    *StateCodec
	Metrics  Recorder
}

// ServiceConfig は認証フローの設定。
type ServiceConfig struct {
	PendingSignupTTL time.Duration
	SignupPath       string
	DefaultRedirect  string

	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// LoginStart はログイン開始時にクライアントへ返す値。
type LoginStart struct {
	AuthURL     string
	StateCookie string
	MaxAge      time.Duration
}

// CallbackRequest はIdPからのリダイレクトで受け取った値。
type CallbackRequest struct {
	StateCookie   string
	State         string
	Code          string
	ProviderError string
}

// CallbackResult はOAuthコールバックの処理結果。
// OutcomeLoggedIn の場合は Session、OutcomeSignupPending の場合は PendingSignup が設定される。
type CallbackResult struct {
	Outcome       CallbackOutcome
	Session       *model.Session
	PendingSignup *model.PendingSignup
	RedirectTo    string
}

// Service はOAuthのログイン開始とコールバック処理を行う。
type Service struct {
	providers  map[string]OAuthProvider
	order      []string
	identities repository.IdentityRepository
	pendings   repository.PendingSignupRepository
	states     repository.OAuthStateRepository
	sessions   SessionCreator
	codec      *StateCodec
	metrics    Recorder
	config     ServiceConfig
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps, config ServiceConfig) *Service {
	if config.PendingSignupTTL <= 0 {
		config.PendingSignupTTL = DefaultPendingSignupTTL
	}
	if config.SignupPath == "" {
		config.SignupPath = DefaultSignupPath
	}
	if config.DefaultRedirect == "" {
		config.DefaultRedirect = DefaultLandingPath
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	providers := make(map[string]OAuthProvider, len(deps.Providers))
	order := make([]string, 0, len(deps.Providers))
	for _, p := range deps.Providers {
		providers[p.Name()] = p
		order = append(order, p.Name())
	}

	return &Service{
		providers:  providers,
		order:      order,
		identities: deps.Identities,
		pendings:   deps.Pendings,
		states:     deps.States,
		sessions:   deps.Sessions,
		codec:      deps.Codec,
		metrics:    recorderOrNop(deps.Metrics),
		config:     config,
	}
}

// Providers は利用可能なプロバイダーIDを登録順で返す。
func (s *Service) Providers() []string {
	return append([]string(nil), s.order...)
}

// BeginLogin はstateとPKCEのcode verifierを生成し、認可URLとstate Cookieの値を返す。
// nextは安全なパスでなければ破棄される。
func (s *Service) BeginLogin(ctx context.Context, providerID, next string) (*LoginStart, error) {
	_, span := tracer().Start(ctx, "auth.BeginLogin", trace.WithAttributes(attribute.String("auth.provider", providerID)))
	defer span.End()

	provider, ok := s.providers[providerID]
	if !ok {
		span.SetStatus(codes.Error, "unknown provider")
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}

	state, err := generateToken()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	cookie, err := s.codec.Encode(OAuthState{
		State:        state,
		Provider:     providerID,
		CodeVerifier: verifier,
		Next:         security.SafeReturnPath(next),
	})
	if err != nil {
		return nil, err
	}

	return &LoginStart{
		AuthURL:     provider.AuthCodeURL(state, verifier),
		StateCookie: cookie,
		MaxAge:      s.codec.TTL(),
	}, nil
}

// HandleCallback はIdPからのコールバックを検証し、既存ユーザーならセッションを発行し、
// 未登録なら登録待ちを作成する。
// プロトコル上の失敗は *AuthError（errors.Is(err, ErrAuthenticationFailed)）として返す。
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	ctx, span := tracer().Start(ctx, "auth.HandleCallback")
	defer span.End()

	if req.StateCookie == "" {
		return nil, s.reject(span, ReasonMissingStateCookie, nil)
	}
	st, err := s.codec.Decode(req.StateCookie)
	if err != nil {
		return nil, s.reject(span, ReasonInvalidStateCookie, err)
	}
	span.SetAttributes(attribute.String("auth.provider", st.Provider))

	if req.State == "" || subtle.ConstantTimeCompare([]byte(req.State), []byte(st.State)) != 1 {
		return nil, s.reject(span, ReasonStateMismatch, nil)
	}
	if req.ProviderError != "" {
		return nil, s.reject(span, ReasonProviderDenied, errors.New(req.ProviderError))
	}
	if req.Code == "" {
		return nil, s.reject(span, ReasonMissingCode, nil)
	}

	if s.states != nil {
		first, err := s.states.Consume(ctx, st.State, s.codec.TTL())
		if err != nil {
			return nil, fmt.Errorf("failed to consume oauth state: %w", err)
		}
		if !first {
			return nil, s.reject(span, ReasonStateReplayed, nil)
		}
	}

	provider, ok := s.providers[st.Provider]
	if !ok {
		return nil, s.reject(span, ReasonUnknownProvider, fmt.Errorf("provider %q", st.Provider))
	}

	info, err := provider.Exchange(ctx, req.Code, st.CodeVerifier)
	if err != nil {
		return nil, s.reject(span, ReasonExchangeFailed, err)
	}

	identity, err := s.identities.FindByProviderAndProviderUserID(ctx, provider.Name(), info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity != nil {
		session, err := s.sessions.CreateSession(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		redirectTo := security.SafeReturnPath(st.Next)
		if redirectTo == "" {
			redirectTo = s.config.DefaultRedirect
		}

		s.metrics.RecordLogin(provider.Name())
		span.SetAttributes(attribute.String("auth.outcome", OutcomeLoggedIn.String()))
		slog.Info("user logged in",
			slog.String("user_id", identity.UserID),
			slog.String("provider", provider.Name()),
		)

		return &CallbackResult{
			Outcome:    OutcomeLoggedIn,
			Session:    session,
			RedirectTo: redirectTo,
		}, nil
	}

	pending, err := s.stagePendingSignup(ctx, provider.Name(), info.ProviderUserID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSignupStarted(provider.Name())
	span.SetAttributes(attribute.String("auth.outcome", OutcomeSignupPending.String()))
	slog.Info("signup pending",
		slog.String("provider", provider.Name()),
		slog.Time("expires_at", pending.ExpiresAt),
	)

	return &CallbackResult{
		Outcome:       OutcomeSignupPending,
		PendingSignup: pending,
		RedirectTo:    s.config.SignupPath + "?new_user_key=" + url.QueryEscape(pending.ID),
	}, nil
}

func (s *Service) stagePendingSignup(ctx context.Context, providerID, providerUserID string) (*model.PendingSignup, error) {
	id, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.config.Now()
	pending := &model.PendingSignup{
		ID:             id,
		ProviderID:     providerID,
		ProviderUserID: providerUserID,
		ExpiresAt:      now.Add(s.config.PendingSignupTTL),
		CreatedAt:      now,
	}
	if err := s.pendings.Create(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to create pending signup: %w", err)
	}
	return pending, nil
}

// reject はプロトコルエラーを記録してAuthErrorを返す。
// 原因はログにのみ残し、利用者には一律の失敗として見せる。
func (s *Service) reject(span trace.Span, reason string, cause error) error {
	attrs := []any{slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	slog.Warn("oauth callback rejected", attrs...)

	s.metrics.RecordCallbackFailure(reason)
	span.SetStatus(codes.Error, reason)
	if cause != nil {
		span.RecordError(cause)
	}

	return &AuthError{Reason: reason, Err: cause}
}
