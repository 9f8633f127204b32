package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	// GoogleProviderID はGoogleのプロバイダーID。
	GoogleProviderID = "google"

	defaultGoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
	defaultGoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
)

// googleIssuers はGoogleのIDトークンで許可するiss。
var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	JWKSURL  string

	// HTTPClient はトークン交換とJWKS取得に使う。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogle OAuth 2.0 (OpenID Connect) による認証を提供する。
// ユーザー情報はuserinfoエンドポイントではなく、検証済みのIDトークンから取得する。
type GoogleOAuthProvider struct {
	config   *oauth2.Config
	client   *http.Client
	verifier *IDTokenVerifier
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.JWKSURL == "" {
		config.JWKSURL = defaultGoogleJWKSURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &GoogleOAuthProvider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:   client,
		verifier: NewIDTokenVerifier(NewJWKSCache(config.JWKSURL, client), config.ClientID, googleIssuers),
	}
}

// Name はプロバイダーIDを返す。
func (p *GoogleOAuthProvider) Name() string {
	return GoogleProviderID
}

// AuthCodeURL はGoogleの認可URLを生成する。PKCEはS256で、アカウント選択を常に表示する。
func (p *GoogleOAuthProvider) AuthCodeURL(state, codeVerifier string) string {
	return p.config.AuthCodeURL(state,
		oauth2.S256ChallengeOption(codeVerifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange は認可コードをトークンに交換し、IDトークンを検証してユーザー情報を返す。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code, codeVerifier string) (*OAuthUserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, errors.New("token response has no id_token")
	}

	claims, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	return &OAuthUserInfo{
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		Name:           claims.Name,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
