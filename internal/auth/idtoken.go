package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// idTokenLeeway はIDトークンの時刻検証で許容する時計のずれ。
const idTokenLeeway = time.Minute

// KeySource はkidから署名検証用の公開鍵を取得する。
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// IDTokenClaims はOpenID ConnectのIDトークンのクレーム。
type IDTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// IDTokenVerifier はRS256で署名されたIDトークンを検証する。
type IDTokenVerifier struct {
	keys     KeySource
	audience string
	issuers  []string
	now      func() time.Time
}

// NewIDTokenVerifier はIDTokenVerifierを生成する。
// audienceにはOAuthクライアントID、issuersには許可するissを指定する。
func NewIDTokenVerifier(keys KeySource, audience string, issuers []string) *IDTokenVerifier {
	return &IDTokenVerifier{
		keys:     keys,
		audience: audience,
		issuers:  issuers,
		now:      time.Now,
	}
}

// Verify は署名、aud、iss、exp を検証してクレームを返す。
func (v *IDTokenVerifier) Verify(ctx context.Context, raw string) (*IDTokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(idTokenLeeway),
		jwt.WithTimeFunc(v.now),
	)

	claims := &IDTokenClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("id token has no kid header")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	if !slices.Contains(v.issuers, claims.Issuer) {
		return nil, fmt.Errorf("unexpected id token issuer %q", claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, errors.New("id token has no subject")
	}

	return claims, nil
}
