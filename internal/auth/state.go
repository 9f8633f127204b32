package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// StateCookieName はOAuthのstate等を保持するCookie名。
const StateCookieName = "oauth-state"

// state Cookieの有効期間
const (
	DefaultStateTTL = 10 * time.Minute
	MaxStateTTL     = time.Hour
)

// minSecretLength はSESSION_SECRETの最小バイト数。
const minSecretLength = 32

var stateKeyInfo = []byte("paddock oauth-state v1")

// OAuthState はIdPへのリダイレクト往復の間だけクライアントに保持させる状態。
type OAuthState struct {
	State        string
	Provider     string
	CodeVerifier string
	Next         string
}

type stateClaims struct {
	State        string `json:"state"`
	Provider     string `json:"provider"`
	CodeVerifier string `json:"codeVerifier"`
	Next         string `json:"next,omitempty"`
	jwt.RegisteredClaims
}

// StateCodec はOAuthStateをHS256署名付きのCookie値に変換する。
// 値はJWT形式（base64urlのJSON + 署名）で、改ざんと期限切れを検出できる。
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateCodec はsecretからHKDFで署名鍵を導出してStateCodecを生成する。
// ttlは (0, MaxStateTTL] に丸められ、0以下の場合は DefaultStateTTL になる。
func NewStateCodec(secret string, ttl time.Duration) (*StateCodec, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLength)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, stateKeyInfo), key); err != nil {
		return nil, fmt.Errorf("failed to derive state key: %w", err)
	}

	switch {
	case ttl <= 0:
		ttl = DefaultStateTTL
	case ttl > MaxStateTTL:
		ttl = MaxStateTTL
	}

	return &StateCodec{key: key, ttl: ttl, now: time.Now}, nil
}

// TTL はCookieの有効期間を返す。
func (c *StateCodec) TTL() time.Duration {
	return c.ttl
}

// Encode はOAuthStateを署名付きの文字列にする。
func (c *StateCodec) Encode(st OAuthState) (string, error) {
	now := c.now()
	claims := stateClaims{
		State:        st.State,
		Provider:     st.Provider,
		CodeVerifier: st.CodeVerifier,
		Next:         st.Next,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}
	return value, nil
}

// Decode は署名と有効期限を検証してOAuthStateを取り出す。
func (c *StateCodec) Decode(value string) (*OAuthState, error) {
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(value, claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth state cookie: %w", err)
	}

	if claims.State == "" || claims.Provider == "" || claims.CodeVerifier == "" {
		return nil, errors.New("invalid oauth state cookie: missing fields")
	}

	return &OAuthState{
		State:        claims.State,
		Provider:     claims.Provider,
		CodeVerifier: claims.CodeVerifier,
		Next:         claims.Next,
	}, nil
}
