package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testClientID = "test-client-id"
	testIssuer   = "https://accounts.google.com"
)

var testRSAKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
})

// testIdP はJWKSを配信し、IDトークンに署名するテスト用のIdP。
type testIdP struct {
	key     *rsa.PrivateKey
	fetches atomic.Int32
	server  *httptest.Server

	mu           sync.Mutex
	kid          string
	cacheControl string
}

func (p *testIdP) setKid(kid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kid = kid
}

func (p *testIdP) setCacheControl(v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cacheControl = v
}

func (p *testIdP) currentKid() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kid
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	idp := &testIdP{key: testRSAKey(), kid: "kid-1", cacheControl: "public, max-age=3600"}
	idp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idp.fetches.Add(1)
		idp.mu.Lock()
		kid, cacheControl := idp.kid, idp.cacheControl
		idp.mu.Unlock()
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": kid,
				"n":   base64.RawURLEncoding.EncodeToString(idp.key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(idp.key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(idp.server.Close)
	return idp
}

func (p *testIdP) jwksURL() string {
	return p.server.URL + "/certs"
}

// signIDToken は既定のクレームにoverridesを上書きしてIDトークンを生成する。
func (p *testIdP) signIDToken(t *testing.T, subject string, overrides jwt.MapClaims) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            subject,
		"email":          subject + "@example.com",
		"email_verified": true,
		"name":           "Test Driver",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = p.currentKid()
	signed, err := token.SignedString(p.key)
	if err != nil {
		t.Fatalf("failed to sign id token: %v", err)
	}
	return signed
}
