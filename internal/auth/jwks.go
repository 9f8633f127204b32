package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pquerna/cachecontrol/cacheobject"
)

const (
	// defaultJWKSCacheTTL はキャッシュ関連ヘッダがない場合の保持期間。
	defaultJWKSCacheTTL = time.Hour
	// minJWKSRefetchInterval は未知のkidによる再取得の最短間隔。
	minJWKSRefetchInterval = time.Minute
	// maxJWKSBodySize はJWKSレスポンスの上限サイズ。
	maxJWKSBodySize = 1 << 20
)

// JWKSCache はIdPの公開鍵セットを取得してキャッシュする。
// 保持期間はレスポンスの Cache-Control / Age / Expires に従う。
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time
}

// NewJWKSCache はJWKSCacheを生成する。clientがnilの場合はhttp.DefaultClientを使う。
// 本番ではSSRFガード付きのクライアントを渡す。
func NewJWKSCache(url string, client *http.Client) *JWKSCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &JWKSCache{
		url:    url,
		client: client,
		now:    time.Now,
	}
}

// Key はkidに対応するRSA公開鍵を返す。
// キャッシュが期限切れの場合、またはkidが未知の場合（鍵のローテーション）に再取得する。
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.expiresAt) {
		if key, ok := c.keys[kid]; ok {
			return key, nil
		}
		if now.Sub(c.fetchedAt) < minJWKSRefetchInterval {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
	}

	if err := c.refresh(ctx, now); err != nil {
		return nil, err
	}

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}

func (c *JWKSCache) refresh(ctx context.Context, now time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize))
	if err != nil {
		return fmt.Errorf("failed to read jwks: %w", err)
	}

	keys, err := rsaSigningKeys(body)
	if err != nil {
		return err
	}

	c.keys = keys
	c.fetchedAt = now
	c.expiresAt = now.Add(cacheLifetime(resp.Header, now))
	return nil
}

// rsaSigningKeys はJWKSから署名用のRSA公開鍵をkidごとに取り出す。
// kidのない鍵、RSA以外の鍵、用途が sig 以外の鍵は無視する。
func rsaSigningKeys(body []byte) (map[string]*rsa.PublicKey, error) {
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if key.KeyType() != jwa.RSA || key.KeyID() == "" {
			continue
		}
		if use := key.KeyUsage(); use != "" && use != string(jwk.ForSignature) {
			continue
		}

		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode jwk %q: %w", key.KeyID(), err)
		}
		pub, ok := raw.(*rsa.PublicKey)
		if !ok {
			continue
		}
		keys[key.KeyID()] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable RSA signing keys")
	}
	return keys, nil
}

// cacheLifetime はレスポンスヘッダからキャッシュしてよい期間を求める。
// Cache-Control の max-age（Ageを差し引く）を優先し、次に Expires を使う。
// Expires はDateヘッダ（なければnow）との差で評価する。
// no-store / no-cache、および解釈できない Cache-Control の場合は0を返す。
func cacheLifetime(h http.Header, now time.Time) time.Duration {
	directives, err := cacheobject.ParseResponseCacheControl(h.Get("Cache-Control"))
	if err != nil {
		return 0
	}
	if directives.NoStore || directives.NoCachePresent {
		return 0
	}

	if directives.MaxAge >= 0 {
		age, _ := strconv.Atoi(strings.TrimSpace(h.Get("Age")))
		if age < 0 {
			age = 0
		}
		if remaining := int(directives.MaxAge) - age; remaining > 0 {
			return time.Duration(remaining) * time.Second
		}
		return 0
	}

	if expires := h.Get("Expires"); expires != "" {
		exp, err := http.ParseTime(expires)
		if err != nil {
			return 0
		}
		date := now
		if d, err := http.ParseTime(h.Get("Date")); err == nil {
			date = d
		}
		if remaining := exp.Sub(date); remaining > 0 {
			return remaining
		}
		return 0
	}

	return defaultJWKSCacheTTL
}
