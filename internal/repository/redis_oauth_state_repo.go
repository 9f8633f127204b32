package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const oauthStatePrefix = "paddock:oauth_state:"

// RedisOAuthStateRepo はRedisのSETNXでOAuth stateの再利用を検出する。
// state CookieがTTL内に再送されても2回目以降のコールバックを拒否できる。
type RedisOAuthStateRepo struct {
	client *redis.Client
}

// NewRedisOAuthStateRepo はRedisOAuthStateRepoを生成する。
func NewRedisOAuthStateRepo(client *redis.Client) *RedisOAuthStateRepo {
	return &RedisOAuthStateRepo{client: client}
}

// Consume はstateを使用済みとして記録する。初回のみtrueを返す。
func (r *RedisOAuthStateRepo) Consume(ctx context.Context, state string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, oauthStatePrefix+state, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	return ok, nil
}

// compile-time interface check
var _ OAuthStateRepository = (*RedisOAuthStateRepo)(nil)
