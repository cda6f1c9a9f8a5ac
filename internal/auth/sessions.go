package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is the server-side view of a signed-in identity, keyed by the
// token id so sign-out can revoke it before the token expires.
type Session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().UTC().After(s.ExpiresAt)
}

// SessionCache stores active sessions keyed by token id.
type SessionCache interface {
	Put(ctx context.Context, tokenID string, s *Session) error
	Get(ctx context.Context, tokenID string) (*Session, error)
	Delete(ctx context.Context, tokenID string) error
}

// MemoryCache keeps sessions in process memory. It is the detached-mode
// backend and the default when no cache address is configured.
type MemoryCache struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sessions: make(map[string]*Session)}
}

func (c *MemoryCache) Put(_ context.Context, tokenID string, s *Session) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" || s == nil {
		return ErrInvalidInput
	}
	clone := *s
	c.mu.Lock()
	c.sessions[tokenID] = &clone
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Get(_ context.Context, tokenID string) (*Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[tokenID]
	if ok && s.Expired() {
		delete(c.sessions, tokenID)
		ok = false
	}
	var clone Session
	if ok {
		clone = *s
	}
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &clone, nil
}

func (c *MemoryCache) Delete(_ context.Context, tokenID string) error {
	c.mu.Lock()
	delete(c.sessions, tokenID)
	c.mu.Unlock()
	return nil
}

// RedisCache stores sessions in Redis with a TTL matching the token expiry.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "ucaep:session:"}
}

func (c *RedisCache) key(tokenID string) string { return c.prefix + tokenID }

func (c *RedisCache) Put(ctx context.Context, tokenID string, s *Session) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" || s == nil {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return ErrInvalidInput
	}
	if err := c.client.Set(ctx, c.key(tokenID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, tokenID string) (*Session, error) {
	payload, err := c.client.Get(ctx, c.key(tokenID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Expired() {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (c *RedisCache) Delete(ctx context.Context, tokenID string) error {
	if err := c.client.Del(ctx, c.key(tokenID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
