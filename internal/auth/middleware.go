package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/engine"
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// userCache memoizes user status lookups so token validation does not hit
// the database on every request.
type userCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]cacheEntry
}

type cacheEntry struct {
	user    schema.UserContext
	active  bool
	expires time.Time
}

func newUserCache(ttl time.Duration) *userCache {
	return &userCache{ttl: ttl, entries: make(map[int64]cacheEntry)}
}

func (c *userCache) get(id int64) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || time.Now().After(e.expires) {
		return cacheEntry{}, false
	}
	return e, true
}

func (c *userCache) put(id int64, e cacheEntry) {
	e.expires = time.Now().Add(c.ttl)
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
}

// Invalidate drops a cached user, forcing the next request to re-check.
func (c *userCache) invalidate(id int64) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Middleware validates Bearer tokens, confirms the user is still active
// and attaches the user context to the request.
type Middleware struct {
	Store  *store.Store
	Secret string
	cache  *userCache
}

func NewMiddleware(s *store.Store, secret string, cacheTTL time.Duration) *Middleware {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Middleware{Store: s, Secret: secret, cache: newUserCache(cacheTTL)}
}

// Handler is the fiber middleware function.
func (m *Middleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(header, "Bearer ") {
			return engine.ErrUnauthorized("missing bearer token")
		}

		claims, err := ParseToken(m.Secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return engine.ErrUnauthorized("invalid or expired token")
		}

		user, active, err := m.lookup(c.Context(), claims.UserID)
		if err != nil {
			return err
		}
		if !active {
			return engine.ErrUnauthorized("account is inactive")
		}

		engine.SetCurrentUser(c, user)
		return c.Next()
	}
}

// Invalidate drops the cached state for a user after a profile change.
func (m *Middleware) Invalidate(userID int64) {
	m.cache.invalidate(userID)
}

func (m *Middleware) lookup(ctx context.Context, userID int64) (*schema.UserContext, bool, error) {
	if e, ok := m.cache.get(userID); ok {
		u := e.user
		return &u, e.active, nil
	}

	d := m.Store.Dialect
	row, err := store.QueryRow(ctx, m.Store.DB,
		fmt.Sprintf("SELECT id, email, group_id, status FROM _users WHERE id = %s", d.Placeholder(1)),
		userID)
	if err == store.ErrNotFound {
		m.cache.put(userID, cacheEntry{})
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup user %d: %w", userID, err)
	}

	user := schema.UserContext{
		ID:      store.ToInt64(row["id"]),
		GroupID: store.ToInt64(row["group_id"]),
		Email:   store.ToString(row["email"]),
	}
	active := store.ToInt64(row["status"]) == schema.StatusActive
	m.cache.put(userID, cacheEntry{user: user, active: active})
	return &user, active, nil
}
