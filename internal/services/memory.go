package services

import (
	"context"
	"errors"
	"time"

	"github.com/MegaGrindStone/chatbot-ui/internal/session"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultSessionTTL is how long an idle session is kept before it expires.
const DefaultSessionTTL = 30 * time.Minute

// ErrSessionNotFound is returned when a session ID is unknown or has expired.
var ErrSessionNotFound = errors.New("session not found")

// MemoryStore implements the session Store in process memory. Sessions expire after a period without
// access and are never written anywhere, so they do not survive a restart.
type MemoryStore struct {
	cache *ttlcache.Cache[string, *session.Session]
}

// NewMemoryStore creates a MemoryStore whose sessions expire after ttl of inactivity and starts its
// expiration loop. Close must be called to stop the loop.
func NewMemoryStore(ttl time.Duration) MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	c := ttlcache.New[string, *session.Session](
		ttlcache.WithTTL[string, *session.Session](ttl),
	)
	go c.Start()
	return MemoryStore{cache: c}
}

// AddSession creates an empty session with a new random ID.
func (m MemoryStore) AddSession(context.Context) (*session.Session, error) {
	s := session.New(uuid.New().String())
	m.cache.Set(s.ID, s, ttlcache.DefaultTTL)
	return s, nil
}

// Session returns the session with the given ID and extends its lifetime.
func (m MemoryStore) Session(_ context.Context, id string) (*session.Session, error) {
	item := m.cache.Get(id)
	if item == nil {
		return nil, ErrSessionNotFound
	}
	return item.Value(), nil
}

// Len returns the number of live sessions.
func (m MemoryStore) Len() int {
	return m.cache.Len()
}

// Close stops the expiration loop.
func (m MemoryStore) Close() {
	m.cache.Stop()
}
