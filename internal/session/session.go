// Package session keeps one product table screen per admin browser session.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/dyson-admin/internal/producttable"
)

// CookieName is the session cookie.
const CookieName = "dyson_admin_session"

// DefaultMaxSessions bounds the number of open screens.
const DefaultMaxSessions = 1000

// Factory opens a new screen for a session.
type Factory func(ctx context.Context) *producttable.Screen

// Config configures a Store.
type Config struct {
	// IdleTTL closes screens that were not used for this long.
	IdleTTL time.Duration
	// Secure marks the cookie as HTTPS only.
	Secure bool
	// MaxSessions caps open screens. When a new session would exceed it,
	// the least recently used session is closed.
	MaxSessions int
}

type entry struct {
	screen   *producttable.Screen
	lastSeen time.Time
}

// Store maps session ids to screens.
type Store struct {
	cfg     Config
	factory Factory
	base    context.Context
	lg      *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore creates a Store. Screens are bound to base and closed when it is
// done.
func NewStore(base context.Context, lg *zap.Logger, cfg Config, factory Factory) *Store {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Store{
		cfg:     cfg,
		factory: factory,
		base:    base,
		lg:      lg,
		entries: make(map[string]*entry),
	}
}

// Screen returns the screen of the request's session, creating the session
// and setting its cookie when needed.
func (s *Store) Screen(w http.ResponseWriter, r *http.Request) (*producttable.Screen, string) {
	id := ""
	if c, err := r.Cookie(CookieName); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			id = c.Value
		}
	}

	now := time.Now()
	s.mu.Lock()
	if e, ok := s.entries[id]; ok && id != "" {
		e.lastSeen = now
		s.mu.Unlock()
		return e.screen, id
	}

	if id == "" {
		id = uuid.New().String()
	}
	evicted := s.evictLocked(s.cfg.MaxSessions - 1)
	e := &entry{screen: s.factory(s.base), lastSeen: now}
	s.entries[id] = e
	s.mu.Unlock()

	for _, old := range evicted {
		old.screen.Close()
	}
	s.lg.Debug("Session opened", zap.String("session", id), zap.Int("evicted", len(evicted)))

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return e.screen, id
}

// evictLocked removes the least recently used entries until at most keep
// remain and returns them.
func (s *Store) evictLocked(keep int) []*entry {
	var evicted []*entry
	for len(s.entries) > keep {
		var (
			oldestID string
			oldest   *entry
		)
		for id, e := range s.entries {
			if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
				oldestID, oldest = id, e
			}
		}
		delete(s.entries, oldestID)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// Len returns the number of open sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep closes sessions idle since before now-IdleTTL.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	var expired []*entry
	for id, e := range s.entries {
		if now.Sub(e.lastSeen) >= s.cfg.IdleTTL {
			expired = append(expired, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		e.screen.Close()
	}
	if len(expired) > 0 {
		s.lg.Debug("Sessions expired", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Close closes every screen.
func (s *Store) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.screen.Close()
	}
}

// StartSweeper runs Sweep every IdleTTL/2 until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.IdleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now)
			}
		}
	}()
}
