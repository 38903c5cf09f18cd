package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AngelCh415/deepdive/internal/cache"
	"github.com/AngelCh415/deepdive/internal/drilldown"
	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/observability"
	"github.com/AngelCh415/deepdive/internal/perspective"
)

var ErrNotFound = errors.New("session not found")

const (
	DefaultMaxSessions = 1000
	DefaultIdleTTL     = 30 * time.Minute
)

type Options struct {
	CacheTTL      time.Duration
	CacheCapacity int
	// MaxSessions caps open sessions; the least recently used one is closed
	// to make room.
	MaxSessions int
	// IdleTTL closes sessions not used for this long.
	IdleTTL time.Duration
	// Clock drives idle expiry and every session cache; nil means time.Now.
	Clock func() time.Time
}

type entry struct {
	ctl      *drilldown.Controller
	lastUsed time.Time
}

// Manager owns the open drill-down sessions. Each session gets its own
// result cache so one user's navigation never evicts another's.
type Manager struct {
	reg     *perspective.Registry
	cmp     drilldown.Comparer
	log     *slog.Logger
	metrics *observability.Metrics
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
}

func NewManager(reg *perspective.Registry, cmp drilldown.Comparer, log *slog.Logger, m *observability.Metrics, opts Options) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		reg:      reg,
		cmp:      cmp,
		log:      log,
		metrics:  m,
		opts:     opts,
		now:      now,
		sessions: make(map[uuid.UUID]*entry),
	}
}

// Create opens a session positioned at start. No data is fetched yet.
func (m *Manager) Create(start perspective.ID, p1, p2 models.PeriodRange) (uuid.UUID, *drilldown.Controller, error) {
	var copts []cache.Option
	if m.opts.Clock != nil {
		copts = append(copts, cache.WithClock(m.opts.Clock))
	}
	if m.metrics != nil {
		copts = append(copts, cache.WithObserver(m.metrics))
	}
	id := uuid.New()
	ctl, err := drilldown.NewController(drilldown.Deps{
		Registry: m.reg,
		Comparer: m.cmp,
		Cache:    cache.New(m.opts.CacheTTL, m.opts.CacheCapacity, copts...),
		Log:      m.log.With(slog.String("session", id.String())),
		Metrics:  m.metrics,
	}, start, p1, p2)
	if err != nil {
		return uuid.Nil, nil, err
	}

	m.mu.Lock()
	now := m.now()
	m.reapLocked(now)
	for len(m.sessions) >= m.opts.MaxSessions {
		m.closeLocked(m.oldestLocked(), "capacity")
	}
	m.sessions[id] = &entry{ctl: ctl, lastUsed: now}
	m.mu.Unlock()
	m.metrics.SessionOpened()
	m.log.Info("session opened", slog.String("session", id.String()), slog.String("perspective", string(start)))
	return id, ctl, nil
}

// Get returns the session and marks it used. Idle sessions are closed
// first, so an expired id is not found.
func (m *Manager) Get(id uuid.UUID) (*drilldown.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.reapLocked(now)
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastUsed = now
	return e.ctl, nil
}

// Lookup parses a textual id and returns its session.
func (m *Manager) Lookup(raw string) (*drilldown.Controller, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, ErrNotFound
	}
	return m.Get(id)
}

func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	m.closeLocked(id, "deleted")
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) reapLocked(now time.Time) {
	for id, e := range m.sessions {
		if now.Sub(e.lastUsed) >= m.opts.IdleTTL {
			m.closeLocked(id, "idle")
		}
	}
}

func (m *Manager) oldestLocked() uuid.UUID {
	var (
		oldest uuid.UUID
		at     time.Time
	)
	for id, e := range m.sessions {
		if at.IsZero() || e.lastUsed.Before(at) {
			oldest, at = id, e.lastUsed
		}
	}
	return oldest
}

func (m *Manager) closeLocked(id uuid.UUID, reason string) {
	delete(m.sessions, id)
	m.metrics.SessionClosed()
	m.log.Info("session closed", slog.String("session", id.String()), slog.String("reason", reason))
}
