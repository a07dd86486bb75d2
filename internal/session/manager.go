package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/config"
	"github.com/local/pageforge/internal/imagerender"
	"github.com/local/pageforge/internal/metrics"
)

// Mirror receives session snapshots for external observability. Writes are
// best-effort; a failing mirror never blocks session mutation.
type Mirror interface {
	Write(ctx context.Context, snap Snapshot) error
}

// Manager owns the session set: creation, lookup, TTL eviction and the
// optional status mirror pump.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	root     context.Context
	conf     config.SessionConfig
	defaults imagerender.Settings
	maxScale float64

	mirror  Mirror
	updates chan Snapshot
}

// NewManager starts the eviction sweep and, when a mirror is configured, the
// mirror pump. Both stop when root is cancelled.
func NewManager(root context.Context, conf config.SessionConfig, defaults imagerender.Settings, maxScale float64, mirror Mirror) *Manager {
	m := &Manager{
		sessions: map[string]*Session{},
		root:     root,
		conf:     conf,
		defaults: defaults,
		maxScale: maxScale,
		mirror:   mirror,
		updates:  make(chan Snapshot, 256),
	}
	if mirror != nil {
		go m.pumpMirror()
	}
	go m.sweepLoop()
	return m
}

// GetOrCreate returns the session for id, or a fresh session (with a new ID)
// when id is empty or unknown. Callers re-read the ID to refresh cookies.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Touch()
		return s
	}
	s := newSession(uuid.NewString(), m.root, m.defaults, m.maxScale, m.enqueue)
	m.sessions[s.ID] = s
	metrics.SetActiveSessions(len(m.sessions))
	log.Info().Str("session_id", s.ID).Msg("session created")
	return s
}

// Get returns the session for id without creating one.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// enqueue hands a snapshot to the mirror pump. A full queue drops the
// snapshot; a later mutation will carry the newer state anyway.
func (m *Manager) enqueue(snap Snapshot) {
	if m.mirror == nil {
		return
	}
	select {
	case m.updates <- snap:
	default:
		log.Debug().Str("session_id", snap.ID).Msg("mirror queue full; snapshot dropped")
	}
}

func (m *Manager) pumpMirror() {
	for {
		select {
		case <-m.root.Done():
			return
		case snap := <-m.updates:
			ctx, cancel := context.WithTimeout(m.root, 5*time.Second)
			if err := m.mirror.Write(ctx, snap); err != nil {
				log.Warn().Err(err).Str("session_id", snap.ID).Msg("status mirror write failed")
			}
			cancel()
		}
	}
}

func (m *Manager) sweepLoop() {
	interval := m.conf.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.root.Done():
			return
		case <-t.C:
			m.evictIdle(time.Now())
		}
	}
}

// evictIdle drops sessions idle past the TTL, cancelling their runs so no
// goroutine keeps rendering for an evicted session.
func (m *Manager) evictIdle(now time.Time) {
	if m.conf.TTL <= 0 {
		return
	}
	cutoff := now.Add(-m.conf.TTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			s.Reset()
			delete(m.sessions, id)
			log.Info().Str("session_id", id).Msg("idle session evicted")
		}
	}
	metrics.SetActiveSessions(len(m.sessions))
}
