package session

import (
	"context"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/metrics"
)

// DefaultViewer is used for clients that do not identify themselves.
const DefaultViewer = "default"

// Manager keeps one session per source. A viewer has at most one source
// open; when the last viewer leaves a source its session is closed.
type Manager struct {
	be      Backend
	cfg     Config
	metrics *metrics.Metrics
	notify  func(*Session)
	log     *logger.Module

	mu       sync.Mutex
	sessions map[string]*Session
	viewers  map[string]string // viewer -> source
}

// NewManager returns an empty manager. notify may be nil.
func NewManager(be Backend, cfg Config, m *metrics.Metrics, notify func(*Session)) *Manager {
	return &Manager{
		be:       be,
		cfg:      cfg,
		metrics:  m,
		notify:   notify,
		log:      logger.For("Sessions"),
		sessions: make(map[string]*Session),
		viewers:  make(map[string]string),
	}
}

// Open mounts source for viewer and returns its session, starting it if it
// is new. If viewer had another source open, that source loses the viewer
// and is closed when nobody else views it.
func (m *Manager) Open(ctx context.Context, viewer, source string) (*Session, error) {
	if viewer == "" {
		viewer = DefaultViewer
	}

	m.mu.Lock()
	var stale *Session
	if prev, ok := m.viewers[viewer]; ok && prev != source {
		delete(m.viewers, viewer)
		stale = m.releaseLocked(prev)
	}
	m.viewers[viewer] = source
	s, ok := m.sessions[source]
	if !ok {
		s = New(source, m.be, m.cfg, WithMetrics(m.metrics), WithNotify(m.notify))
		m.sessions[source] = s
		if m.metrics != nil {
			m.metrics.ActiveSessions.Add(1)
		}
	}
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if ok {
		return s, nil
	}
	m.log.Info("mounted editor for %s (viewer %s)", source, viewer)
	if err := s.Start(ctx); err != nil {
		// The session stays usable; the banner carries the failure.
		return s, err
	}
	return s, nil
}

// releaseLocked removes source when no viewer references it and returns the
// session to close. Caller holds mu.
func (m *Manager) releaseLocked(source string) *Session {
	for _, src := range m.viewers {
		if src == source {
			return nil
		}
	}
	s, ok := m.sessions[source]
	if !ok {
		return nil
	}
	delete(m.sessions, source)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(-1)
	}
	return s
}

// Get returns the mounted session for source.
func (m *Manager) Get(source string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[source]
	return s, ok
}

// Sources lists the mounted sources.
func (m *Manager) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for src := range m.sessions {
		out = append(out, src)
	}
	return out
}

// Unmount closes the session of source regardless of its viewers.
func (m *Manager) Unmount(source string) bool {
	m.mu.Lock()
	s, ok := m.sessions[source]
	if ok {
		delete(m.sessions, source)
		for v, src := range m.viewers {
			if src == source {
				delete(m.viewers, v)
			}
		}
		if m.metrics != nil {
			m.metrics.ActiveSessions.Add(-1)
		}
	}
	m.mu.Unlock()

	if ok {
		s.Close()
		m.log.Info("unmounted editor for %s", source)
	}
	return ok
}

// Close unmounts every session.
func (m *Manager) Close() {
	for _, src := range m.Sources() {
		m.Unmount(src)
	}
}
