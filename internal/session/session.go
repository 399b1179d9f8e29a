// Package session runs one zone editor instance per video source: it feeds
// operator input through the editor reducer, throttles live edits into the
// sync bridge, keeps the background frame fresh and renders the canvas.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/bridge"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/editor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/throttle"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// ErrClosed is returned by every operation on an unmounted session.
var ErrClosed = errors.New("editor session closed")

// Backend is everything a session needs from the zone backend.
type Backend interface {
	bridge.Backend
	backend.ImageFetcher
	FetchFrameURL(ctx context.Context, source string) (string, error)
}

// RejectedError wraps an input the editor refused. The session state is
// unchanged.
type RejectedError struct{ Err error }

func (e *RejectedError) Error() string { return e.Err.Error() }
func (e *RejectedError) Unwrap() error { return e.Err }

// Session is safe for concurrent use. Operator input is serialized; network
// calls run without holding the session lock.
type Session struct {
	source string
	cfg    Config
	be     Backend

	bridge   *bridge.Bridge
	throttle *throttle.Throttler[zone.List]
	preload  *backend.Preloader
	metrics  *metrics.Metrics
	log      *logger.Module
	notify   func(*Session)

	mu      sync.Mutex
	model   editor.Model
	bg      image.Image
	version uint64
	closed  bool

	frameMu      sync.Mutex
	frame        []byte
	frameVersion uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics records session activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithNotify registers fn to run after every visible change. It runs
// without the session lock held.
func WithNotify(fn func(*Session)) Option {
	return func(s *Session) { s.notify = fn }
}

// New builds an unmounted session for source. Call Start to load zones and
// begin polling.
func New(source string, be Backend, cfg Config, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		source:  source,
		cfg:     cfg,
		be:      be,
		preload: backend.NewPreloader(be),
		log:     logger.For("Session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bridge = bridge.New(source, be, bridge.WithMetrics(s.metrics))
	s.throttle = throttle.New(cfg.ThrottleInterval, s.bridge.Propose,
		throttle.WithClock(cfg.Clock),
		throttle.WithForwardHook(s.countForward))
	s.model = editor.New(nil, float64(cfg.Width), float64(cfg.Height), cfg.Tolerance)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Session) countForward(flushed bool) {
	if s.metrics == nil {
		return
	}
	if flushed {
		s.metrics.Flushes.Add(1)
	} else {
		s.metrics.ThrottledForwards.Add(1)
	}
}

// Source returns the source id.
func (s *Session) Source() string { return s.source }

// Bridge exposes the sync bridge.
func (s *Session) Bridge() *bridge.Bridge { return s.bridge }

// Start loads the zones and the first frame, then polls in the background
// until Close. A failed initial load leaves an empty, editable session.
func (s *Session) Start(ctx context.Context) error {
	err := s.Refresh(ctx)
	s.LoadFrame(ctx)

	s.startTicker(s.cfg.PollInterval, func(ctx context.Context) {
		if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Debug("poll %s: %v", s.source, err)
		}
	})
	s.startTicker(s.cfg.FrameInterval, s.LoadFrame)
	return err
}

func (s *Session) startTicker(every time.Duration, fn func(context.Context)) {
	if every <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
				fn(ctx)
				cancel()
			}
		}
	}()
}

// Dispatch applies one operator event. A rejected input returns a
// *RejectedError and leaves the session unchanged.
func (s *Session) Dispatch(ev editor.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.metrics != nil {
		switch ev.(type) {
		case editor.PointerDown, editor.PointerMove, editor.PointerUp, editor.PointerLeave:
			s.metrics.PointerEvents.Add(1)
		}
	}

	var effs []editor.Effect
	s.model, effs = editor.Reduce(s.model, ev)
	var rejected error
	for _, eff := range effs {
		switch e := eff.(type) {
		case editor.Edited:
			if e.Live {
				s.throttle.Push(e.Zones)
			} else {
				s.throttle.Cancel()
				s.bridge.Propose(e.Zones)
			}
		case editor.DragStarted:
			s.bridge.SetDragging(true)
		case editor.DragEnded:
			s.throttle.Flush()
			s.bridge.SetDragging(false)
		case editor.Rejected:
			rejected = e.Err
			if s.metrics != nil {
				s.metrics.Rejections.Add(1)
			}
		}
	}
	s.version++
	s.mu.Unlock()

	s.changed()
	if rejected != nil {
		return &RejectedError{Err: rejected}
	}
	return nil
}

func (s *Session) changed() {
	if s.notify != nil {
		s.notify(s)
	}
}

// Refresh fetches the backend zones and applies them when there are no
// unsaved edits and no drag in progress.
func (s *Session) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	fetched, err := s.bridge.Fetch(ctx)
	if err != nil {
		s.changed()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	applied := !s.model.Dragging() && s.bridge.Offer(fetched)
	if applied {
		s.model, _ = editor.Reduce(s.model, editor.ReplaceZones{Zones: fetched})
		s.version++
	}
	s.mu.Unlock()

	if applied {
		s.changed()
	}
	return nil
}

// Discard drops unsaved edits and reloads the backend list.
func (s *Session) Discard(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.model.Dragging() {
		s.mu.Unlock()
		return &RejectedError{Err: editor.ErrBusy}
	}
	s.throttle.Cancel()
	s.bridge.Discard()
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// Save persists the zone list. Provisional ids are replaced with the ids
// the backend assigned. On failure the local zones are kept.
func (s *Session) Save(ctx context.Context) (bridge.SaveResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return bridge.SaveResult{}, ErrClosed
	}
	// A drag still in its throttle window must reach the bridge first.
	s.throttle.Flush()
	s.mu.Unlock()

	res, err := s.bridge.Save(ctx)
	if err != nil {
		s.changed()
		return res, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return res, ErrClosed
	}
	s.model, _ = editor.Reduce(s.model, editor.ApplyIDs{Mapping: res.IDs})
	if res.Applied && !s.model.Dragging() {
		s.model, _ = editor.Reduce(s.model, editor.ReplaceZones{Zones: s.bridge.Zones()})
	}
	s.version++
	s.mu.Unlock()

	s.changed()
	return res, nil
}

// LoadFrame looks up the current frame URL and preloads it. Failures leave
// the canvas without a background.
func (s *Session) LoadFrame(ctx context.Context) {
	if s.isClosed() {
		return
	}
	u, err := s.be.FetchFrameURL(ctx, s.source)
	if err != nil {
		s.frameFailed(fmt.Errorf("frame url for %s: %w", s.source, err))
		return
	}
	s.preload.Load(s.ctx, u, s.frameLoaded, s.frameFailed)
}

func (s *Session) frameLoaded(img image.Image) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg = img
	s.version++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.FrameLoads.Add(1)
	}
	s.changed()
}

func (s *Session) frameFailed(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg = nil
	s.version++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.FrameLoadErrors.Add(1)
	}
	s.log.Warn("background frame unavailable: %v", err)
	s.bridge.Report(err)
	s.changed()
}

// Model returns a copy of the editor state.
func (s *Session) Model() editor.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Version increases with every visible change.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Closed reports whether the session was unmounted.
func (s *Session) Closed() bool { return s.isClosed() }

// Close unmounts the session: pending throttled updates are dropped, the
// frame preload is cancelled and polling stops. Later calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.throttle.Close()
	s.cancel()
	s.mu.Unlock()

	s.preload.Close()
	s.wg.Wait()
	s.log.Info("session %s closed", s.source)
}
