package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/bridge"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/editor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/render"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// Server serves the zone editor dashboard.
type Server struct {
	cfg      Config
	sessions *session.Manager
	metrics  *metrics.Metrics
	log      *logger.Module

	mu    sync.Mutex
	feeds map[*session.Session]*sourceFeed
}

// NewServer returns a dashboard server editing zones stored in be.
func NewServer(cfg Config, be session.Backend, m *metrics.Metrics) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}
	if cfg.Session.RequestTimeout <= 0 {
		cfg.Session.RequestTimeout = session.DefaultConfig().RequestTimeout
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:     cfg,
		metrics: m,
		log:     logger.For("WebMonitor"),
		feeds:   make(map[*session.Session]*sourceFeed),
	}
	s.sessions = session.NewManager(be, cfg.Session, m, s.invalidate)
	return s
}

// Sessions exposes the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /api/sources", s.handleSources)

	mux.HandleFunc("GET /api/sources/{source}/editor", s.handleOpen)
	mux.HandleFunc("DELETE /api/sources/{source}/editor", s.handleUnmount)
	mux.HandleFunc("POST /api/sources/{source}/editor/events", s.handleEvent)
	mux.HandleFunc("GET /api/sources/{source}/editor/stream", s.handleStateStream)
	mux.HandleFunc("PATCH /api/sources/{source}/zones/{index}", s.handlePatchZone)
	mux.HandleFunc("DELETE /api/sources/{source}/zones/{index}", s.handleDeleteZone)
	mux.HandleFunc("POST /api/sources/{source}/save", s.handleSave)
	mux.HandleFunc("POST /api/sources/{source}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/sources/{source}/canvas.jpg", s.handleCanvasJPEG)
	mux.HandleFunc("GET /api/sources/{source}/canvas.png", s.handleCanvasPNG)
	mux.HandleFunc("GET /api/sources/{source}/canvas/stream", s.handleCanvasStream)

	return mux
}

// Close unmounts every session and disconnects stream clients.
func (s *Server) Close() {
	s.sessions.Close()
	s.mu.Lock()
	feeds := s.feeds
	s.feeds = make(map[*session.Session]*sourceFeed)
	s.mu.Unlock()
	for _, f := range feeds {
		f.Stop()
	}
}

// invalidate is the session change hook.
func (s *Server) invalidate(sess *session.Session) {
	s.mu.Lock()
	f, ok := s.feeds[sess]
	s.mu.Unlock()
	if ok {
		f.Invalidate()
	}
}

// feedFor returns the running feed of sess, starting one on first use.
func (s *Server) feedFor(sess *session.Session) *sourceFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.feeds[sess]; ok {
		return f
	}
	f := newSourceFeed(sess, s.metrics)
	f.Start()
	s.feeds[sess] = f
	return f
}

// pruneFeeds stops the feeds of unmounted sessions.
func (s *Server) pruneFeeds() {
	s.mu.Lock()
	var stale []*sourceFeed
	for sess, f := range s.feeds {
		if sess.Closed() {
			stale = append(stale, f)
			delete(s.feeds, sess)
		}
	}
	s.mu.Unlock()
	for _, f := range stale {
		f.Stop()
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources := s.sessions.Sources()
	slices.Sort(sources)
	writeJSON(w, map[string]any{"sources": sources})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.Session.RequestTimeout)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	viewer := r.URL.Query().Get("viewer")

	ctx, cancel := s.requestContext(r)
	defer cancel()
	sess, err := s.sessions.Open(ctx, viewer, source)
	s.pruneFeeds()
	if err != nil {
		// The session is mounted either way; the banner reports the failure.
		s.log.Warn("open %s: %v", source, err)
	}
	writeJSON(w, sess.Snapshot())
}

func (s *Server) handleUnmount(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Unmount(r.PathValue("source")) {
		writeError(w, "source not mounted", http.StatusNotFound)
		return
	}
	s.pruneFeeds()
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the mounted session of the request path, writing a 404
// when there is none.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("source"))
	if !ok {
		writeError(w, "source not mounted", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// eventRequest is the body of POST .../editor/events. Coordinates are
// canvas pixels.
type eventRequest struct {
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Kind   string  `json:"kind"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Index  *int    `json:"index"`
}

func (req eventRequest) event() (editor.Event, error) {
	pos := r2.Vec{X: req.X, Y: req.Y}
	switch req.Type {
	case "pointerdown":
		return editor.PointerDown{Pos: pos}, nil
	case "pointermove":
		return editor.PointerMove{Pos: pos}, nil
	case "pointerup":
		return editor.PointerUp{Pos: pos}, nil
	case "pointerleave":
		return editor.PointerLeave{}, nil
	case "draw":
		kind := zone.Kind(req.Kind)
		if kind != zone.KindPolygon && kind != zone.KindLine {
			return nil, fmt.Errorf("%w: %q", zone.ErrUnknownKind, req.Kind)
		}
		return editor.StartDraw{Kind: kind}, nil
	case "complete":
		return editor.CompleteDraw{}, nil
	case "cancel":
		return editor.CancelDraw{}, nil
	case "resize":
		if req.Width <= 0 || req.Height <= 0 {
			return nil, fmt.Errorf("invalid canvas size %gx%g", req.Width, req.Height)
		}
		return editor.Resize{Width: req.Width, Height: req.Height}, nil
	case "select":
		index := editor.NoSelection
		if req.Index != nil {
			index = *req.Index
		}
		return editor.SelectZone{Index: index}, nil
	case "undo":
		return editor.Undo{}, nil
	case "redo":
		return editor.Redo{}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", req.Type)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid event data", http.StatusBadRequest)
		return
	}
	ev, err := req.event()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := sess.Dispatch(ev); err != nil {
		writeSessionError(w, sess, err)
		return
	}
	writeJSON(w, sess.Snapshot())
}

// zonePatch edits one zone. Fields apply in declaration order as one edit:
// a rejected field leaves the zone untouched.
type zonePatch struct {
	ID           *string  `json:"id"`
	Threshold    *int     `json:"min_crossing_threshold"`
	ToggleAnchor []string `json:"toggle_anchor"`
}

func (p zonePatch) event(index int) (editor.Event, error) {
	ev := editor.EditZone{Index: index, ID: p.ID, Threshold: p.Threshold}
	for _, tag := range p.ToggleAnchor {
		a, err := zone.ParseAnchor(tag)
		if err != nil {
			return nil, err
		}
		ev.Toggle = append(ev.Toggle, a)
	}
	return ev, nil
}

func pathIndex(r *http.Request) (int, error) {
	return strconv.Atoi(r.PathValue("index"))
}

func (s *Server) handlePatchZone(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, "Invalid zone index", http.StatusBadRequest)
		return
	}
	var patch zonePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, "Invalid zone data", http.StatusBadRequest)
		return
	}
	ev, err := patch.event(index)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := sess.Dispatch(ev); err != nil {
		writeSessionError(w, sess, err)
		return
	}
	writeJSON(w, sess.Snapshot())
}

func (s *Server) handleDeleteZone(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, "Invalid zone index", http.StatusBadRequest)
		return
	}
	if err := sess.Dispatch(editor.DeleteZone{Index: index}); err != nil {
		writeSessionError(w, sess, err)
		return
	}
	writeJSON(w, sess.Snapshot())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := sess.Save(ctx)
	if err != nil {
		writeSessionError(w, sess, err)
		return
	}
	writeJSON(w, map[string]any{
		"saved":    len(res.Saved),
		"ids":      res.IDs,
		"applied":  res.Applied,
		"snapshot": sess.Snapshot(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	var err error
	if discard, _ := strconv.ParseBool(r.URL.Query().Get("discard")); discard {
		err = sess.Discard(ctx)
	} else {
		err = sess.Refresh(ctx)
	}
	if err != nil {
		writeSessionError(w, sess, err)
		return
	}
	writeJSON(w, sess.Snapshot())
}

func (s *Server) handleCanvasJPEG(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	data, err := sess.JPEG()
	if err != nil {
		writeError(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleCanvasPNG(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	data, err := render.EncodePNG(sess.Render())
	if err != nil {
		writeError(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleCanvasStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	feed := s.feedFor(sess)
	id, frameCh := feed.canvas.Subscribe()
	defer feed.canvas.Unsubscribe(id)

	first, err := sess.JPEG()
	if err != nil {
		s.log.Warn("render %s: %v", sess.Source(), err)
		first = nil
	}
	streamMJPEGFromChannel(w, r, first, frameCh, s.cfg.KeepAlive)
}

func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	feed := s.feedFor(sess)
	id, eventCh := feed.state.Subscribe()
	defer feed.state.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	first, err := serializeSnapshot(sess.Snapshot())
	if err != nil {
		s.log.Error("serialize %s: %v", sess.Source(), err)
		first = nil
	}
	streamStateEventsFromChannel(w, r, first, eventCh, useProtobuf, s.cfg.KeepAlive)
}

// errorStatus maps session errors onto HTTP statuses.
func errorStatus(err error) int {
	var rejected *session.RejectedError
	switch {
	case errors.Is(err, editor.ErrIndex), errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	case errors.As(err, &rejected), errors.Is(err, bridge.ErrInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeSessionError(w http.ResponseWriter, sess *session.Session, err error) {
	status := errorStatus(err)
	payload := map[string]any{"error": err.Error()}
	if !errors.Is(err, session.ErrClosed) {
		payload["snapshot"] = sess.Snapshot()
	}
	writeJSONWithStatus(w, payload, status)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSONWithStatus(w, map[string]any{"error": msg}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
