package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/editor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/throttle"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

type fakeBackend struct {
	mu        sync.Mutex
	zones     map[string]zone.List
	saveErr   error
	frameErr  error
	nextID    int
	saveCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{zones: make(map[string]zone.List)}
}

func (f *fakeBackend) set(source string, zones zone.List) {
	f.mu.Lock()
	f.zones[source] = zones.Clone()
	f.mu.Unlock()
}

func (f *fakeBackend) FetchZones(ctx context.Context, source string) (zone.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zones[source].Clone(), nil
}

func (f *fakeBackend) SaveZones(ctx context.Context, source string, zones zone.List, removeMissing bool) (zone.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	out := zones.Clone()
	for i := range out {
		if out[i].Provisional {
			f.nextID++
			out[i].ID = fmt.Sprintf("srv-%d", f.nextID)
			out[i].Provisional = false
		}
	}
	f.zones[source] = out.Clone()
	return out, nil
}

func (f *fakeBackend) FetchFrameURL(ctx context.Context, source string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frameErr != nil {
		return "", f.frameErr
	}
	return "http://backend/frames/" + source + ".jpg", nil
}

func (f *fakeBackend) FetchImage(ctx context.Context, url string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 16, 9)), nil
}

// manualClock never fires on its own.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool { t.stopped = true; return true }

func (c *manualClock) AfterFunc(d time.Duration, f func()) throttle.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

// fireAll runs every callback, stopped or not.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	timers := c.timers
	c.mu.Unlock()
	for _, t := range timers {
		t.f()
	}
}

func testConfig(clk throttle.Clock) Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 1000, 500
	cfg.PollInterval, cfg.FrameInterval = 0, 0
	cfg.Clock = clk
	return cfg
}

func startSession(t *testing.T, be *fakeBackend, clk throttle.Clock, m *metrics.Metrics) *Session {
	t.Helper()
	s := New("cam-1", be, testConfig(clk), WithMetrics(m))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func at(x, y float64) r2.Vec { return r2.Vec{X: x * 1000, Y: y * 500} }

func dispatch(t *testing.T, s *Session, events ...editor.Event) {
	t.Helper()
	for _, ev := range events {
		if err := s.Dispatch(ev); err != nil {
			t.Fatalf("Dispatch(%T): %v", ev, err)
		}
	}
}

func gate() zone.Zone {
	return zone.NewLine("gate", zone.Point{X: 0.2, Y: 0.5}, zone.Point{X: 0.6, Y: 0.8})
}

func TestVertexDragFlushesOnlyFinalPosition(t *testing.T) {
	be := newFakeBackend()
	be.set("cam-1", zone.List{gate()})
	m := metrics.New()
	s := startSession(t, be, &manualClock{}, m)

	events := []editor.Event{editor.PointerDown{Pos: at(0.2, 0.5)}}
	for x := 0.3; x < 0.9; x += 0.1 {
		events = append(events, editor.PointerMove{Pos: at(x, 0.5)})
	}
	events = append(events, editor.PointerMove{Pos: at(0.9, 0.5)}, editor.PointerUp{Pos: at(0.9, 0.5)})
	dispatch(t, s, events...)

	if f, tf := m.Flushes.Load(), m.ThrottledForwards.Load(); f != 1 || tf != 0 {
		t.Fatalf("flushes=%d throttled=%d, want exactly one flush", f, tf)
	}
	if got := s.Bridge().Zones()[0].Start(); got != (zone.Point{X: 0.9, Y: 0.5}) {
		t.Fatalf("bridge start = %+v", got)
	}
	if !s.Bridge().Unsaved() || s.Bridge().Dragging() {
		t.Fatalf("unsaved=%v dragging=%v", s.Bridge().Unsaved(), s.Bridge().Dragging())
	}
}

func TestReleaseFlushesReleasePosition(t *testing.T) {
	be := newFakeBackend()
	be.set("cam-1", zone.List{gate()})
	m := metrics.New()
	s := startSession(t, be, &manualClock{}, m)

	dispatch(t, s,
		editor.PointerDown{Pos: at(0.2, 0.5)},
		editor.PointerMove{Pos: at(0.5, 0.5)},
		editor.PointerUp{Pos: at(0.9, 0.5)},
	)
	if f := m.Flushes.Load(); f != 1 {
		t.Fatalf("flushes = %d", f)
	}
	if got := s.Bridge().Zones()[0].Start(); got != (zone.Point{X: 0.9, Y: 0.5}) {
		t.Fatalf("flushed start = %+v", got)
	}
}

func TestResizeDrivesCanvasSize(t *testing.T) {
	be := newFakeBackend()
	s := startSession(t, be, &manualClock{}, nil)

	dispatch(t, s, editor.Resize{Width: 500, Height: 250})
	snap := s.Snapshot()
	if snap.Canvas != [2]int{500, 250} {
		t.Fatalf("canvas = %v", snap.Canvas)
	}
	if b := s.Render().Bounds(); b.Dx() != 500 || b.Dy() != 250 {
		t.Fatalf("render bounds = %v", b)
	}

	// Clicks in the reported canvas map to the same normalized points.
	w, h := float64(snap.Canvas[0]), float64(snap.Canvas[1])
	dispatch(t, s,
		editor.StartDraw{Kind: zone.KindLine},
		editor.PointerDown{Pos: r2.Vec{X: 0.1 * w, Y: 0.5 * h}},
		editor.PointerUp{Pos: r2.Vec{X: 0.1 * w, Y: 0.5 * h}},
		editor.PointerDown{Pos: r2.Vec{X: 0.9 * w, Y: 0.5 * h}},
	)
	zones := s.Bridge().Zones()
	if len(zones) != 1 {
		t.Fatalf("zones = %+v", zones)
	}
	if zones[0].Start() != (zone.Point{X: 0.1, Y: 0.5}) || zones[0].End() != (zone.Point{X: 0.9, Y: 0.5}) {
		t.Fatalf("line = %+v -> %+v", zones[0].Start(), zones[0].End())
	}
}

func TestCanvasUsesLatestCandidateDuringThrottle(t *testing.T) {
	be := newFakeBackend()
	be.set("cam-1", zone.List{gate()})
	s := startSession(t, be, &manualClock{}, nil)

	dispatch(t, s, editor.PointerDown{Pos: at(0.2, 0.5)}, editor.PointerMove{Pos: at(0.7, 0.5)})
	if got := s.Model().Zones[0].Start(); got != (zone.Point{X: 0.7, Y: 0.5}) {
		t.Fatalf("model start = %+v", got)
	}
	// Nothing reached the bridge yet.
	if got := s.Bridge().Zones()[0].Start(); got != (zone.Point{X: 0.2, Y: 0.5}) {
		t.Fatalf("bridge start = %+v", got)
	}
	if !s.Snapshot().Dragging {
		t.Fatal("snapshot not dragging")
	}
}

func TestRefreshGatedByUnsavedEdits(t *testing.T) {
	be := newFakeBackend()
	be.set("cam-1", zone.List{gate()})
	s := startSession(t, be, &manualClock{}, nil)

	dispatch(t, s, editor.SetThreshold{Index: 0, Value: 3})
	be.set("cam-1", zone.List{gate(), zone.NewLine("other", zone.Point{X: 0.1, Y: 0.1}, zone.Point{X: 0.2, Y: 0.1})})

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if zs := s.Model().Zones; len(zs) != 1 || zs[0].Threshold != 3 {
		t.Fatalf("refresh clobbered unsaved edit: %+v", zs)
	}

	if _, err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	be.set("cam-1", zone.List{gate(), zone.NewLine("other", zone.Point{X: 0.1, Y: 0.1}, zone.Point{X: 0.2, Y: 0.1})})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if zs := s.Model().Zones; len(zs) != 2 {
		t.Fatalf("refresh after save not applied: %+v", zs)
	}
}

func TestRefreshSuppressedWhileDragging(t *testing.T) {
	be := newFakeBackend()
	be.set("cam-1", zone.List{gate()})
	s := startSession(t, be, &manualClock{}, nil)

	dispatch(t, s, editor.PointerDown{Pos: at(0.2, 0.5)})
	be.set("cam-1", zone.List{})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(s.Model().Zones) != 1 {
		t.Fatal("refresh applied during drag")
	}
}

func TestSaveReplacesProvisionalIDs(t *testing.T) {
	be := newFakeBackend()
	s := startSession(t, be, &manualClock{}, nil)

	dispatch(t, s,
		editor.StartDraw{Kind: zone.KindLine},
		editor.PointerDown{Pos: at(0.1, 0.5)},
		editor.PointerDown{Pos: at(0.9, 0.5)},
	)
	if z := s.Model().Zones[0]; z.ID != "zone1" || !z.Provisional {
		t.Fatalf("zone = %+v", z)
	}
	res, err := s.Save(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.IDs["zone1"] != "srv-1" {
		t.Fatalf("ids = %v", res.IDs)
	}
	z := s.Model().Zones[0]
	if z.ID != "srv-1" || z.Provisional {
		t.Fatalf("zone after save = %+v", z)
	}
	if s.Snapshot().Unsaved {
		t.Fatal("still unsaved after save")
	}
}

func TestSaveFailureKeepsLocalZones(t *testing.T) {
	be := newFakeBackend()
	be.saveErr = errors.New("503 service unavailable")
	s := startSession(t, be, &manualClock{}, nil)

	dispatch(t, s,
		editor.StartDraw{Kind: zone.KindLine},
		editor.PointerDown{Pos: at(0.1, 0.5)},
		editor.PointerDown{Pos: at(0.9, 0.5)},
	)
	if _, err := s.Save(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	snap := s.Snapshot()
	if len(snap.Zones) != 1 || !snap.Unsaved || snap.Banner == nil {
		t.Fatalf("snapshot after failed save: zones=%d unsaved=%v banner=%v", len(snap.Zones), snap.Unsaved, snap.Banner)
	}
	// Still editable.
	dispatch(t, s, editor.SetThreshold{Index: 0, Value: 2})
}

func TestRejectedInput(t *testing.T) {
	s := startSession(t, newFakeBackend(), &manualClock{}, nil)
	err := s.Dispatch(editor.SetThreshold{Index: 0, Value: 1})
	var rej *RejectedError
	if !errors.As(err, &rej) || !errors.Is(err, editor.ErrIndex) {
		t.Fatalf("err = %v", err)
	}
}

func TestCloseCancelsPendingFlush(t *testing.T) {
	be := newFakeBackend()
	be.set("cam-1", zone.List{gate()})
	clk := &manualClock{}
	s := New("cam-1", be, testConfig(clk))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	dispatch(t, s, editor.PointerDown{Pos: at(0.2, 0.5)}, editor.PointerMove{Pos: at(0.5, 0.5)})
	s.Close()
	clk.fireAll()

	if got := s.Bridge().Zones()[0].Start(); got != (zone.Point{X: 0.2, Y: 0.5}) {
		t.Fatalf("throttled update forwarded after close: %+v", got)
	}
	if err := s.Dispatch(editor.PointerUp{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("dispatch after close: %v", err)
	}
	s.Close()
}

func TestFrameLoadAndFailure(t *testing.T) {
	be := newFakeBackend()
	s := startSession(t, be, &manualClock{}, nil)

	deadline := time.Now().Add(2 * time.Second)
	for !s.Snapshot().Background {
		if time.Now().After(deadline) {
			t.Fatal("background frame never loaded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	be.mu.Lock()
	be.frameErr = errors.New("no frame")
	be.mu.Unlock()
	s.LoadFrame(context.Background())
	snap := s.Snapshot()
	if snap.Background || snap.Banner == nil {
		t.Fatalf("background=%v banner=%v", snap.Background, snap.Banner)
	}
	// The canvas still renders without a background.
	if _, err := s.JPEG(); err != nil {
		t.Fatal(err)
	}
}

func TestNotifyOnChange(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s := New("cam-1", newFakeBackend(), testConfig(&manualClock{}), WithNotify(func(*Session) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer s.Close()

	dispatch(t, s, editor.StartDraw{Kind: zone.KindPolygon})
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("notify calls = %d", calls)
	}
}

func TestSnapshotDraft(t *testing.T) {
	s := startSession(t, newFakeBackend(), &manualClock{}, nil)
	dispatch(t, s, editor.StartDraw{Kind: zone.KindPolygon}, editor.PointerDown{Pos: at(0.5, 0.5)})
	snap := s.Snapshot()
	if snap.Mode != "drawing" || snap.Draft == nil || len(snap.Draft.Points) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Draft.Caption != "Need at least 3 points (1 so far)" {
		t.Fatalf("caption = %q", snap.Draft.Caption)
	}
}
