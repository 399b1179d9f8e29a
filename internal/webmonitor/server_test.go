package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

type stubBackend struct {
	mu      sync.Mutex
	zones   map[string]zone.List
	saveErr error
	saved   int
}

func (b *stubBackend) FetchZones(ctx context.Context, source string) (zone.List, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.zones[source].Clone(), nil
}

func (b *stubBackend) SaveZones(ctx context.Context, source string, zones zone.List, removeMissing bool) (zone.List, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return nil, b.saveErr
	}
	out := zones.Clone()
	for i := range out {
		if out[i].Provisional {
			b.saved++
			out[i].ID = fmt.Sprintf("srv-%d", b.saved)
			out[i].Provisional = false
		}
	}
	b.zones[source] = out.Clone()
	return out, nil
}

func (b *stubBackend) FetchFrameURL(ctx context.Context, source string) (string, error) {
	return "http://backend/frames/" + source + ".jpg", nil
}

func (b *stubBackend) FetchImage(ctx context.Context, url string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 32, 18)), nil
}

func gate() zone.Zone {
	z := zone.NewPolygon("gate", []zone.Point{{X: 0.1, Y: 0.1}, {X: 0.5, Y: 0.1}, {X: 0.5, Y: 0.5}})
	z.Threshold = 1
	return z
}

func newTestServer(t *testing.T, be *stubBackend) (*Server, http.Handler) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AssetsDir = t.TempDir()
	cfg.Session.Width, cfg.Session.Height = 1000, 500
	cfg.Session.PollInterval, cfg.Session.FrameInterval = 0, 0
	cfg.KeepAlive = time.Second
	srv := NewServer(cfg, be, metrics.New())
	t.Cleanup(srv.Close)
	return srv, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, rec.Body.String())
	}
	return snap
}

func TestOpenReturnsSnapshot(t *testing.T) {
	be := &stubBackend{zones: map[string]zone.List{"cam-1": {gate()}}}
	_, h := newTestServer(t, be)

	rec := do(t, h, http.MethodGet, "/api/sources/cam-1/editor?viewer=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snap := decodeSnapshot(t, rec)
	if snap.Source != "cam-1" || snap.Mode != "idle" || len(snap.Zones) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	rec = do(t, h, http.MethodGet, "/api/sources", nil)
	if !strings.Contains(rec.Body.String(), `"cam-1"`) {
		t.Fatalf("sources = %s", rec.Body.String())
	}
}

func TestUnmountedSourceIsNotFound(t *testing.T) {
	_, h := newTestServer(t, &stubBackend{zones: map[string]zone.List{}})
	for _, path := range []string{"/api/sources/cam-9/save", "/api/sources/cam-9/editor/events"} {
		if rec := do(t, h, http.MethodPost, path, map[string]any{"type": "undo"}); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodDelete, "/api/sources/cam-9/editor", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unmount status = %d", rec.Code)
	}
}

func TestDrawLineAndSave(t *testing.T) {
	be := &stubBackend{zones: map[string]zone.List{}}
	_, h := newTestServer(t, be)
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)

	steps := []map[string]any{
		{"type": "draw", "kind": "line"},
		{"type": "pointerdown", "x": 100, "y": 100},
		{"type": "pointerup", "x": 100, "y": 100},
		{"type": "pointerdown", "x": 500, "y": 300},
		{"type": "pointerup", "x": 500, "y": 300},
	}
	var rec *httptest.ResponseRecorder
	for _, step := range steps {
		rec = do(t, h, http.MethodPost, "/api/sources/cam-1/editor/events", step)
		if rec.Code != http.StatusOK {
			t.Fatalf("%v: status = %d %s", step, rec.Code, rec.Body.String())
		}
	}
	snap := decodeSnapshot(t, rec)
	if len(snap.Zones) != 1 || snap.Zones[0].Kind != zone.KindLine || !snap.Unsaved {
		t.Fatalf("after drawing: %+v", snap)
	}

	rec = do(t, h, http.MethodPost, "/api/sources/cam-1/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d %s", rec.Code, rec.Body.String())
	}
	var saved struct {
		IDs      map[string]string `json:"ids"`
		Applied  bool              `json:"applied"`
		Snapshot session.Snapshot  `json:"snapshot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatal(err)
	}
	if saved.IDs["zone1"] != "srv-1" || !saved.Applied {
		t.Fatalf("save result: %+v", saved)
	}
	if saved.Snapshot.Unsaved || saved.Snapshot.Zones[0].ID != "srv-1" {
		t.Fatalf("snapshot after save: %+v", saved.Snapshot)
	}
}

func TestEventValidation(t *testing.T) {
	_, h := newTestServer(t, &stubBackend{zones: map[string]zone.List{}})
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)

	cases := []struct {
		body any
		want int
	}{
		{map[string]any{"type": "draw", "kind": "circle"}, http.StatusBadRequest},
		{map[string]any{"type": "teleport"}, http.StatusBadRequest},
		{map[string]any{"type": "resize", "width": 0, "height": 10}, http.StatusBadRequest},
		{map[string]any{"type": "select", "index": 3}, http.StatusNotFound},
		{map[string]any{"type": "draw", "kind": "polygon"}, http.StatusOK},
		{map[string]any{"type": "complete"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		rec := do(t, h, http.MethodPost, "/api/sources/cam-1/editor/events", tc.body)
		if rec.Code != tc.want {
			t.Errorf("%v: status = %d, want %d (%s)", tc.body, rec.Code, tc.want, rec.Body.String())
		}
	}
}

func TestPatchAndDeleteZone(t *testing.T) {
	be := &stubBackend{zones: map[string]zone.List{"cam-1": {gate()}}}
	_, h := newTestServer(t, be)
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)

	rec := do(t, h, http.MethodPatch, "/api/sources/cam-1/zones/0", map[string]any{
		"id":                     "entrance",
		"min_crossing_threshold": 3,
		"toggle_anchor":          []string{"TOP_LEFT"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d %s", rec.Code, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	z := snap.Zones[0]
	if z.ID != "entrance" || z.Threshold != 3 || !strings.Contains(fmt.Sprint(z.Anchors), "TOP_LEFT") {
		t.Fatalf("patched zone = %+v", z)
	}

	if rec := do(t, h, http.MethodPatch, "/api/sources/cam-1/zones/0", map[string]any{"min_crossing_threshold": 0}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("threshold 0: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPatch, "/api/sources/cam-1/zones/0", map[string]any{"toggle_anchor": []string{"NOWHERE"}}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad anchor: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPatch, "/api/sources/cam-1/zones/x", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad index: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/sources/cam-1/zones/4", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("delete out of range: status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/sources/cam-1/zones/0", nil)
	if snap := decodeSnapshot(t, rec); len(snap.Zones) != 0 || !snap.Unsaved {
		t.Fatalf("after delete: %+v", snap)
	}
}

func TestRejectedPatchLeavesZoneUntouched(t *testing.T) {
	be := &stubBackend{zones: map[string]zone.List{"cam-1": {gate()}}}
	_, h := newTestServer(t, be)
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)

	rec := do(t, h, http.MethodPatch, "/api/sources/cam-1/zones/0", map[string]any{
		"id":                     "renamed",
		"min_crossing_threshold": 0,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	snap := decodeSnapshot(t, do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil))
	if snap.Zones[0].ID != "gate" || snap.Unsaved || snap.CanUndo {
		t.Fatalf("after rejected patch: id=%q unsaved=%v undo=%v", snap.Zones[0].ID, snap.Unsaved, snap.CanUndo)
	}
}

func TestResizeThenDrawUsesReportedCanvas(t *testing.T) {
	be := &stubBackend{zones: map[string]zone.List{}}
	_, h := newTestServer(t, be)
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)

	rec := do(t, h, http.MethodPost, "/api/sources/cam-1/editor/events", map[string]any{"type": "resize", "width": 500, "height": 250})
	snap := decodeSnapshot(t, rec)
	if snap.Canvas != [2]int{500, 250} {
		t.Fatalf("canvas = %v", snap.Canvas)
	}
	w, ht := float64(snap.Canvas[0]), float64(snap.Canvas[1])
	for _, step := range []map[string]any{
		{"type": "draw", "kind": "line"},
		{"type": "pointerdown", "x": 0.1 * w, "y": 0.5 * ht},
		{"type": "pointerup", "x": 0.1 * w, "y": 0.5 * ht},
		{"type": "pointerdown", "x": 0.9 * w, "y": 0.5 * ht},
	} {
		rec = do(t, h, http.MethodPost, "/api/sources/cam-1/editor/events", step)
		if rec.Code != http.StatusOK {
			t.Fatalf("%v: status = %d", step, rec.Code)
		}
	}
	snap = decodeSnapshot(t, rec)
	if len(snap.Zones) != 1 {
		t.Fatalf("zones = %+v", snap.Zones)
	}
	if z := snap.Zones[0]; z.Start() != (zone.Point{X: 0.1, Y: 0.5}) || z.End() != (zone.Point{X: 0.9, Y: 0.5}) {
		t.Fatalf("line = %+v", z.Points)
	}

	rec = do(t, h, http.MethodGet, "/api/sources/cam-1/canvas.png", nil)
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 500 || b.Dy() != 250 {
		t.Fatalf("canvas.png bounds = %v", b)
	}
}

func TestSaveFailureIsBadGateway(t *testing.T) {
	be := &stubBackend{zones: map[string]zone.List{"cam-1": {gate()}}}
	_, h := newTestServer(t, be)
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)
	do(t, h, http.MethodDelete, "/api/sources/cam-1/zones/0", nil)

	be.mu.Lock()
	be.saveErr = fmt.Errorf("backend down")
	be.mu.Unlock()

	rec := do(t, h, http.MethodPost, "/api/sources/cam-1/save", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Error    string           `json:"error"`
		Snapshot session.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(payload.Error, "backend down") || payload.Snapshot.Banner == nil || !payload.Snapshot.Unsaved {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestDiscardRestoresBackendZones(t *testing.T) {
	be := &stubBackend{zones: map[string]zone.List{"cam-1": {gate()}}}
	_, h := newTestServer(t, be)
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)
	do(t, h, http.MethodDelete, "/api/sources/cam-1/zones/0", nil)

	if snap := decodeSnapshot(t, do(t, h, http.MethodPost, "/api/sources/cam-1/refresh", nil)); len(snap.Zones) != 0 {
		t.Fatal("refresh overwrote unsaved edits")
	}
	snap := decodeSnapshot(t, do(t, h, http.MethodPost, "/api/sources/cam-1/refresh?discard=true", nil))
	if len(snap.Zones) != 1 || snap.Unsaved {
		t.Fatalf("after discard: %+v", snap)
	}
}

func TestCanvasEndpoints(t *testing.T) {
	_, h := newTestServer(t, &stubBackend{zones: map[string]zone.List{"cam-1": {gate()}}})
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)

	rec := do(t, h, http.MethodGet, "/api/sources/cam-1/canvas.jpg", nil)
	if rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	img, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 1000 || b.Dy() != 500 {
		t.Fatalf("canvas size = %v", b)
	}

	rec = do(t, h, http.MethodGet, "/api/sources/cam-1/canvas.png", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("png: %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestStateStreamProtobuf(t *testing.T) {
	_, h := newTestServer(t, &stubBackend{zones: map[string]zone.List{"cam-1": {gate()}}})
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sources/cam-1/editor")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/sources/cam-1/editor/stream", nil)
	req.Header.Set("Accept", "application/x-protobuf")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Content-Format"); got != "application/protobuf" {
		t.Fatalf("X-Content-Format = %q", got)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
	if !ok {
		t.Fatalf("unexpected line %q", line)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatal(err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		t.Fatal(err)
	}
	fields := st.GetFields()
	if fields["source"].GetStringValue() != "cam-1" {
		t.Fatalf("source = %v", fields["source"])
	}
	if len(fields["zones"].GetListValue().GetValues()) != 1 {
		t.Fatalf("zones = %v", fields["zones"])
	}
	if fields["timestamp"].GetStructValue().GetFields()["seconds"].GetNumberValue() <= 0 {
		t.Fatal("timestamp seconds missing")
	}
}

func TestStateStreamPushesChanges(t *testing.T) {
	_, h := newTestServer(t, &stubBackend{zones: map[string]zone.List{"cam-1": {gate()}}})
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sources/cam-1/editor")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/sources/cam-1/editor/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	next := func() session.Snapshot {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatal(err)
			}
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var snap session.Snapshot
				if err := json.Unmarshal([]byte(data), &snap); err != nil {
					t.Fatal(err)
				}
				return snap
			}
		}
	}
	if first := next(); len(first.Zones) != 1 {
		t.Fatalf("initial snapshot zones = %d", len(first.Zones))
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sources/cam-1/zones/0", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	del.Body.Close()

	// Frame loads may push snapshots of their own first.
	for range 5 {
		if snap := next(); len(snap.Zones) == 0 {
			if !snap.Unsaved {
				t.Fatal("pushed snapshot not marked unsaved")
			}
			return
		}
	}
	t.Fatal("deletion never reached the stream")
}

func TestIndexAndMetrics(t *testing.T) {
	_, h := newTestServer(t, &stubBackend{zones: map[string]zone.List{}})
	do(t, h, http.MethodGet, "/api/sources/cam-1/editor", nil)

	rec := do(t, h, http.MethodGet, "/", nil)
	if !strings.Contains(rec.Body.String(), "Zone Editor") {
		t.Fatal("index page missing title")
	}
	rec = do(t, h, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "zone_editor_active_sessions 1") {
		t.Fatalf("metrics output:\n%s", rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/assets/editor.css", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing asset status = %d", rec.Code)
	}
}
