package apicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBackendURL     = "http://localhost:8000"
	defaultEditorURL      = "http://localhost:8090"
	defaultRequestTimeout = 2 * time.Second
)

type compatClient struct {
	baseURL string
	client  *http.Client
}

// newCompatClient targets the server named by env (falling back to
// fallback) and skips the test when probe does not answer.
func newCompatClient(t *testing.T, env, fallback, probe string) *compatClient {
	t.Helper()
	baseURL := strings.TrimRight(os.Getenv(env), "/")
	if baseURL == "" {
		baseURL = fallback
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+probe) {
		t.Skipf("server not reachable at %s (set %s to run)", baseURL, env)
	}

	return &compatClient{
		baseURL: baseURL,
		client:  client,
	}
}

func newBackendClient(t *testing.T) *compatClient {
	return newCompatClient(t, "ZONE_BACKEND_URL", defaultBackendURL, "/health/live")
}

func newEditorClient(t *testing.T) *compatClient {
	return newCompatClient(t, "ZONE_EDITOR_URL", defaultEditorURL, "/")
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

// uniqueSource keeps runs against a shared server apart.
func uniqueSource(t *testing.T) string {
	return fmt.Sprintf("compat-%s-%d", strings.ToLower(t.Name()), time.Now().UnixNano())
}

func (c *compatClient) do(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *compatClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil)
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			payload = strings.TrimSpace(payload)
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func requirePair(t *testing.T, value any, field string) {
	t.Helper()
	pair := requireSlice(t, value, field)
	if len(pair) != 2 {
		t.Fatalf("expected %s to be an [x, y] pair, got %d values", field, len(pair))
	}
	for i, v := range pair {
		n := requireNumber(t, v, fmt.Sprintf("%s[%d]", field, i))
		if n < 0 || n > 1 {
			t.Fatalf("%s[%d] = %v outside [0,1]", field, i, n)
		}
	}
}

func assertZonePayload(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireString(t, payload["id"], field+".id")
	requireNumber(t, payload["min_crossing_threshold"], field+".min_crossing_threshold")
	for i, a := range requireSlice(t, payload["triggering_anchors"], field+".triggering_anchors") {
		requireString(t, a, fmt.Sprintf("%s.triggering_anchors[%d]", field, i))
	}
	switch kind := requireString(t, payload["type"], field+".type"); kind {
	case "line":
		requirePair(t, payload["start"], field+".start")
		requirePair(t, payload["end"], field+".end")
	case "polygon":
		vertices := requireSlice(t, payload["polygon"], field+".polygon")
		if len(vertices) < 3 {
			t.Fatalf("%s.polygon has %d vertices", field, len(vertices))
		}
		for i, v := range vertices {
			requirePair(t, v, fmt.Sprintf("%s.polygon[%d]", field, i))
		}
	default:
		t.Fatalf("%s.type = %q", field, kind)
	}
}

func assertSnapshotPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	requireString(t, payload["source"], "source")
	requireNumber(t, payload["version"], "version")
	requireString(t, payload["mode"], "mode")
	requireBool(t, payload["unsaved"], "unsaved")
	requireBool(t, payload["dragging"], "dragging")
	requireBool(t, payload["can_undo"], "can_undo")
	requireBool(t, payload["can_redo"], "can_redo")
	requireNumber(t, payload["selected"], "selected")
	canvas := requireSlice(t, payload["canvas"], "canvas")
	if len(canvas) != 2 {
		t.Fatalf("canvas = %v", canvas)
	}
	for i, raw := range requireSlice(t, payload["zones"], "zones") {
		assertZonePayload(t, requireMap(t, raw, fmt.Sprintf("zones[%d]", i)), fmt.Sprintf("zones[%d]", i))
	}
	for i, raw := range requireSlice(t, payload["panel"], "panel") {
		row := requireMap(t, raw, fmt.Sprintf("panel[%d]", i))
		requireString(t, row["id"], "panel.id")
		requireNumber(t, row["index"], "panel.index")
		requireSlice(t, row["anchors"], "panel.anchors")
	}
}
