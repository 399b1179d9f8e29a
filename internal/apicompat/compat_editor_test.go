package apicompat

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestEditorCompatIndex(t *testing.T) {
	client := newEditorClient(t)
	resp, body := client.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("GET / content-type = %q", resp.Header.Get("Content-Type"))
	}
	html := string(body)
	for _, needle := range []string{"<title>Zone Editor</title>", "/editor/events", "/canvas/stream", "EventSource"} {
		if !strings.Contains(html, needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}
}

func TestEditorCompatSnapshot(t *testing.T) {
	client := newEditorClient(t)
	source := url.PathEscape(uniqueSource(t))
	defer client.do(t, http.MethodDelete, "/api/sources/"+source+"/editor", nil)

	resp, body := client.get(t, "/api/sources/"+source+"/editor?viewer=compat")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET editor status = %d", resp.StatusCode)
	}
	assertSnapshotPayload(t, decodeJSONMap(t, body))

	resp, body = client.do(t, http.MethodPost, "/api/sources/"+source+"/editor/events", map[string]any{"type": "complete"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete outside drawing status = %d: %s", resp.StatusCode, body)
	}

	client.do(t, http.MethodPost, "/api/sources/"+source+"/editor/events", map[string]any{"type": "draw", "kind": "polygon"})
	resp, body = client.do(t, http.MethodPost, "/api/sources/"+source+"/editor/events", map[string]any{"type": "complete"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("empty polygon completion status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	requireString(t, payload["error"], "error")
	assertSnapshotPayload(t, requireMap(t, payload["snapshot"], "snapshot"))
}

func TestEditorCompatStateStream(t *testing.T) {
	client := newEditorClient(t)
	source := url.PathEscape(uniqueSource(t))
	client.get(t, "/api/sources/"+source+"/editor")
	defer client.do(t, http.MethodDelete, "/api/sources/"+source+"/editor", nil)

	event, headers, err := readSSEEvent(client.baseURL+"/api/sources/"+source+"/editor/stream", 3*time.Second)
	if err != nil {
		t.Fatalf("read sse: %v", err)
	}
	if got := headers.Get("X-Content-Format"); got != "application/json" {
		t.Fatalf("X-Content-Format = %q", got)
	}
	assertSnapshotPayload(t, parseSSEData(t, event))
}

func TestEditorCompatCanvas(t *testing.T) {
	client := newEditorClient(t)
	source := url.PathEscape(uniqueSource(t))
	client.get(t, "/api/sources/"+source+"/editor")
	defer client.do(t, http.MethodDelete, "/api/sources/"+source+"/editor", nil)

	resp, body := client.get(t, "/api/sources/"+source+"/canvas.jpg")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("canvas.jpg: %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if len(body) < 2 || body[0] != 0xFF || body[1] != 0xD8 {
		t.Fatal("canvas.jpg is not a JPEG")
	}
}
