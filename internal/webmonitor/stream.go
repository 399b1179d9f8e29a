package webmonitor

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/render"
)

var (
	blankOnce sync.Once
	blankData []byte
	blankErr  error
)

// blankJPEG is sent while no canvas has been rendered yet.
func blankJPEG() ([]byte, error) {
	blankOnce.Do(func() {
		blankData, blankErr = render.EncodeJPEG(render.ColorBars(640, 480), 75)
	})
	return blankData, blankErr
}

// streamMJPEGFromChannel streams canvas frames from a broadcaster channel.
// first is written immediately; after keepAlive without a new frame the
// last one is repeated.
func streamMJPEGFromChannel(w http.ResponseWriter, r *http.Request, first []byte, frameCh <-chan []byte, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	last := first
	if last == nil {
		blank, err := blankJPEG()
		if err != nil {
			http.Error(w, "Failed to render frame", http.StatusInternalServerError)
			return
		}
		last = blank
	}
	if !writeMJPEGPart(w, last) {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				// Session unmounted
				return
			}
			if data != nil {
				last = data
			}
		case <-time.After(keepAlive):
		}

		if !writeMJPEGPart(w, last) {
			return
		}
		flusher.Flush()
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpegData []byte) bool {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		logger.Debug("MJPEG", "Client disconnected during write: %v", err)
		return false
	}
	if _, err := w.Write(jpegData); err != nil {
		logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
		return false
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
		return false
	}
	return true
}

// streamStateEventsFromChannel streams pre-serialized editor snapshots to an
// SSE client, starting with first.
func streamStateEventsFromChannel(w http.ResponseWriter, r *http.Request, first *SerializedEvent, eventCh <-chan *SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Add custom header to indicate format
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	send := func(event *SerializedEvent) bool {
		data := event.JSONData
		if useProtobuf {
			data = event.ProtobufData
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.Debug("SSE", "Client disconnected during event write: %v", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if first != nil && !send(first) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if !send(event) {
				return
			}
		case <-time.After(keepAlive):
			// Send keepalive comment to prevent timeout
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
