// Package backend is the HTTP client for the zone backend: zone fetch and
// save, frame URL lookup and background frame download.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// DefaultTimeout bounds every request when the caller's context has none.
const DefaultTimeout = 5 * time.Second

// maxErrorBody caps how much of an error response ends up in APIError.
const maxErrorBody = 512

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// ZonesPayload is the request and response body of the zones endpoint.
type ZonesPayload struct {
	Zones zone.List `json:"zones"`
}

// FrameURLPayload is the response body of the frame URL endpoint.
type FrameURLPayload struct {
	URL string `json:"url"`
}

// Client talks to one backend base URL.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *logger.Module
}

// NewClient returns a client for baseURL. A non-positive timeout uses
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		log:     logger.For("Backend"),
	}, nil
}

func (c *Client) sourcePath(source, suffix string) string {
	return c.baseURL.String() + "/api/sources/" + url.PathEscape(source) + suffix
}

func (c *Client) do(ctx context.Context, method, target string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", target, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// FetchZones returns the stored zone list of source.
func (c *Client) FetchZones(ctx context.Context, source string) (zone.List, error) {
	var out ZonesPayload
	if err := c.do(ctx, http.MethodGet, c.sourcePath(source, "/zones"), nil, &out); err != nil {
		return nil, err
	}
	if out.Zones == nil {
		out.Zones = zone.List{}
	}
	return out.Zones, nil
}

// SaveZones replaces the zone list of source. With removeMissing the backend
// deletes stored zones absent from zones.
func (c *Client) SaveZones(ctx context.Context, source string, zones zone.List, removeMissing bool) (zone.List, error) {
	target := c.sourcePath(source, "/zones")
	if removeMissing {
		target += "?remove_missing=true"
	}
	var out ZonesPayload
	if err := c.do(ctx, http.MethodPut, target, ZonesPayload{Zones: zones}, &out); err != nil {
		return nil, err
	}
	c.log.Debug("saved %d zones for %s", len(out.Zones), source)
	return out.Zones, nil
}

// FetchFrameURL returns an absolute URL of the latest frame of source.
func (c *Client) FetchFrameURL(ctx context.Context, source string) (string, error) {
	var out FrameURLPayload
	if err := c.do(ctx, http.MethodGet, c.sourcePath(source, "/frame_url"), nil, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("backend returned no frame url for %s", source)
	}
	ref, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("parse frame url: %w", err)
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

// FetchImage downloads and decodes a JPEG, PNG or WebP image.
func (c *Client) FetchImage(ctx context.Context, target string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	img, format, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	c.log.Debug("loaded %s frame %dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}
