package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ImageFetcher downloads a frame. Its timeout policy is its own.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) (image.Image, error)
}

// Preloader loads background frames one at a time. A new Load supersedes
// the previous one, and callbacks of a superseded or cancelled load never
// run.
type Preloader struct {
	fetcher ImageFetcher
	now     func() time.Time

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewPreloader returns a preloader that downloads through fetcher.
func NewPreloader(fetcher ImageFetcher) *Preloader {
	return &Preloader{fetcher: fetcher, now: time.Now}
}

// CacheBust appends a _t query parameter so caches never serve a stale
// frame.
func CacheBust(raw string, t time.Time) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse frame url: %w", err)
	}
	q := u.Query()
	q.Set("_t", strconv.FormatInt(t.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Load starts downloading raw in the background. Exactly one of onLoad and
// onError runs unless the load is superseded or cancelled first.
func (p *Preloader) Load(ctx context.Context, raw string, onLoad func(image.Image), onError func(error)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	target, err := CacheBust(raw, p.now())
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer cancel()

		var img image.Image
		if err == nil {
			img, err = p.fetcher.FetchImage(ctx, target)
		}

		p.mu.Lock()
		current := !p.closed && gen == p.gen && ctx.Err() == nil
		if current {
			p.cancel = nil
		}
		p.mu.Unlock()
		if !current {
			return
		}
		if err != nil {
			if onError != nil && !errors.Is(err, context.Canceled) {
				onError(err)
			}
			return
		}
		if onLoad != nil {
			onLoad(img)
		}
	}()
}

// Cancel aborts the load in flight, if any.
func (p *Preloader) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Close cancels the load in flight, waits for its goroutine and refuses
// later loads.
func (p *Preloader) Close() {
	p.Cancel()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
