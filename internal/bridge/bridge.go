// Package bridge owns the authoritative copy of an editor's zone list and
// synchronizes it with the backend.
//
// Every incoming backend list, whether from polling, an explicit refresh or
// the response to a save, passes the same gate: it is applied only while
// there are no unsaved local edits and no drag in progress.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// ErrInvalid wraps validation failures of the list submitted by Save.
var ErrInvalid = errors.New("invalid zone list")

// Backend is the zone persistence collaborator.
type Backend interface {
	FetchZones(ctx context.Context, source string) (zone.List, error)
	// SaveZones replaces the stored list and returns it as stored, in
	// submission order, with backend ids assigned.
	SaveZones(ctx context.Context, source string, zones zone.List, removeMissing bool) (zone.List, error)
}

// Banner is the operator-facing status line for the last failure.
type Banner struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Bridge is safe for concurrent use. Network calls never hold its lock.
type Bridge struct {
	mu       sync.Mutex
	source   string
	backend  Backend
	zones    zone.List
	unsaved  bool
	dragging bool
	revision uint64
	banner   *Banner

	metrics *metrics.Metrics
	log     *logger.Module
	now     func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics records sync counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithNow replaces the banner timestamp source.
func WithNow(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New returns a bridge for source with an empty zone list.
func New(source string, backend Backend, opts ...Option) *Bridge {
	b := &Bridge{
		source:  source,
		backend: backend,
		log:     logger.For("Bridge"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Source returns the source id the bridge syncs.
func (b *Bridge) Source() string { return b.source }

// Propose records a local edit. It marks the list as unsaved.
func (b *Bridge) Propose(zones zone.List) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.zones = zones.Clone()
	b.unsaved = true
	b.revision++
}

// SetDragging opens or closes the drag half of the refresh gate.
func (b *Bridge) SetDragging(dragging bool) {
	b.mu.Lock()
	b.dragging = dragging
	b.mu.Unlock()
}

// Zones returns a copy of the current list.
func (b *Bridge) Zones() zone.List {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.zones.Clone()
}

// Unsaved reports whether local edits are waiting to be saved.
func (b *Bridge) Unsaved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsaved
}

// Dragging reports the drag flag last set with SetDragging.
func (b *Bridge) Dragging() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dragging
}

// Banner returns the current failure banner, or nil.
func (b *Bridge) Banner() *Banner {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.banner == nil {
		return nil
	}
	bn := *b.banner
	return &bn
}

// Report shows err on the banner. A nil err clears it.
func (b *Bridge) Report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reportLocked(err)
}

func (b *Bridge) reportLocked(err error) {
	if err == nil {
		b.banner = nil
		return
	}
	b.banner = &Banner{Message: err.Error(), At: b.now()}
}

// Offer applies an incoming backend list if the gate is open and reports
// whether it did.
func (b *Bridge) Offer(zones zone.List) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offerLocked(zones)
}

func (b *Bridge) offerLocked(zones zone.List) bool {
	if b.unsaved || b.dragging {
		if b.metrics != nil {
			b.metrics.RefreshesSuppressed.Add(1)
		}
		b.log.Debug("refresh suppressed for %s (unsaved=%v dragging=%v)", b.source, b.unsaved, b.dragging)
		return false
	}
	b.zones = zones.Clone()
	if b.metrics != nil {
		b.metrics.RefreshesApplied.Add(1)
	}
	return true
}

// Fetch downloads the backend list without applying it. Failures are
// shown on the banner.
func (b *Bridge) Fetch(ctx context.Context) (zone.List, error) {
	fetched, err := b.backend.FetchZones(ctx, b.source)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if b.metrics != nil {
			b.metrics.FetchErrors.Add(1)
		}
		err = fmt.Errorf("fetch zones for %s: %w", b.source, err)
		b.reportLocked(err)
		b.log.Warn("%v", err)
		return nil, err
	}
	b.reportLocked(nil)
	return fetched, nil
}

// Refresh fetches the backend list and offers it. The returned list is the
// bridge's list afterwards, whether or not the fetch was applied.
func (b *Bridge) Refresh(ctx context.Context) (zone.List, bool, error) {
	fetched, err := b.Fetch(ctx)
	if err != nil {
		return b.Zones(), false, err
	}
	applied := b.Offer(fetched)
	return b.Zones(), applied, nil
}

// Discard drops the unsaved flag so the next refresh replaces local edits.
func (b *Bridge) Discard() {
	b.mu.Lock()
	b.unsaved = false
	b.revision++
	b.mu.Unlock()
}

// SaveResult describes a completed save.
type SaveResult struct {
	// Saved is the list as stored by the backend.
	Saved zone.List
	// IDs maps provisional ids to the ids the backend assigned.
	IDs map[string]string
	// Applied is false when edits made during the save kept the local list.
	Applied bool
}

// Save submits the complete zones with remove-missing semantics. On failure
// local state is kept and the error is shown on the banner.
func (b *Bridge) Save(ctx context.Context) (SaveResult, error) {
	b.mu.Lock()
	submitted := b.zones.Persistable()
	rev := b.revision
	b.mu.Unlock()

	if err := submitted.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalid, err)
		b.Report(err)
		return SaveResult{}, err
	}

	saved, err := b.backend.SaveZones(ctx, b.source, submitted, true)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if b.metrics != nil {
			b.metrics.SaveErrors.Add(1)
		}
		err = fmt.Errorf("save zones for %s: %w", b.source, err)
		b.reportLocked(err)
		b.log.Warn("%v", err)
		return SaveResult{}, err
	}
	if b.metrics != nil {
		b.metrics.Saves.Add(1)
	}
	b.reportLocked(nil)

	res := SaveResult{Saved: saved.Clone(), IDs: provisionalMapping(submitted, saved)}
	b.zones = b.zones.ReplaceIDs(res.IDs)
	if b.revision == rev {
		b.unsaved = false
		res.Applied = b.offerLocked(saved)
	}
	b.log.Info("saved %d zones for %s (applied=%v)", len(saved), b.source, res.Applied)
	return res, nil
}

// provisionalMapping pairs submitted provisional ids with the ids stored at
// the same position.
func provisionalMapping(submitted, saved zone.List) map[string]string {
	ids := make(map[string]string)
	for i, z := range submitted {
		if i >= len(saved) {
			break
		}
		if z.Provisional && saved[i].ID != "" && saved[i].ID != z.ID {
			ids[z.ID] = saved[i].ID
		}
	}
	return ids
}
