package webmonitor

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/session"
)

// broadcaster fans values out to subscribers without blocking on slow ones.
type broadcaster[T any] struct {
	name    string
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

func newBroadcaster[T any](name string, m *metrics.Metrics) *broadcaster[T] {
	return &broadcaster[T]{name: name, metrics: m, clients: make(map[int]chan T)}
}

// Subscribe adds a new client and returns a channel for receiving values.
// The channel is closed immediately if the broadcaster is already closed.
func (b *broadcaster[T]) Subscribe() (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, 2) // Buffer 2 values to avoid blocking
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.clients[id] = ch
	if b.metrics != nil {
		b.metrics.StreamClients.Add(1)
	}

	logger.Debug(b.name, "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *broadcaster[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		if b.metrics != nil {
			b.metrics.StreamClients.Add(-1)
		}
		logger.Debug(b.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

func (b *broadcaster[T]) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *broadcaster[T]) broadcast(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
		}
	}
}

// Close disconnects every client.
func (b *broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
		if b.metrics != nil {
			b.metrics.StreamClients.Add(-1)
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// sourceFeed renders and serializes one session whenever it changes, and
// only while someone is watching.
type sourceFeed struct {
	sess   *session.Session
	canvas *broadcaster[[]byte]
	state  *broadcaster[*SerializedEvent]
	dirty  chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSourceFeed(sess *session.Session, m *metrics.Metrics) *sourceFeed {
	return &sourceFeed{
		sess:   sess,
		canvas: newBroadcaster[[]byte]("CanvasBroadcaster", m),
		state:  newBroadcaster[*SerializedEvent]("StateBroadcaster", m),
		dirty:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins the render and broadcast loop.
func (f *sourceFeed) Start() {
	go f.run()
}

// Invalidate schedules a broadcast. Bursts collapse into one.
func (f *sourceFeed) Invalidate() {
	select {
	case f.dirty <- struct{}{}:
	default:
	}
}

// Stop halts the loop and disconnects all clients.
func (f *sourceFeed) Stop() {
	f.once.Do(func() {
		close(f.stop)
		<-f.done
		f.canvas.Close()
		f.state.Close()
	})
}

func (f *sourceFeed) run() {
	defer close(f.done)
	for {
		select {
		case <-f.stop:
			return
		case <-f.dirty:
		}

		if f.state.ClientCount() > 0 {
			ev, err := serializeSnapshot(f.sess.Snapshot())
			if err != nil {
				logger.Error("StateBroadcaster", "serialize %s: %v", f.sess.Source(), err)
			} else {
				f.state.broadcast(ev)
			}
		}
		if f.canvas.ClientCount() > 0 {
			data, err := f.sess.JPEG()
			if err != nil {
				logger.Error("CanvasBroadcaster", "render %s: %v", f.sess.Source(), err)
				continue
			}
			f.canvas.broadcast(data)
		}
	}
}
