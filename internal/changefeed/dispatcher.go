package changefeed

import (
	"context"
	"sync"

	"github.com/cafecursor/cafecursor/internal/cards"
)

const defaultBufferSize = 16

// Event is one committed change of the card collection as carried on the wire.
type Event = cards.Change

// DispatcherConfig configures a Dispatcher. Zero values select defaults.
type DispatcherConfig struct {
	BufferSize int
	Metrics    *Metrics
}

// Dispatcher fans committed card changes out to every live stream subscriber.
// A subscriber whose buffer is full is dropped and its channel closed, so the stream ends
// and the client resyncs on reconnect instead of silently missing events.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
	metrics     *Metrics
}

type subscriber struct {
	id     int64
	stream chan Event
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  bufferSize,
		metrics:     cfg.Metrics,
	}
}

// Subscribe registers a stream that receives events until ctx ends or the returned cancel runs.
// The channel is closed if the subscriber falls a full buffer behind.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Event, func()) {
	sub := &subscriber{stream: make(chan Event, d.bufferSize)}
	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	d.subscribers[sub.id] = sub
	count := len(d.subscribers)
	d.mu.Unlock()
	d.metrics.setSubscribers(count)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, sub.id)
			remaining := len(d.subscribers)
			d.mu.Unlock()
			d.metrics.setSubscribers(remaining)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish implements cards.Publisher. Sends never block; overflowing subscribers are evicted.
func (d *Dispatcher) Publish(event Event) {
	if event.Type == "" || event.RecordID() == "" {
		return
	}
	d.metrics.observePublished(event.Type)

	var overflowed []*subscriber
	d.mu.RLock()
	for _, sub := range d.subscribers {
		select {
		case sub.stream <- event:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	d.mu.RUnlock()

	for _, sub := range overflowed {
		d.metrics.observeDropped()
		d.evict(sub)
	}
}

// evict unregisters sub and closes its channel. Channels are only closed under the write
// lock, and Publish only sends under the read lock.
func (d *Dispatcher) evict(sub *subscriber) {
	d.mu.Lock()
	current, ok := d.subscribers[sub.id]
	if ok && current == sub {
		delete(d.subscribers, sub.id)
		close(sub.stream)
	}
	remaining := len(d.subscribers)
	d.mu.Unlock()
	if ok {
		d.metrics.setSubscribers(remaining)
	}
}

func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}
