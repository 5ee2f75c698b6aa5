// Package events carries page lifecycle notifications from a browser
// session to any number of subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/autobrowse/pkg/detect"
)

// Type identifies the kind of event.
type Type string

const (
	PageLoaded      Type = "page_loaded"
	CaptchaDetected Type = "captcha_detected"
	SessionClosed   Type = "session_closed"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      Type               `json:"type" yaml:"type"`
	SessionID string             `json:"session_id" yaml:"session_id"`
	URL       string             `json:"url,omitempty" yaml:"url,omitempty"`
	Captcha   detect.CaptchaInfo `json:"captcha,omitzero" yaml:"captcha,omitempty"`
	Time      time.Time          `json:"time" yaml:"time"`
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Delivery never blocks the publisher:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed atomic.Bool
	buffer int
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Subscribe returns a channel of future events and a function that ends
// the subscription and closes the channel. The function is safe to call
// more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber and reports how many received it.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) int {
	if b.closed.Load() {
		return 0
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
			delivered++
		default:
		}
	}
	return delivered
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later Subscribe calls get a closed channel.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
