package writer

import (
	"sync"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/consumer"
)

// Pending pairs a row with the message it came from so the offset can be
// committed after the row is written.
type Pending struct {
	Row UserRow
	Msg consumer.Message
}

// Buffer accumulates pending rows until it is full or old enough.
type Buffer struct {
	mu        sync.Mutex
	items     []Pending
	capacity  int
	lastDrain time.Time
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		items:     make([]Pending, 0, capacity),
		capacity:  capacity,
		lastDrain: time.Now(),
	}
}

// Add appends p and reports whether the buffer reached capacity.
func (b *Buffer) Add(p Pending) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, p)
	return len(b.items) >= b.capacity
}

// Drain returns everything buffered and resets the age clock.
func (b *Buffer) Drain() []Pending {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.items
	b.items = make([]Pending, 0, b.capacity)
	b.lastDrain = time.Now()
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Due reports whether a non-empty buffer has waited at least interval.
func (b *Buffer) Due(interval time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) > 0 && time.Since(b.lastDrain) >= interval
}
