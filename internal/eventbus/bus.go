// Package eventbus fans in-process events out to buffered subscribers.
// Publish never blocks; a full subscriber loses the event and the drop is counted.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

const (
	TypeBoostedRun    = "boosted.run"
	TypeBoostedPosted = "boosted.posted"

	TypeTaskStarted  = "task.started"
	TypeTaskFinished = "task.finished"
	TypeTaskFailed   = "task.failed"
	TypeTaskDropped  = "task.dropped"

	TypeNotifierSent   = "notifier.sent"
	TypeNotifierFailed = "notifier.failed"
	TypeNotifierQueued = "notifier.queued"
)

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Type is in types, or every event when
	// types is empty. unsubscribe closes ch and may be called more than once.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// Dropped reports how many deliveries b discarded. Buses that do not count
// drops report 0.
func Dropped(b Bus) uint64 {
	if c, ok := b.(interface{ Dropped() uint64 }); ok {
		return c.Dropped()
	}
	return 0
}

func New() Bus { return &memBus{} }

type subscriber struct {
	ch    chan Event
	types []string
}

func (s *subscriber) wants(typ string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, typ)
}

type memBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Publish sends under the read lock; unsubscribe closes under the write lock,
// so a send never races a close.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, max(buffer, 1)), types: slices.Clone(types)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(x *subscriber) bool { return x == s })
			close(s.ch)
			b.mu.Unlock()
		})
	}
}
