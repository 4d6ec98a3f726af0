package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"sync"
	"time"

	"tibiabot/internal/storage"
	kit "tibiabot/internal/transport"
)

// dedupKey is empty for notifications without a channel; those are never
// suppressed.
func dedupKey(n kit.Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d:%d:%d|%s", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority, n.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupSet remembers alert keys until their window ends. It holds at most
// limit keys; the ones expiring soonest are evicted first.
type dedupSet struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupSet() *dedupSet { return &dedupSet{until: make(map[string]time.Time)} }

func (d *dedupSet) active(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.until[key]
	return ok && now.Before(u)
}

func (d *dedupSet) mark(key string, until, now time.Time, limit int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.until[key] = until
	maps.DeleteFunc(d.until, func(_ string, u time.Time) bool { return !now.Before(u) })
	if over := len(d.until) - limit; over > 0 {
		keys := slices.SortedFunc(maps.Keys(d.until), func(a, b string) int {
			return d.until[a].Compare(d.until[b])
		})
		for _, k := range keys[:over] {
			delete(d.until, k)
		}
	}
}

// claim reports whether key may be sent now and, if so, marks it for window.
// st, when set, carries marks across restarts; lookups there are best effort.
func (d *dedupSet) claim(ctx context.Context, key string, window time.Duration, limit int, st storage.Store) bool {
	now := time.Now()
	if d.active(key, now) {
		return false
	}
	if st != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			d.mark(key, until, now, limit)
			return false
		}
	}
	d.mark(key, now.Add(window), now, limit)
	return true
}

func (d *dedupSet) expiry(key string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.until[key]
	return u, ok
}
