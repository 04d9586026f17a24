// Package metrics keeps in-process counters for inbound notifications.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.value, n)
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Outcomes counts events by provider and outcome, e.g. PAYSTACK/processed.
type Outcomes struct {
	mu       sync.RWMutex
	counters map[string]*Counter
}

func NewOutcomes() *Outcomes {
	return &Outcomes{counters: make(map[string]*Counter)}
}

func outcomeKey(provider, outcome string) string {
	return provider + "/" + outcome
}

func (o *Outcomes) counter(key string) *Counter {
	o.mu.RLock()
	c, ok := o.counters[key]
	o.mu.RUnlock()
	if ok {
		return c
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok = o.counters[key]; !ok {
		c = &Counter{}
		o.counters[key] = c
	}
	return c
}

// Inc is a no-op on a nil receiver so callers can leave stats unset.
func (o *Outcomes) Inc(provider, outcome string) {
	if o == nil {
		return
	}
	o.counter(outcomeKey(provider, outcome)).Inc()
}

func (o *Outcomes) Count(provider, outcome string) uint64 {
	if o == nil {
		return 0
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if c, ok := o.counters[outcomeKey(provider, outcome)]; ok {
		return c.Load()
	}
	return 0
}

// Snapshot copies every counter, keyed provider/outcome.
func (o *Outcomes) Snapshot() map[string]uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]uint64, len(o.counters))
	for k, c := range o.counters {
		out[k] = c.Load()
	}
	return out
}

// Keys returns the counter keys in sorted order.
func (o *Outcomes) Keys() []string {
	snap := o.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler serves the snapshot as a JSON object.
func (o *Outcomes) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(o.Snapshot())
	})
}
