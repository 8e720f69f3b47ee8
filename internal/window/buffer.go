package window

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aegisflux/riskengine/internal/model"
)

// Buffer maintains a per-host list of recent security events, ordered by event
// timestamp, with garbage collection of events older than maxAge
type Buffer struct {
	mu         sync.RWMutex
	hosts      map[string]*hostBuffer
	maxAge     time.Duration
	maxPerHost int
	now        func() time.Time
	gcTicker   *time.Ticker
	stopGC     chan struct{}
}

type hostBuffer struct {
	events []model.SecurityEvent
	ids    map[string]struct{}
}

// NewBuffer creates a window buffer. maxPerHost bounds each host's buffer, dropping the
// oldest events first; zero means unbounded.
func NewBuffer(maxAge time.Duration, maxPerHost int) *Buffer {
	return &Buffer{
		hosts:      make(map[string]*hostBuffer),
		maxAge:     maxAge,
		maxPerHost: maxPerHost,
		now:        time.Now,
	}
}

// Add inserts an event. Events without a hostname, duplicates of a buffered event id and
// events already older than maxAge are ignored. Reports whether the event was kept.
func (b *Buffer) Add(ev model.SecurityEvent) bool {
	host := hostKey(ev.Hostname)
	if host == "" || ev.Timestamp.IsZero() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxAge > 0 && ev.Timestamp.Before(b.now().Add(-b.maxAge)) {
		return false
	}

	hb, exists := b.hosts[host]
	if !exists {
		hb = &hostBuffer{ids: make(map[string]struct{})}
		b.hosts[host] = hb
	}

	if ev.ID != "" {
		if _, dup := hb.ids[ev.ID]; dup {
			return false
		}
		hb.ids[ev.ID] = struct{}{}
	}

	// events mostly arrive in order; insert from the back
	i := len(hb.events)
	for i > 0 && hb.events[i-1].Timestamp.After(ev.Timestamp) {
		i--
	}
	hb.events = append(hb.events, model.SecurityEvent{})
	copy(hb.events[i+1:], hb.events[i:])
	hb.events[i] = ev

	if b.maxPerHost > 0 && len(hb.events) > b.maxPerHost {
		drop := len(hb.events) - b.maxPerHost
		for _, old := range hb.events[:drop] {
			delete(hb.ids, old.ID)
		}
		hb.events = append([]model.SecurityEvent(nil), hb.events[drop:]...)
	}

	return true
}

// Events returns every buffered event with a timestamp in [from, to], across all hosts
func (b *Buffer) Events(ctx context.Context, from, to time.Time) ([]model.SecurityEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	hosts := make([]string, 0, len(b.hosts))
	for host := range b.hosts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	var result []model.SecurityEvent
	for _, host := range hosts {
		result = appendRange(result, b.hosts[host].events, from, to)
	}
	return result, nil
}

func appendRange(dst, events []model.SecurityEvent, from, to time.Time) []model.SecurityEvent {
	start := sort.Search(len(events), func(i int) bool {
		return !events[i].Timestamp.Before(from)
	})
	for i := start; i < len(events) && !events[i].Timestamp.After(to); i++ {
		dst = append(dst, events[i])
	}
	return dst
}

// GC removes events older than maxAge relative to now and drops empty hosts
func (b *Buffer) GC(now time.Time) int {
	if b.maxAge <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.maxAge)
	removed := 0

	for host, hb := range b.hosts {
		keep := sort.Search(len(hb.events), func(i int) bool {
			return hb.events[i].Timestamp.After(cutoff)
		})
		for _, old := range hb.events[:keep] {
			delete(hb.ids, old.ID)
		}
		removed += keep
		hb.events = append([]model.SecurityEvent(nil), hb.events[keep:]...)

		if len(hb.events) == 0 {
			delete(b.hosts, host)
		}
	}

	return removed
}

// StartGC starts the garbage collection routine
func (b *Buffer) StartGC(interval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gcTicker != nil {
		return
	}

	b.gcTicker = time.NewTicker(interval)
	b.stopGC = make(chan struct{})

	go b.gcRoutine(b.gcTicker, b.stopGC)
}

// StopGC stops the garbage collection routine
func (b *Buffer) StopGC() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gcTicker != nil {
		b.gcTicker.Stop()
		b.gcTicker = nil
	}
	if b.stopGC != nil {
		close(b.stopGC)
		b.stopGC = nil
	}
}

func (b *Buffer) gcRoutine(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-ticker.C:
			b.GC(b.now())
		case <-stop:
			return
		}
	}
}

// Len returns the number of buffered events
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, hb := range b.hosts {
		total += len(hb.events)
	}
	return total
}

// GetStats returns statistics about the window buffer
func (b *Buffer) GetStats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, hb := range b.hosts {
		total += len(hb.events)
	}

	return map[string]interface{}{
		"host_count":   len(b.hosts),
		"total_events": total,
		"max_age":      b.maxAge.String(),
		"max_per_host": b.maxPerHost,
	}
}

func hostKey(hostname string) string {
	return strings.ToLower(strings.TrimSpace(hostname))
}
