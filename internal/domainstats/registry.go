// Package domainstats tracks cross-run per-domain request statistics.
package domainstats

import (
	"sort"
	"sync"
	"time"
)

// Stats are the counters kept for one domain.
type Stats struct {
	Domain        string    `json:"domain"`
	TotalRequests int       `json:"total_requests"`
	FailedRequests int      `json:"failed_requests"`
	LastRequestAt time.Time `json:"last_request_at"`
}

// Registry is shared, read-mostly state keyed by domain. It is created at
// service start and passed to fetchers; access is race-free without
// serializing unrelated domains beyond a short map lock.
type Registry struct {
	mu    sync.Mutex
	stats map[string]*Stats
	clock func() time.Time
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stats: make(map[string]*Stats),
		clock: time.Now,
	}
}

// RecordRequest counts one request against the domain.
func (r *Registry) RecordRequest(domain string, failed bool) {
	if domain == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[domain]
	if !ok {
		s = &Stats{Domain: domain}
		r.stats[domain] = s
	}
	s.TotalRequests++
	if failed {
		s.FailedRequests++
	}
	s.LastRequestAt = r.clock()
}

// Get returns a copy of the stats for a domain.
func (r *Registry) Get(domain string) (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[domain]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// Snapshot returns all domain stats ordered by domain name.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	out := make([]Stats, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}
