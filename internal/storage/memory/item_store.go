package memory

import (
	"context"
	"sync"

	"github.com/hbarton/webharvest/internal/scrape"
)

// ItemStore keeps items and the per-job fingerprint index in memory.
type ItemStore struct {
	mu           sync.Mutex
	items        map[string][]scrape.Item
	fingerprints map[string]map[string]struct{}
}

// NewItemStore constructs an ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items:        make(map[string][]scrape.Item),
		fingerprints: make(map[string]map[string]struct{}),
	}
}

// InsertFingerprint records the fingerprint for the job under one lock,
// giving the check-then-insert atomicity the dedup contract requires.
func (s *ItemStore) InsertFingerprint(_ context.Context, jobID, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.fingerprints[jobID]
	if !ok {
		set = make(map[string]struct{})
		s.fingerprints[jobID] = set
	}
	if _, seen := set[fingerprint]; seen {
		return false, nil
	}
	set[fingerprint] = struct{}{}
	return true, nil
}

// CreateItem appends the item to its job's collection.
func (s *ItemStore) CreateItem(_ context.Context, item scrape.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.JobID] = append(s.items[item.JobID], item)
	return nil
}

// ListItems returns all items persisted for a job.
func (s *ItemStore) ListItems(_ context.Context, jobID string) ([]scrape.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[jobID]
	out := make([]scrape.Item, len(items))
	copy(out, items)
	return out, nil
}
