package dedup

import (
	"context"
	"fmt"

	"github.com/hbarton/webharvest/internal/scrape"
)

// Deduplicator checks records against a job's known fingerprint set.
// Fingerprints are scoped per job: identical content under two different
// jobs is not a duplicate.
type Deduplicator struct {
	items scrape.ItemStore
}

// New builds a Deduplicator backed by the item store.
func New(items scrape.ItemStore) *Deduplicator {
	return &Deduplicator{items: items}
}

// IsNew computes the record's fingerprint and atomically records it for the
// job. It returns the fingerprint and false when the content was already
// seen.
func (d *Deduplicator) IsNew(ctx context.Context, jobID string, record scrape.Record) (string, bool, error) {
	fp, err := Fingerprint(record)
	if err != nil {
		return "", false, err
	}
	inserted, err := d.items.InsertFingerprint(ctx, jobID, fp)
	if err != nil {
		return "", false, fmt.Errorf("insert fingerprint: %w", err)
	}
	return fp, inserted, nil
}
