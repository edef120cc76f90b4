package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hbarton/webharvest/internal/scrape"
)

// ItemStore persists items and the per-job fingerprint set.
//
// Expected schema:
//
//	CREATE TABLE item_fingerprints (
//		job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
//		fingerprint TEXT NOT NULL,
//		PRIMARY KEY (job_id, fingerprint)
//	);
//
//	CREATE TABLE items (
//		id          TEXT PRIMARY KEY,
//		job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
//		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
//		fields      JSONB NOT NULL,
//		source_url  TEXT NOT NULL,
//		fingerprint TEXT NOT NULL,
//		created_at  TIMESTAMPTZ NOT NULL
//	);
type ItemStore struct {
	pool db
}

// NewItemStore constructs an ItemStore on the shared pool.
func NewItemStore(pool db) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ItemStore{pool: pool}, nil
}

// InsertFingerprint claims the fingerprint for the job. The primary key
// makes the check-and-insert a single atomic statement; concurrent workers
// racing on the same fingerprint see exactly one true.
func (s *ItemStore) InsertFingerprint(ctx context.Context, jobID, fingerprint string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO item_fingerprints (job_id, fingerprint) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		jobID, fingerprint,
	)
	if err != nil {
		return false, fmt.Errorf("insert fingerprint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateItem inserts an item row.
func (s *ItemStore) CreateItem(ctx context.Context, item scrape.Item) error {
	fieldsJSON, err := json.Marshal(item.Fields)
	if err != nil {
		return fmt.Errorf("marshal item fields: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO items (id, job_id, run_id, fields, source_url, fingerprint, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID,
		item.JobID,
		item.RunID,
		fieldsJSON,
		item.SourceURL,
		item.Fingerprint,
		item.Created,
	); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}
