// Package dedup computes content fingerprints and filters records already
// seen within a job's scope.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hbarton/webharvest/internal/scrape"
)

// Fingerprint derives the deduplication key from a record's field values.
// The field map is serialized as canonical JSON (json.Marshal sorts map
// keys), so the hash is independent of field declaration order.
func Fingerprint(record scrape.Record) (string, error) {
	payload, err := json.Marshal(record.Fields)
	if err != nil {
		return "", fmt.Errorf("marshal record fields: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
