package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RecordID produces a deterministic id from a record's identifying fields.
// The same fields always yield the same id, so reprocessing a raw batch upserts
// rather than duplicates.
func RecordID(prefix string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	short := hex.EncodeToString(hash[:8])
	if prefix == "" {
		return short
	}
	return prefix + "-" + short
}
