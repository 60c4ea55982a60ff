package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heimdall-labs/heimdall/internal/models"
)

// GenesisHash is the well-known PrevHash of the first entry in a chain
// (32 zero bytes, hex-encoded).
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EntryHash computes the SHA-256 digest of an entry's canonical form.
// Every field except Hash itself participates, PrevHash included, so editing
// any field after the fact breaks the chain. The canonical form is the JSON
// of a flat map; json.Marshal emits map keys in sorted order, which makes the
// serialization stable without a custom encoder.
func EntryHash(e *models.AuditEntry) (string, error) {
	fields := map[string]interface{}{
		"id":             e.ID,
		"timestamp":      e.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_type":     string(e.EventType),
		"user_id":        e.UserID,
		"user_email":     e.UserEmail,
		"user_role":      e.UserRole,
		"action":         e.Action,
		"resource":       e.Resource,
		"resource_id":    e.ResourceID,
		"previous_value": e.PreviousValue,
		"new_value":      e.NewValue,
		"result":         string(e.Result),
		"severity":       string(e.Severity),
		"metadata":       e.Metadata,
		"prev_hash":      e.PrevHash,
	}

	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
