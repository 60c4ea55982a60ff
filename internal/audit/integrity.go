package audit

import (
	"fmt"

	"github.com/heimdall-labs/heimdall/internal/models"
)

// BrokenLink pinpoints one integrity failure inside a verified range.
type BrokenLink struct {
	Index   int    `json:"index"`
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// IntegrityReport summarizes a chain verification pass.
type IntegrityReport struct {
	TotalChecked int          `json:"total_checked"`
	ValidEntries int          `json:"valid_entries"`
	BrokenLinks  []BrokenLink `json:"broken_links,omitempty"`
	OverallValid bool         `json:"overall_valid"`
}

// TamperAlert flags one suspicious finding from DetectTampering.
type TamperAlert struct {
	EntryID  string          `json:"entry_id"`
	Reason   string          `json:"reason"`
	Severity models.Severity `json:"severity"`
}

// VerifyChain recomputes every entry hash and checks the PrevHash linkage.
// Entries must be supplied in ascending sequence order. The first supplied
// entry anchors the range: its PrevHash is only required to be the genesis
// constant when it is the first entry of the whole chain (Seq 1), so callers
// can verify arbitrary time windows.
//
// A broken link is never repaired here; the affected range is untrusted until
// an operator has investigated.
func VerifyChain(entries []models.AuditEntry) (*IntegrityReport, error) {
	report := &IntegrityReport{
		TotalChecked: len(entries),
		OverallValid: true,
	}

	for i := range entries {
		e := &entries[i]
		ok := true

		computed, err := EntryHash(e)
		if err != nil {
			return nil, fmt.Errorf("recompute hash at index %d: %w", i, err)
		}
		if computed != e.Hash {
			report.BrokenLinks = append(report.BrokenLinks, BrokenLink{
				Index:   i,
				EntryID: e.ID,
				Reason:  "stored hash does not match recomputed hash",
			})
			ok = false
		}

		if i == 0 {
			if e.Seq == 1 && e.PrevHash != GenesisHash {
				report.BrokenLinks = append(report.BrokenLinks, BrokenLink{
					Index:   i,
					EntryID: e.ID,
					Reason:  "first chain entry does not link to the genesis hash",
				})
				ok = false
			}
		} else if e.PrevHash != entries[i-1].Hash {
			report.BrokenLinks = append(report.BrokenLinks, BrokenLink{
				Index:   i,
				EntryID: e.ID,
				Reason:  "prev_hash does not match the preceding entry's hash",
			})
			ok = false
		}

		if ok {
			report.ValidEntries++
		}
	}

	report.OverallValid = len(report.BrokenLinks) == 0
	return report, nil
}

// DetectTampering runs the full chain check plus heuristics that catch
// manipulation the hash check alone would miss: duplicate entry IDs,
// timestamps running backwards, and gaps in the sequence numbering.
// It only reports; stored data is never touched.
func DetectTampering(entries []models.AuditEntry) ([]TamperAlert, error) {
	report, err := VerifyChain(entries)
	if err != nil {
		return nil, err
	}

	var alerts []TamperAlert
	for _, link := range report.BrokenLinks {
		alerts = append(alerts, TamperAlert{
			EntryID:  link.EntryID,
			Reason:   link.Reason,
			Severity: models.SeverityCritical,
		})
	}

	seen := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]

		if seen[e.ID] {
			alerts = append(alerts, TamperAlert{
				EntryID:  e.ID,
				Reason:   "duplicate entry ID",
				Severity: models.SeverityCritical,
			})
		}
		seen[e.ID] = true

		if i > 0 {
			prev := &entries[i-1]
			if e.Timestamp.Before(prev.Timestamp) {
				alerts = append(alerts, TamperAlert{
					EntryID:  e.ID,
					Reason:   "timestamp earlier than preceding entry",
					Severity: models.SeverityWarning,
				})
			}
			if e.Seq != prev.Seq+1 {
				alerts = append(alerts, TamperAlert{
					EntryID:  e.ID,
					Reason:   fmt.Sprintf("sequence gap: expected %d, got %d", prev.Seq+1, e.Seq),
					Severity: models.SeverityWarning,
				})
			}
		}
	}

	return alerts, nil
}
