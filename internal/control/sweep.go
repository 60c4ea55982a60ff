package control

import (
	"fmt"
	"time"

	"github.com/heimdall-labs/heimdall/internal/audit"
	"github.com/heimdall-labs/heimdall/internal/logger"
	"github.com/heimdall-labs/heimdall/internal/metrics"
	"github.com/heimdall-labs/heimdall/internal/models"
)

// RunIntegritySweep verifies the audit chain over the trailing window and
// runs the tampering heuristics. A broken chain is surfaced as a critical
// alert and audited; nothing is ever repaired here.
func (c *Coordinator) RunIntegritySweep(window time.Duration) (*audit.IntegrityReport, []audit.TamperAlert, error) {
	end := time.Now().UTC()
	start := end.Add(-window)

	entries, err := c.store.Range(start, end, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("load audit range: %w", err)
	}

	report, err := audit.VerifyChain(entries)
	if err != nil {
		return nil, nil, err
	}
	alerts, err := audit.DetectTampering(entries)
	if err != nil {
		return report, nil, err
	}

	if report.OverallValid && len(alerts) == 0 {
		logger.Log().WithField("checked", report.TotalChecked).Debug("Integrity sweep clean")
		return report, alerts, nil
	}

	metrics.ChainVerificationFailures.Inc()
	logger.Log().WithFields(map[string]interface{}{
		"checked":      report.TotalChecked,
		"broken_links": len(report.BrokenLinks),
		"alerts":       len(alerts),
	}).Error("Integrity sweep found problems; affected range is untrusted until investigated")

	detail := fmt.Sprintf(`{"broken_links":%d,"alerts":%d,"window_start":%q,"window_end":%q}`,
		len(report.BrokenLinks), len(alerts), start.Format(time.RFC3339), end.Format(time.RFC3339))
	entry := &models.AuditEntry{
		EventType: models.EventTypeIntegrityAlert,
		UserID:    "system",
		UserEmail: "system",
		UserRole:  "system",
		Action:    "integrity sweep detected chain problems",
		Resource:  "audit_chain",
		Result:    models.ResultFailure,
		Severity:  models.SeverityCritical,
		Metadata:  detail,
	}
	if err := c.appendDirect(entry); err != nil {
		logger.Log().WithError(err).Error("Failed to audit integrity alert")
	} else {
		c.publish(ControlEvent{
			EntryID:   entry.ID,
			Operation: "integrity_sweep",
			EventType: models.EventTypeIntegrityAlert,
			Actor:     "system",
			Reason:    detail,
			Result:    models.ResultFailure,
			Severity:  models.SeverityCritical,
			Timestamp: entry.Timestamp,
		})
	}

	return report, alerts, nil
}
