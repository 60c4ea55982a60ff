package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/heimdall-labs/heimdall/internal/audit"
	"github.com/heimdall-labs/heimdall/internal/breaker"
	"github.com/heimdall-labs/heimdall/internal/logger"
	"github.com/heimdall-labs/heimdall/internal/metrics"
	"github.com/heimdall-labs/heimdall/internal/models"
	"github.com/heimdall-labs/heimdall/internal/multisig"
)

// Control operations accepted by Execute.
const (
	OpPauseModule        = "pause_module"
	OpResumeModule       = "resume_module"
	OpEmergencyHalt      = "emergency_halt"
	OpEmergencyResumeAll = "emergency_resume_all"
	OpOverrideParams     = "override_params"
)

var (
	ErrUnknownOperation          = errors.New("unknown control operation")
	ErrMessageMismatch           = errors.New("signed message does not match the requested operation")
	ErrInsufficientAuthorization = errors.New("insufficient authorization")
	ErrMFARequired               = errors.New("mfa code required for emergency operations")
	ErrInvalidMFACode            = errors.New("invalid mfa code")
	ErrMissingParam              = errors.New("missing required parameter")
	ErrPersistenceFailure        = errors.New("audit record could not be written")
)

type opSpec struct {
	eventType models.EventType
	severity  models.Severity
	emergency bool
}

var operations = map[string]opSpec{
	OpPauseModule:        {models.EventTypeCircuitPause, models.SeverityCritical, false},
	OpResumeModule:       {models.EventTypeCircuitResume, models.SeverityInfo, false},
	OpEmergencyHalt:      {models.EventTypeEmergencyHalt, models.SeverityCritical, true},
	OpEmergencyResumeAll: {models.EventTypeEmergencyResume, models.SeverityCritical, true},
	OpOverrideParams:     {models.EventTypeParamOverride, models.SeverityWarning, false},
}

// Actor identifies who submitted a control request, as established by the
// API layer's authentication.
type Actor struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	UserRole  string `json:"user_role"`
}

// ExecuteRequest is one fully-assembled control request.
type ExecuteRequest struct {
	Operation string                   `json:"operation"`
	Params    map[string]interface{}   `json:"params"`
	MultiSig  *multisig.MultiSignature `json:"multisig"`
	MFACode   string                   `json:"mfa_code,omitempty"`
	Actor     Actor                    `json:"actor"`
}

// Coordinator ties multisig authorization, circuit-breaker transitions and
// the audit chain together. A state transition and its audit record are one
// logical unit: if the record cannot be written the transition is rolled
// back, so the system never holds a state change with no tamper-evident
// trace.
type Coordinator struct {
	verifier      *multisig.Verifier
	store         *audit.Store
	registry      *breaker.Registry
	db            *gorm.DB
	mfaHash       string
	appendRetries int
	events        chan ControlEvent
}

// NewCoordinator wires the coordinator. mfaHash is the bcrypt hash of the
// out-of-band emergency code; when empty, emergency operations are refused
// outright. appendRetries bounds the audit-append retry budget.
func NewCoordinator(verifier *multisig.Verifier, store *audit.Store, registry *breaker.Registry, db *gorm.DB, mfaHash string, appendRetries int) *Coordinator {
	if appendRetries < 1 {
		appendRetries = 1
	}
	return &Coordinator{
		verifier:      verifier,
		store:         store,
		registry:      registry,
		db:            db,
		mfaHash:       mfaHash,
		appendRetries: appendRetries,
		events:        make(chan ControlEvent, 64),
	}
}

// Verify exposes raw multisig verification without applying anything.
func (c *Coordinator) Verify(sig *multisig.MultiSignature) (*multisig.VerificationResult, error) {
	return c.verifier.Verify(sig)
}

// Execute runs one control operation end to end: canonical-message gate,
// multisig verification, MFA check for emergency operations, then the state
// transition and its audit record as one unit. Denied attempts are audited
// with Result=failure before the error is returned.
func (c *Coordinator) Execute(req ExecuteRequest) (*models.AuditEntry, error) {
	spec, ok := operations[req.Operation]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, req.Operation)
	}

	canonical := multisig.CreateSigningMessage(req.Operation, req.Params)
	if req.MultiSig == nil || req.MultiSig.Message != canonical {
		metrics.OperationsDenied.WithLabelValues(req.Operation, "message_mismatch").Inc()
		c.recordDenied(req, spec, "signed message does not match canonical form")
		return nil, ErrMessageMismatch
	}

	result, err := c.verifier.Verify(req.MultiSig)
	if err != nil {
		return nil, fmt.Errorf("verify multisig: %w", err)
	}
	if !result.Valid {
		metrics.OperationsDenied.WithLabelValues(req.Operation, "insufficient_signatures").Inc()
		detail, _ := json.Marshal(result)
		c.recordDenied(req, spec, string(detail))
		return nil, fmt.Errorf("%w: %d of %d required signatures", ErrInsufficientAuthorization, result.ValidSignatures, result.RequiredThreshold)
	}

	if spec.emergency {
		if err := c.checkMFA(req.MFACode); err != nil {
			metrics.OperationsDenied.WithLabelValues(req.Operation, "mfa").Inc()
			c.recordDenied(req, spec, err.Error())
			return nil, err
		}
	}

	outcome, rollback, err := c.apply(req)
	if err != nil {
		return nil, err
	}

	entry := &models.AuditEntry{
		EventType:     spec.eventType,
		UserID:        req.Actor.UserID,
		UserEmail:     req.Actor.UserEmail,
		UserRole:      req.Actor.UserRole,
		Action:        outcome.action,
		Resource:      outcome.resource,
		ResourceID:    outcome.resourceID,
		PreviousValue: outcome.previousValue,
		NewValue:      outcome.newValue,
		Result:        models.ResultSuccess,
		Severity:      spec.severity,
		Metadata:      outcome.metadata,
	}
	if err := c.appendWithRetry(entry); err != nil {
		if rbErr := rollback(); rbErr != nil {
			logger.Log().WithError(rbErr).WithField("operation", req.Operation).Error("Rollback after failed audit append also failed; state and audit chain may disagree")
		}
		return nil, err
	}

	metrics.OperationsAuthorized.WithLabelValues(req.Operation).Inc()
	c.updatePausedGauges()
	c.publish(ControlEvent{
		EntryID:   entry.ID,
		Operation: req.Operation,
		EventType: spec.eventType,
		Modules:   outcome.modules,
		Actor:     req.Actor.UserEmail,
		Reason:    outcome.reason,
		Result:    models.ResultSuccess,
		Severity:  spec.severity,
		Timestamp: entry.Timestamp,
	})

	logger.Log().WithFields(map[string]interface{}{
		"operation": req.Operation,
		"actor":     req.Actor.UserEmail,
		"entry_id":  entry.ID,
	}).Info("Control operation applied")
	return entry, nil
}

// outcome carries what apply() did, for the audit entry and the event.
type outcome struct {
	action        string
	resource      string
	resourceID    string
	previousValue string
	newValue      string
	metadata      string
	reason        string
	modules       []string
}

func (c *Coordinator) apply(req ExecuteRequest) (*outcome, func() error, error) {
	switch req.Operation {
	case OpPauseModule:
		return c.applyPause(req)
	case OpResumeModule:
		return c.applyResume(req)
	case OpEmergencyHalt:
		return c.applyEmergencyHalt(req)
	case OpEmergencyResumeAll:
		return c.applyEmergencyResumeAll(req)
	case OpOverrideParams:
		return c.applyOverride(req)
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownOperation, req.Operation)
}

func (c *Coordinator) applyPause(req ExecuteRequest) (*outcome, func() error, error) {
	module, err := paramString(req.Params, "module")
	if err != nil {
		return nil, nil, err
	}
	reason, err := paramString(req.Params, "reason")
	if err != nil {
		return nil, nil, err
	}
	autoResume := paramDurationMinutes(req.Params, "auto_resume_minutes")

	snapshot, err := c.registry.Snapshot(module)
	if err != nil {
		return nil, nil, err
	}
	changed, err := c.registry.Pause(module, reason, req.Actor.UserEmail, autoResume)
	if err != nil {
		return nil, nil, err
	}

	action := fmt.Sprintf("pause module %s", module)
	if !changed {
		action += " (already paused)"
	}
	meta := ""
	if autoResume != nil {
		meta = fmt.Sprintf(`{"auto_resume_minutes":%g}`, autoResume.Minutes())
	}
	return &outcome{
			action:        action,
			resource:      module,
			previousValue: pausedLabel(snapshot.Paused),
			newValue:      pausedLabel(true),
			metadata:      meta,
			reason:        reason,
			modules:       []string{module},
		}, func() error {
			if !changed {
				return nil
			}
			return c.registry.Restore(snapshot)
		}, nil
}

func (c *Coordinator) applyResume(req ExecuteRequest) (*outcome, func() error, error) {
	module, err := paramString(req.Params, "module")
	if err != nil {
		return nil, nil, err
	}
	reason, err := paramString(req.Params, "reason")
	if err != nil {
		return nil, nil, err
	}

	snapshot, err := c.registry.Snapshot(module)
	if err != nil {
		return nil, nil, err
	}
	changed, err := c.registry.Resume(module, reason, req.Actor.UserEmail)
	if err != nil {
		return nil, nil, err
	}

	action := fmt.Sprintf("resume module %s", module)
	if !changed {
		action += " (already active)"
	}
	return &outcome{
			action:        action,
			resource:      module,
			previousValue: pausedLabel(snapshot.Paused),
			newValue:      pausedLabel(false),
			reason:        reason,
			modules:       []string{module},
		}, func() error {
			if !changed {
				return nil
			}
			return c.registry.Restore(snapshot)
		}, nil
}

// applyEmergencyHalt pauses every module, or a single one when params carry
// a "module" key (the scoped emergency variant).
func (c *Coordinator) applyEmergencyHalt(req ExecuteRequest) (*outcome, func() error, error) {
	reason, err := paramString(req.Params, "reason")
	if err != nil {
		return nil, nil, err
	}

	if _, scoped := req.Params["module"]; scoped {
		module, err := paramString(req.Params, "module")
		if err != nil {
			return nil, nil, err
		}
		snapshot, err := c.registry.Snapshot(module)
		if err != nil {
			return nil, nil, err
		}
		changed, err := c.registry.Pause(module, reason, req.Actor.UserEmail, nil)
		if err != nil {
			return nil, nil, err
		}
		return &outcome{
				action:        fmt.Sprintf("emergency halt of module %s", module),
				resource:      module,
				previousValue: pausedLabel(snapshot.Paused),
				newValue:      pausedLabel(true),
				reason:        reason,
				modules:       []string{module},
			}, func() error {
				if !changed {
					return nil
				}
				return c.registry.Restore(snapshot)
			}, nil
	}

	snapshots := c.snapshotAll()
	changed, err := c.registry.PauseAll(reason, req.Actor.UserEmail, nil)
	if err != nil {
		// Partial failure: put back whatever we touched.
		c.restoreAll(snapshots)
		return nil, nil, err
	}

	return &outcome{
		action:        "emergency halt of all modules",
		resource:      "all",
		previousValue: fmt.Sprintf("%d modules active", len(breaker.Modules)-countPaused(snapshots)),
		newValue:      "all modules paused",
		reason:        reason,
		modules:       changed,
	}, func() error { return c.restoreAll(snapshots) }, nil
}

func (c *Coordinator) applyEmergencyResumeAll(req ExecuteRequest) (*outcome, func() error, error) {
	reason, err := paramString(req.Params, "reason")
	if err != nil {
		return nil, nil, err
	}

	snapshots := c.snapshotAll()
	changed, err := c.registry.ResumeAll(reason, req.Actor.UserEmail)
	if err != nil {
		c.restoreAll(snapshots)
		return nil, nil, err
	}

	return &outcome{
		action:        "emergency resume of all modules",
		resource:      "all",
		previousValue: fmt.Sprintf("%d modules paused", countPaused(snapshots)),
		newValue:      "all modules active",
		reason:        reason,
		modules:       changed,
	}, func() error { return c.restoreAll(snapshots) }, nil
}

func (c *Coordinator) applyOverride(req ExecuteRequest) (*outcome, func() error, error) {
	module, err := paramString(req.Params, "module")
	if err != nil {
		return nil, nil, err
	}
	if !breaker.ValidModule(module) {
		return nil, nil, fmt.Errorf("%w: %s", breaker.ErrUnknownModule, module)
	}
	parameter, err := paramString(req.Params, "parameter")
	if err != nil {
		return nil, nil, err
	}
	value, err := paramString(req.Params, "value")
	if err != nil {
		return nil, nil, err
	}
	reason, _ := paramString(req.Params, "reason")

	var prior models.ParamOverride
	existed := true
	if err := c.db.Where("module = ? AND parameter = ?", module, parameter).First(&prior).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("load parameter override: %w", err)
		}
		existed = false
	}

	next := models.ParamOverride{
		Module:    module,
		Parameter: parameter,
		Value:     value,
		SetBy:     req.Actor.UserEmail,
		UpdatedAt: time.Now().UTC(),
	}
	if err := c.db.Save(&next).Error; err != nil {
		return nil, nil, fmt.Errorf("persist parameter override: %w", err)
	}

	previous := ""
	if existed {
		previous = prior.Value
	}
	return &outcome{
			action:        fmt.Sprintf("override parameter %s on module %s", parameter, module),
			resource:      module,
			resourceID:    parameter,
			previousValue: previous,
			newValue:      value,
			reason:        reason,
			modules:       []string{module},
		}, func() error {
			if existed {
				return c.db.Save(&prior).Error
			}
			return c.db.Delete(&models.ParamOverride{}, "module = ? AND parameter = ?", module, parameter).Error
		}, nil
}

// ParamOverrides returns the current override set, optionally filtered by
// module.
func (c *Coordinator) ParamOverrides(module string) ([]models.ParamOverride, error) {
	var rows []models.ParamOverride
	q := c.db.Order("module, parameter")
	if module != "" {
		q = q.Where("module = ?", module)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load parameter overrides: %w", err)
	}
	return rows, nil
}

// HandleAutoResume audits a timer-driven resume. Installed as the breaker
// registry's auto-resume callback; the transition itself already happened,
// so a failed append here is logged, not rolled back.
func (c *Coordinator) HandleAutoResume(module string) {
	entry := &models.AuditEntry{
		EventType: models.EventTypeCircuitResume,
		UserID:    "system",
		UserEmail: "system",
		UserRole:  "system",
		Action:    fmt.Sprintf("auto-resume module %s", module),
		Resource:  module,
		NewValue:  pausedLabel(false),
		Result:    models.ResultSuccess,
		Severity:  models.SeverityInfo,
	}
	if err := c.appendDirect(entry); err != nil {
		logger.Log().WithError(err).WithField("module", module).Error("Failed to audit auto-resume")
		return
	}

	c.updatePausedGauges()
	c.publish(ControlEvent{
		EntryID:   entry.ID,
		Operation: OpResumeModule,
		EventType: models.EventTypeCircuitResume,
		Modules:   []string{module},
		Actor:     "system",
		Reason:    "auto-resume window elapsed",
		Result:    models.ResultSuccess,
		Severity:  models.SeverityInfo,
		Timestamp: entry.Timestamp,
	})
}

func (c *Coordinator) checkMFA(code string) error {
	if c.mfaHash == "" {
		return fmt.Errorf("%w: no emergency code provisioned", ErrMFARequired)
	}
	if code == "" {
		return ErrMFARequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.mfaHash), []byte(code)); err != nil {
		return ErrInvalidMFACode
	}
	return nil
}

// recordDenied appends the Result=failure entry for an attempted-but-denied
// operation. The denial itself carries no state change, so a failed append
// here is logged rather than escalated.
func (c *Coordinator) recordDenied(req ExecuteRequest, spec opSpec, detail string) {
	entry := &models.AuditEntry{
		EventType: models.EventTypeAuthFailure,
		UserID:    req.Actor.UserID,
		UserEmail: req.Actor.UserEmail,
		UserRole:  req.Actor.UserRole,
		Action:    fmt.Sprintf("attempted %s", req.Operation),
		Resource:  resourceOf(req.Params),
		Result:    models.ResultFailure,
		Severity:  models.SeverityWarning,
		Metadata:  detail,
	}
	if err := c.appendDirect(entry); err != nil {
		logger.Log().WithError(err).WithField("operation", req.Operation).Error("Failed to audit denied operation")
		return
	}

	c.publish(ControlEvent{
		EntryID:   entry.ID,
		Operation: req.Operation,
		EventType: models.EventTypeAuthFailure,
		Actor:     req.Actor.UserEmail,
		Reason:    detail,
		Result:    models.ResultFailure,
		Severity:  models.SeverityWarning,
		Timestamp: entry.Timestamp,
	})
}

// appendWithRetry drives the conditional append: read the tail, append iff
// the tail is unchanged, retry on conflict within the budget. After the
// budget is spent the caller must treat the operation as not applied.
func (c *Coordinator) appendWithRetry(entry *models.AuditEntry) error {
	var lastErr error
	for attempt := 0; attempt < c.appendRetries; attempt++ {
		tail, err := c.store.TailHash()
		if err != nil {
			lastErr = err
			continue
		}
		if err := c.store.AppendIfTail(entry, tail); err != nil {
			lastErr = err
			continue
		}
		metrics.AuditAppends.Inc()
		return nil
	}

	metrics.AuditAppendFailures.Inc()
	return fmt.Errorf("%w after %d attempts: %v", ErrPersistenceFailure, c.appendRetries, lastErr)
}

// appendDirect writes an entry that carries no state transition (denied
// attempts, system notices). The store's writer lock already serializes the
// read-tail-then-insert, and there is nothing to roll back on failure, so the
// conditional-append retry loop adds nothing here.
func (c *Coordinator) appendDirect(entry *models.AuditEntry) error {
	if err := c.store.Append(entry); err != nil {
		metrics.AuditAppendFailures.Inc()
		return err
	}
	metrics.AuditAppends.Inc()
	return nil
}

func (c *Coordinator) snapshotAll() []models.BreakerState {
	snapshots := make([]models.BreakerState, 0, len(breaker.Modules))
	for _, m := range breaker.Modules {
		if s, err := c.registry.Snapshot(m); err == nil {
			snapshots = append(snapshots, s)
		}
	}
	return snapshots
}

func (c *Coordinator) restoreAll(snapshots []models.BreakerState) error {
	var firstErr error
	for _, s := range snapshots {
		if err := c.registry.Restore(s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Coordinator) updatePausedGauges() {
	for _, s := range c.registry.AllStatuses() {
		v := 0.0
		if s.Paused {
			v = 1.0
		}
		metrics.PausedModules.WithLabelValues(s.Module).Set(v)
	}
}

func countPaused(states []models.BreakerState) int {
	n := 0
	for _, s := range states {
		if s.Paused {
			n++
		}
	}
	return n
}

func pausedLabel(paused bool) string {
	if paused {
		return "paused"
	}
	return "active"
}

func resourceOf(params map[string]interface{}) string {
	if m, ok := params["module"].(string); ok {
		return m
	}
	return "all"
}

func paramString(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrMissingParam, key)
	}
	return s, nil
}

// paramDurationMinutes reads an optional numeric minutes value. JSON
// numbers decode as float64; direct callers may pass int.
func paramDurationMinutes(params map[string]interface{}, key string) *time.Duration {
	v, ok := params[key]
	if !ok {
		return nil
	}
	var minutes float64
	switch n := v.(type) {
	case float64:
		minutes = n
	case int:
		minutes = float64(n)
	default:
		return nil
	}
	if minutes <= 0 {
		return nil
	}
	d := time.Duration(minutes * float64(time.Minute))
	return &d
}
