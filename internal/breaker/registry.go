package breaker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/heimdall-labs/heimdall/internal/logger"
	"github.com/heimdall-labs/heimdall/internal/models"
)

// Protected module names. The set is fixed at startup; everything keyed by
// module name goes through ValidModule first.
const (
	ModuleDEX     = "dex"
	ModuleOracle  = "oracle"
	ModuleCompute = "compute"
)

// Modules lists every protected module in sorted order. Cross-module
// operations acquire locks in this order to avoid deadlock.
var Modules = []string{ModuleCompute, ModuleDEX, ModuleOracle}

var ErrUnknownModule = errors.New("unknown module")

// ValidModule reports whether name is a protected module.
func ValidModule(name string) bool {
	for _, m := range Modules {
		if m == name {
			return true
		}
	}
	return false
}

type moduleState struct {
	mu          sync.Mutex
	state       models.BreakerState
	resumeTimer *time.Timer
}

// Registry owns the circuit-breaker state for every protected module.
// Each module is guarded by its own mutex; state changes are persisted
// before they become visible, and a failed write leaves the in-memory
// state untouched.
type Registry struct {
	db      *gorm.DB
	modules map[string]*moduleState

	hookMu       sync.RWMutex
	onAutoResume func(module string)
}

// SetAutoResumeHook installs or replaces the auto-resume callback. Used
// when the consumer is constructed after the registry (the registry may
// already be running restored timers by then).
func (r *Registry) SetAutoResumeHook(f func(module string)) {
	r.hookMu.Lock()
	r.onAutoResume = f
	r.hookMu.Unlock()
}

func (r *Registry) autoResumeHook() func(module string) {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	return r.onAutoResume
}

// NewRegistry restores persisted breaker state from the database and
// reschedules any pending auto-resume timers. Modules with no persisted
// row start active. onAutoResume is invoked (outside any lock) whenever
// an auto-resume timer fires and flips a module back to active; it may
// be nil.
func NewRegistry(db *gorm.DB, onAutoResume func(module string)) (*Registry, error) {
	r := &Registry{
		db:           db,
		modules:      make(map[string]*moduleState, len(Modules)),
		onAutoResume: onAutoResume,
	}

	var persisted []models.BreakerState
	if err := db.Find(&persisted).Error; err != nil {
		return nil, fmt.Errorf("load breaker state: %w", err)
	}
	byModule := make(map[string]models.BreakerState, len(persisted))
	for _, s := range persisted {
		byModule[s.Module] = s
	}

	now := time.Now().UTC()
	for _, name := range Modules {
		ms := &moduleState{state: models.BreakerState{Module: name, UpdatedAt: now}}
		if s, ok := byModule[name]; ok {
			ms.state = s
		}
		r.modules[name] = ms

		if !ms.state.Paused || !ms.state.AutoResume || ms.state.ResumeAt == nil {
			continue
		}
		remaining := time.Until(*ms.state.ResumeAt)
		if remaining <= 0 {
			// The window elapsed while we were down.
			ms.state = activeState(name, "auto-resume window elapsed during restart")
			if err := db.Save(&ms.state).Error; err != nil {
				return nil, fmt.Errorf("persist breaker state for %s: %w", name, err)
			}
			logger.Log().WithField("module", name).Info("Resumed module whose auto-resume window elapsed while offline")
			continue
		}
		r.scheduleAutoResume(ms, remaining)
	}

	return r, nil
}

func activeState(module, reason string) models.BreakerState {
	return models.BreakerState{
		Module:    module,
		Paused:    false,
		Reason:    reason,
		UpdatedAt: time.Now().UTC(),
	}
}

// Pause flips a module to paused. A nil autoResume pauses indefinitely;
// otherwise a cancellable timer resumes the module after the duration.
// Pausing an already-paused module is a no-op and returns changed=false,
// so callers can still record the duplicate attempt.
func (r *Registry) Pause(module, reason, requestedBy string, autoResume *time.Duration) (bool, error) {
	ms, ok := r.modules[module]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	return r.pauseLocked(ms, reason, requestedBy, autoResume)
}

func (r *Registry) pauseLocked(ms *moduleState, reason, requestedBy string, autoResume *time.Duration) (bool, error) {
	if ms.state.Paused {
		return false, nil
	}

	now := time.Now().UTC()
	next := models.BreakerState{
		Module:    ms.state.Module,
		Paused:    true,
		Reason:    reason,
		PausedBy:  requestedBy,
		PausedAt:  &now,
		UpdatedAt: now,
	}
	if autoResume != nil {
		resumeAt := now.Add(*autoResume)
		next.AutoResume = true
		next.ResumeAt = &resumeAt
	}

	if err := r.db.Save(&next).Error; err != nil {
		return false, fmt.Errorf("persist breaker state for %s: %w", ms.state.Module, err)
	}

	r.cancelTimerLocked(ms)
	ms.state = next
	if autoResume != nil {
		r.scheduleAutoResume(ms, *autoResume)
	}

	logger.Log().WithFields(map[string]interface{}{
		"module": ms.state.Module,
		"reason": reason,
		"by":     requestedBy,
	}).Warn("Circuit breaker paused")
	return true, nil
}

// Resume flips a module back to active and cancels any pending
// auto-resume timer. Resuming an already-active module is a no-op.
func (r *Registry) Resume(module, reason, requestedBy string) (bool, error) {
	ms, ok := r.modules[module]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	return r.resumeLocked(ms, reason, requestedBy)
}

func (r *Registry) resumeLocked(ms *moduleState, reason, requestedBy string) (bool, error) {
	if !ms.state.Paused {
		return false, nil
	}

	next := activeState(ms.state.Module, reason)
	if err := r.db.Save(&next).Error; err != nil {
		return false, fmt.Errorf("persist breaker state for %s: %w", ms.state.Module, err)
	}

	r.cancelTimerLocked(ms)
	ms.state = next

	logger.Log().WithFields(map[string]interface{}{
		"module": ms.state.Module,
		"reason": reason,
		"by":     requestedBy,
	}).Info("Circuit breaker resumed")
	return true, nil
}

// PauseAll pauses every module, acquiring locks in sorted order.
// It returns the modules whose state actually changed.
func (r *Registry) PauseAll(reason, requestedBy string, autoResume *time.Duration) ([]string, error) {
	r.lockAll()
	defer r.unlockAll()

	var changed []string
	for _, name := range Modules {
		did, err := r.pauseLocked(r.modules[name], reason, requestedBy, autoResume)
		if err != nil {
			return changed, err
		}
		if did {
			changed = append(changed, name)
		}
	}
	return changed, nil
}

// ResumeAll resumes every paused module, acquiring locks in sorted order.
func (r *Registry) ResumeAll(reason, requestedBy string) ([]string, error) {
	r.lockAll()
	defer r.unlockAll()

	var changed []string
	for _, name := range Modules {
		did, err := r.resumeLocked(r.modules[name], reason, requestedBy)
		if err != nil {
			return changed, err
		}
		if did {
			changed = append(changed, name)
		}
	}
	return changed, nil
}

// Status returns a copy of one module's current state.
func (r *Registry) Status(module string) (*models.BreakerState, error) {
	ms, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	s := ms.state
	return &s, nil
}

// AllStatuses returns a copy of every module's state, sorted by module name.
func (r *Registry) AllStatuses() []models.BreakerState {
	out := make([]models.BreakerState, 0, len(r.modules))
	for _, name := range Modules {
		ms := r.modules[name]
		ms.mu.Lock()
		out = append(out, ms.state)
		ms.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// Snapshot captures one module's state for a later Restore.
func (r *Registry) Snapshot(module string) (models.BreakerState, error) {
	s, err := r.Status(module)
	if err != nil {
		return models.BreakerState{}, err
	}
	return *s, nil
}

// Restore reinstates a previously captured snapshot, persisting it and
// rebuilding the auto-resume timer if the snapshot had one pending. It is
// the rollback half of the transition-plus-audit unit: used when a state
// change succeeded but its audit record could not be written.
func (r *Registry) Restore(snapshot models.BreakerState) error {
	ms, ok := r.modules[snapshot.Module]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, snapshot.Module)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := r.db.Save(&snapshot).Error; err != nil {
		return fmt.Errorf("persist breaker state for %s: %w", snapshot.Module, err)
	}

	r.cancelTimerLocked(ms)
	ms.state = snapshot
	if snapshot.Paused && snapshot.AutoResume && snapshot.ResumeAt != nil {
		if remaining := time.Until(*snapshot.ResumeAt); remaining > 0 {
			r.scheduleAutoResume(ms, remaining)
		}
	}
	return nil
}

// Close cancels all pending auto-resume timers.
func (r *Registry) Close() {
	for _, name := range Modules {
		ms := r.modules[name]
		ms.mu.Lock()
		r.cancelTimerLocked(ms)
		ms.mu.Unlock()
	}
}

func (r *Registry) lockAll() {
	for _, name := range Modules {
		r.modules[name].mu.Lock()
	}
}

func (r *Registry) unlockAll() {
	for i := len(Modules) - 1; i >= 0; i-- {
		r.modules[Modules[i]].mu.Unlock()
	}
}

// cancelTimerLocked stops a pending auto-resume so a stale timer cannot
// fire after a competing manual transition. Caller holds ms.mu.
func (r *Registry) cancelTimerLocked(ms *moduleState) {
	if ms.resumeTimer != nil {
		ms.resumeTimer.Stop()
		ms.resumeTimer = nil
	}
}

func (r *Registry) scheduleAutoResume(ms *moduleState, d time.Duration) {
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		ms.mu.Lock()
		// A manual transition may have raced the timer firing; only the
		// timer that is still installed gets to act.
		if ms.resumeTimer != timer || !ms.state.Paused {
			ms.mu.Unlock()
			return
		}
		changed, err := r.resumeLocked(ms, "auto-resume window elapsed", "system")
		module := ms.state.Module
		ms.mu.Unlock()

		if err != nil {
			logger.Log().WithField("module", module).WithError(err).Error("Auto-resume failed; module stays paused")
			return
		}
		if hook := r.autoResumeHook(); changed && hook != nil {
			hook(module)
		}
	})
	ms.resumeTimer = timer
}
