package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDegraded ProbeStatus = "degraded"
	StatusDown     ProbeStatus = "down"
)

func (s ProbeStatus) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns whichever of a and b is more severe.
func Worse(a, b ProbeStatus) ProbeStatus {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// ProbeResult is the outcome of one check. Data carries structured figures
// such as per-channel backlog so operators do not parse Details.
type ProbeResult struct {
	Component string         `json:"component"`
	Status    ProbeStatus    `json:"status"`
	Details   string         `json:"details,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// HealthReport folds a set of probe results into one status.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

func foldReport(results []ProbeResult) HealthReport {
	status := StatusUp
	for _, result := range results {
		status = Worse(status, result.Status)
	}
	return HealthReport{Success: status == StatusUp, Status: status, Checks: results}
}

// Check is a named probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck builds a check; a nil fn always reports down.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "no probe function"}
		}
	}
	return Check{Name: name, Run: fn}
}

// HealthManager holds the liveness and readiness checks of the process.
// Registering a name twice replaces the earlier check.
type HealthManager struct {
	mu        sync.RWMutex
	liveness  []Check
	readiness []Check
}

// NewHealthManager constructs an empty health manager.
func NewHealthManager() *HealthManager {
	return &HealthManager{}
}

// RegisterLiveness adds or replaces a liveness check.
func (m *HealthManager) RegisterLiveness(check Check) {
	m.register(&m.liveness, check)
}

// RegisterReadiness adds or replaces a readiness check.
func (m *HealthManager) RegisterReadiness(check Check) {
	m.register(&m.readiness, check)
}

func (m *HealthManager) register(list *[]Check, check Check) {
	if check.Name == "" || check.Run == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range *list {
		if existing.Name == check.Name {
			(*list)[i] = check
			return
		}
	}
	*list = append(*list, check)
}

// EvaluateLiveness runs every liveness check.
func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	m.mu.RLock()
	checks := append([]Check(nil), m.liveness...)
	m.mu.RUnlock()
	return foldReport(runAll(ctx, checks))
}

// EvaluateReadiness runs every readiness check.
func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	m.mu.RLock()
	checks := append([]Check(nil), m.readiness...)
	m.mu.RUnlock()
	return foldReport(runAll(ctx, checks))
}

// ReadinessOf runs only the named readiness checks. It reports false when any
// name is not registered.
func (m *HealthManager) ReadinessOf(ctx context.Context, names ...string) (HealthReport, bool) {
	m.mu.RLock()
	selected := make([]Check, 0, len(names))
	for _, name := range names {
		found := false
		for _, check := range m.readiness {
			if check.Name == name {
				selected = append(selected, check)
				found = true
				break
			}
		}
		if !found {
			m.mu.RUnlock()
			return HealthReport{}, false
		}
	}
	m.mu.RUnlock()
	return foldReport(runAll(ctx, selected)), true
}

// runAll evaluates checks concurrently and keeps registration order.
func runAll(ctx context.Context, checks []Check) []ProbeResult {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]ProbeResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			results[i] = runCheck(ctx, check)
		}(i, check)
	}
	wg.Wait()
	return results
}

func runCheck(ctx context.Context, check Check) (result ProbeResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			details := fmt.Sprint(rec)
			if err, ok := rec.(error); ok {
				details = err.Error()
			}
			result = ProbeResult{Status: StatusDown, Details: details}
		}
		result.Component = check.Name
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
	}()

	return check.Run(ctx)
}

// ResultFromError maps a probe error to a result. Timeouts and cancellation
// degrade rather than fail the component.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	result := ProbeResult{Component: component, Status: StatusUp, Duration: max(duration, 0)}
	if err == nil {
		return result
	}
	result.Details = err.Error()
	result.Status = StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		result.Status = StatusDegraded
	}
	return result
}
