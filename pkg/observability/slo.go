package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Operations tracked against objectives.
const (
	OperationCallback   = "callback"
	OperationDispatch   = "dispatch"
	OperationPostUpdate = "post_update"
)

// maxObservations caps the samples kept per operation.
const maxObservations = 4096

// SLOTarget defines a service level objective.
type SLOTarget struct {
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // 0-1
	Window      time.Duration `json:"window"`
}

// SLOObservation is a single data point.
type SLOObservation struct {
	Operation string
	Latency   time.Duration
	Success   bool
	Timestamp time.Time
}

// SLOStatus reports current compliance.
type SLOStatus struct {
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"`         // >1 means burning faster than budget allows
	ErrorBudgetLeft  float64 `json:"error_budget_left"` // percentage remaining
	ObservationCount int     `json:"observation_count"`
}

// DefaultSLOTargets are the gateway's objectives: callbacks answer fast and
// best-effort steps rarely fail.
func DefaultSLOTargets() []SLOTarget {
	return []SLOTarget{
		{Operation: OperationCallback, LatencyP99: 500 * time.Millisecond, SuccessRate: 0.99, Window: time.Hour},
		{Operation: OperationDispatch, LatencyP99: 250 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
		{Operation: OperationPostUpdate, LatencyP99: 2 * time.Second, SuccessRate: 0.99, Window: time.Hour},
	}
}

// SLOTracker keeps a bounded window of observations per operation.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

// NewSLOTracker creates a tracker with the given targets.
func NewSLOTracker(targets ...SLOTarget) *SLOTracker {
	t := &SLOTracker{
		targets:      make(map[string]SLOTarget, len(targets)),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
	for _, target := range targets {
		t.targets[target.Operation] = target
	}
	return t
}

// WithClock overrides clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// Record records an observation. Operations without a target are ignored.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.targets[obs.Operation]; !ok {
		return
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	buf := append(t.observations[obs.Operation], obs)
	if len(buf) > maxObservations {
		buf = buf[len(buf)-maxObservations:]
	}
	t.observations[obs.Operation] = buf
}

// Operations returns the tracked operations in name order.
func (t *SLOTracker) Operations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]string, 0, len(t.targets))
	for op := range t.targets {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Status computes current SLO status for an operation.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("no SLO target for operation %q", operation)
	}

	windowStart := t.clock().Add(-target.Window)
	var latencies []float64
	successes := 0
	for _, obs := range t.observations[operation] {
		if !obs.Timestamp.After(windowStart) {
			continue
		}
		latencies = append(latencies, float64(obs.Latency.Milliseconds()))
		if obs.Success {
			successes++
		}
	}

	status := &SLOStatus{
		Operation:        operation,
		InCompliance:     true,
		ErrorBudgetLeft:  100.0,
		ObservationCount: len(latencies),
	}
	if len(latencies) == 0 {
		return status, nil
	}

	successRate := float64(successes) / float64(len(latencies))
	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	if errorBudget > 0 {
		status.BurnRate = errorRate / errorBudget
		status.ErrorBudgetLeft = max(0, 100.0*(1.0-status.BurnRate))
	} else if errorRate > 0 {
		status.ErrorBudgetLeft = 0
	}

	status.CurrentP99 = p99
	status.CurrentSuccess = successRate
	status.InCompliance = p99 <= float64(target.LatencyP99.Milliseconds()) && successRate >= target.SuccessRate
	return status, nil
}

// Snapshot returns the status of every tracked operation.
func (t *SLOTracker) Snapshot() []SLOStatus {
	ops := t.Operations()
	out := make([]SLOStatus, 0, len(ops))
	for _, op := range ops {
		if s, err := t.Status(op); err == nil {
			out = append(out, *s)
		}
	}
	return out
}
