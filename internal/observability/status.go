package observability

import (
	"sort"
	"sync"
	"time"
)

// Phase is a control loop state.
type Phase string

const (
	PhasePlanning   Phase = "PLANNING"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseObserving  Phase = "OBSERVING"
	PhaseEvaluating Phase = "EVALUATING"
	PhaseDone       Phase = "DONE"
)

// RunStatus describes one in-flight run.
type RunStatus struct {
	RunID     string    `json:"run_id"`
	Variant   string    `json:"variant"`
	Phase     Phase     `json:"phase"`
	Iteration int       `json:"iteration"`
	Step      string    `json:"step,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemStatus is the process-wide board of active runs.
type SystemStatus struct {
	mu            sync.RWMutex
	runs          map[string]*RunStatus
	LastHeartbeat time.Time
}

var globalStatus = &SystemStatus{
	runs:          make(map[string]*RunStatus),
	LastHeartbeat: time.Now(),
}

// StartRun registers a run in the PLANNING phase.
func StartRun(runID, variant string) {
	now := time.Now()
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.runs[runID] = &RunStatus{
		RunID:     runID,
		Variant:   variant,
		Phase:     PhasePlanning,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// SetPhase moves a run to phase. Unknown runs are ignored.
func SetPhase(runID string, phase Phase, iteration int, step string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	rs, ok := globalStatus.runs[runID]
	if !ok {
		return
	}
	rs.Phase = phase
	rs.Iteration = iteration
	rs.Step = step
	rs.UpdatedAt = time.Now()
}

// FinishRun drops a run from the board.
func FinishRun(runID string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	delete(globalStatus.runs, runID)
}

// ActiveRuns returns a snapshot ordered by start time.
func ActiveRuns() []RunStatus {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	out := make([]RunStatus, 0, len(globalStatus.runs))
	for _, rs := range globalStatus.runs {
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

// LastHeartbeat returns the time of the most recent Heartbeat.
func LastHeartbeat() time.Time {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.LastHeartbeat
}
