// Package agent runs the plan, execute, observe, evaluate loop. Two variants
// share it: the code agent dispatches capability steps, the surf agent drives
// a browser session. Each run owns its plan, transcript and session.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/internal/plan"
	"go.uber.org/zap"
)

const (
	VariantCode = "code"
	VariantSurf = "surf"
)

// Brain answers one chat message. Chat gateways such as Telegram depend on
// this, not on a concrete agent.
type Brain interface {
	Think(ctx context.Context, chatID string, input string) (string, error)
}

// Result is what a finished run returns.
type Result struct {
	RunID       string
	Variant     string
	Objective   string
	FinalAnswer string
	Decision    Decision
	Iterations  int
	Plan        *plan.Plan
	Transcript  []string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// run is the bookkeeping of one loop execution.
type run struct {
	id         string
	variant    string
	objective  string
	started    time.Time
	transcript *observability.RunLog
	log        *zap.Logger
}

// startRun assigns a run id, tags ctx with it and attaches a fresh
// transcript to logger.
func startRun(ctx context.Context, logger *zap.Logger, variant, objective string) (*run, context.Context) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &run{
		id:         uuid.NewString(),
		variant:    variant,
		objective:  objective,
		started:    time.Now(),
		transcript: observability.NewRunLog(),
	}
	r.log = r.transcript.Attach(logger).With(zap.String("run_id", r.id), zap.String("variant", variant))
	observability.StartRun(r.id, variant)
	r.log.Info("run started", zap.String("objective", objective), observability.Private())
	return r, llm.WithRunID(ctx, r.id)
}

func (r *run) phase(p observability.Phase, iteration int, step string) {
	observability.SetPhase(r.id, p, iteration, step)
}

// finish closes the run's status entry and records metrics. A nil decision
// with err set is a fatal run.
func (r *run) finish(p *plan.Plan, decision Decision, iterations int, answer string, err error) *Result {
	r.phase(observability.PhaseDone, iterations, "")
	defer observability.FinishRun(r.id)

	label := string(decision)
	if err != nil {
		label = "FATAL"
		r.log.Error("run failed", zap.Int("iteration", iterations), zap.Error(err))
	} else {
		r.log.Info("run finished",
			zap.String("decision", label),
			zap.Int("iterations", iterations),
			zap.Duration("elapsed", time.Since(r.started)),
		)
	}
	observability.RunsTotal.WithLabelValues(r.variant, label).Inc()
	observability.RunIterations.WithLabelValues(r.variant).Observe(float64(iterations))

	return &Result{
		RunID:       r.id,
		Variant:     r.variant,
		Objective:   r.objective,
		FinalAnswer: answer,
		Decision:    decision,
		Iterations:  iterations,
		Plan:        p,
		Transcript:  r.transcript.Entries(),
		StartedAt:   r.started,
		FinishedAt:  time.Now(),
	}
}

// RunError is a fatal run failure. The partial Result still carries the
// plan and transcript up to the failure.
type RunError struct {
	Result *Result
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed: %v", e.Result.RunID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// fail finishes r as fatal and wraps err.
func (r *run) fail(p *plan.Plan, iterations int, err error) error {
	return &RunError{Result: r.finish(p, "", iterations, "", err), Err: err}
}

// complete makes one planning call. Non-upstream errors from the gateway are
// wrapped so callers can tell transport failures from bad output.
func complete(ctx context.Context, gateway llm.Completer, messages []llm.Message, model string, opts llm.Options) (string, error) {
	raw, err := gateway.Complete(ctx, messages, model, opts)
	if err != nil && !llm.IsUpstream(err) {
		err = &llm.UpstreamError{Provider: "gateway", Model: model, Err: err}
	}
	return raw, err
}

// mergeTerminal merges a delta returned with a terminal decision. A new
// extraction step still joins the plan and is recorded at once, since its
// data is already in hand; any other new step is dropped because no
// iteration remains to run it.
func mergeTerminal(log *zap.Logger, p *plan.Plan, d *plan.Delta) {
	if d != nil && d.NewStep != nil && d.NewStep.Kind() != plan.KindExtract {
		log.Info("new step dropped, run ended", zap.String("step", d.NewStep.Name))
		c := *d
		c.NewStep = nil
		d = &c
	}
	mergeDelta(log, p, d)
	if d == nil || d.NewStep == nil {
		return
	}
	if err := p.RecordOutcome(d.NewStep.Name, extractionNote(*d.NewStep)); err != nil {
		log.Warn("outcome not recorded", zap.Error(err))
	}
}

func extractionNote(s plan.Step) string {
	if s.ExtractedData == nil {
		return "extracted: no data"
	}
	return "extracted"
}

func mergeDelta(log *zap.Logger, p *plan.Plan, d *plan.Delta) {
	if d.Empty() {
		return
	}
	rep := plan.Merge(p, d)
	log.Info("plan updated",
		observability.Event(observability.EventTypePlan),
		zap.Strings("updated", rep.Updated),
		zap.Strings("ignored", rep.Ignored),
		zap.String("appended", rep.Appended),
		zap.String("replaced", rep.Replaced),
	)
}
