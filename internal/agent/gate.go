package agent

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/internal/plan"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// Decision is the gate's verdict on a run after one iteration.
type Decision string

const (
	Continue        Decision = "CONTINUE"
	Done            Decision = "DONE"
	BudgetExhausted Decision = "BUDGET_EXHAUSTED"
)

// Terminal reports whether the loop stops on d.
func (d Decision) Terminal() bool {
	return d == Done || d == BudgetExhausted
}

// Verdict is the model's evaluation, shared by both agent variants.
type Verdict struct {
	Satisfactory         bool            `json:"satisfactory"`
	MaxIterationsReached bool            `json:"max_iterations_reached"`
	FinalAnswer          string          `json:"final_answer"`
	PlanDelta            json.RawMessage `json:"plan_delta"`
}

//go:embed verdict_schema.json
var verdictSchemaJSON string

var (
	verdictOnce   sync.Once
	verdictSchema *jsonschema.Schema
	verdictErr    error
)

func compiledVerdictSchema() (*jsonschema.Schema, error) {
	verdictOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("verdict_schema.json", strings.NewReader(verdictSchemaJSON)); err != nil {
			verdictErr = err
			return
		}
		verdictSchema, verdictErr = c.Compile("verdict_schema.json")
	})
	return verdictSchema, verdictErr
}

// EvalRequest is everything one evaluation shows the model.
type EvalRequest struct {
	Prompt        string
	Objective     string
	Plan          *plan.Plan
	Iteration     int
	MaxIterations int
	Transcript    string
	Page          string
	Screenshot    []byte
	// Conversation and Catalog let the code variant re-plan against the
	// same request and capabilities the planner saw.
	Conversation string
	Catalog      string
}

// Evaluation is the gate's decision with the verdict it was derived from.
type Evaluation struct {
	Decision Decision
	Verdict  Verdict
	Delta    *plan.Delta
	Calls    int
}

// Gate asks the evaluation model whether the run is done, retrying
// malformed or failed replies.
type Gate struct {
	gateway llm.Completer
	prompts *PromptManager
	model   string
	retries int
	backoff time.Duration
	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration)
}

func NewGate(gateway llm.Completer, prompts *PromptManager, model string, retries int, backoff time.Duration) *Gate {
	if retries < 0 {
		retries = 0
	}
	return &Gate{gateway: gateway, prompts: prompts, model: model, retries: retries, backoff: backoff, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

type evalData struct {
	Objective     string
	Plan          string
	Iteration     int
	MaxIterations int
	Transcript    string
	Page          string
	Conversation  string
	Catalog       string
}

// Evaluate renders the prompt, calls the model at most 1+retries times and
// applies the decision precedence: the hard ceiling first, then the model's
// satisfaction, then the model's own budget claim.
func (g *Gate) Evaluate(ctx context.Context, req EvalRequest, logger *zap.Logger) (*Evaluation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prompt, err := g.prompts.Render(req.Prompt, evalData{
		Objective:     req.Objective,
		Plan:          req.Plan.Snapshot(),
		Iteration:     req.Iteration,
		MaxIterations: req.MaxIterations,
		Transcript:    req.Transcript,
		Page:          req.Page,
		Conversation:  req.Conversation,
		Catalog:       req.Catalog,
	})
	if err != nil {
		return nil, err
	}
	schema, err := compiledVerdictSchema()
	if err != nil {
		return nil, fmt.Errorf("verdict schema: %w", err)
	}
	opts := llm.Options{JSON: true}
	if len(req.Screenshot) > 0 {
		opts.Image = &llm.Image{MIMEType: "image/png", Data: req.Screenshot}
	}
	messages := []llm.Message{llm.User(prompt)}
	logger.Debug("evaluation prompt", zap.String("prompt", prompt), observability.Private())

	var (
		verdict Verdict
		delta   *plan.Delta
		lastErr error
		calls   int
	)
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			observability.GateRetries.Inc()
			g.sleep(ctx, g.backoff*time.Duration(attempt))
		}
		calls++
		delta, lastErr = g.attempt(ctx, messages, opts, schema, &verdict)
		if lastErr == nil {
			break
		}
		logger.Warn("evaluation attempt failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	ev := &Evaluation{Verdict: verdict, Delta: delta, Calls: calls}
	switch {
	case req.Iteration >= req.MaxIterations+1:
		ev.Decision = BudgetExhausted
	case verdict.Satisfactory:
		ev.Decision = Done
	case verdict.MaxIterationsReached:
		ev.Decision = BudgetExhausted
	default:
		ev.Decision = Continue
	}
	logger.Info("evaluated",
		observability.Event(observability.EventTypeDecision),
		zap.String("decision", string(ev.Decision)),
		zap.Int("iteration", req.Iteration),
		zap.Bool("satisfactory", verdict.Satisfactory),
		zap.Int("calls", calls),
	)
	return ev, nil
}

// attempt makes one gateway call. Only upstream and malformed errors are
// returned; both are retryable.
func (g *Gate) attempt(ctx context.Context, messages []llm.Message, opts llm.Options, schema *jsonschema.Schema, v *Verdict) (*plan.Delta, error) {
	raw, err := g.gateway.Complete(ctx, messages, g.model, opts)
	if err != nil {
		if !llm.IsUpstream(err) {
			err = &llm.UpstreamError{Provider: "gateway", Model: g.model, Err: err}
		}
		return nil, err
	}
	*v = Verdict{}
	if err := llm.DecodeJSON("evaluation", raw, schema, v); err != nil {
		return nil, err
	}
	delta, err := plan.ParseDelta(v.PlanDelta)
	if err != nil {
		var mp *llm.MalformedPlanError
		if !errors.As(err, &mp) {
			err = &llm.MalformedPlanError{Stage: "plan delta", Raw: string(v.PlanDelta), Err: err}
		}
		return nil, err
	}
	return delta, nil
}
