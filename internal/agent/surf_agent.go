package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/planloop/internal/browser"
	"github.com/rahul/planloop/internal/executor"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/internal/plan"
	"github.com/rahul/planloop/pkg/config"
	"go.uber.org/zap"
)

// BrowserSession is the part of a browser session the surf loop uses.
type BrowserSession interface {
	executor.Driver
	Observe(ctx context.Context, label string) browser.Observation
	Release()
}

// Launcher starts a browser session for one run.
type Launcher func(ctx context.Context) (BrowserSession, error)

// ManagerLauncher adapts a browser.Manager.
func ManagerLauncher(m *browser.Manager) Launcher {
	return func(ctx context.Context) (BrowserSession, error) {
		s, err := m.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// SurfAgent drives a browser one step at a time, observing the page after
// every iteration.
type SurfAgent struct {
	gateway       llm.Completer
	prompts       *PromptManager
	runner        *executor.BrowserRunner
	launch        Launcher
	gate          *Gate
	model         string
	maxIterations int
	window        int
	logger        *zap.Logger
}

func NewSurfAgent(gateway llm.Completer, prompts *PromptManager, runner *executor.BrowserRunner, launch Launcher, llmCfg config.LLMConfig, agentCfg config.AgentConfig, logger *zap.Logger) *SurfAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SurfAgent{
		gateway:       gateway,
		prompts:       prompts,
		runner:        runner,
		launch:        launch,
		gate:          NewGate(gateway, prompts, llmCfg.SurfModel, agentCfg.EvalRetries, agentCfg.EvalBackoff),
		model:         llmCfg.SurfModel,
		maxIterations: agentCfg.SurfMaxIterations,
		window:        agentCfg.TranscriptWindow,
		logger:        logger.Named("surf_agent"),
	}
}

type surfPlanData struct {
	Objective string
}

type surfAnswerData struct {
	Objective string
	Decision  string
	Extracted string
}

// Run browses toward objective. The session is released on every path.
func (a *SurfAgent) Run(ctx context.Context, objective string) (*Result, error) {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return nil, errors.New("empty objective")
	}
	r, ctx := startRun(ctx, a.logger, VariantSurf, objective)

	p, err := a.plan(ctx, r, objective)
	if err != nil {
		return nil, r.fail(nil, 0, err)
	}

	sess, err := a.launch(ctx)
	if err != nil {
		return nil, r.fail(p, 0, fmt.Errorf("acquire browser session: %w", err))
	}
	defer sess.Release()

	for iteration := 1; ; iteration++ {
		last := ""
		for _, i := range p.Pending() {
			step := p.Steps[i]
			last = step.Name
			r.phase(observability.PhaseExecuting, iteration, step.Name)
			if err := p.RecordOutcome(step.Name, a.execute(ctx, r, sess, step)); err != nil {
				r.log.Warn("outcome not recorded", zap.Error(err))
			}
		}
		if stuck := p.StuckSteps(); len(stuck) > 0 {
			r.log.Warn("steps left pending", zap.Strings("steps", stuck))
		}

		r.phase(observability.PhaseObserving, iteration, last)
		obs := sess.Observe(ctx, fmt.Sprintf("iter%02d_%s", iteration, last))
		if obs.Available() {
			r.log.Info("page observed",
				observability.Event(observability.EventTypeObservation),
				zap.String("url", obs.URL),
				zap.String("title", obs.Title),
				zap.Int("elements", len(obs.Elements)),
			)
		} else {
			r.log.Warn("page content unavailable", observability.Event(observability.EventTypeObservation), zap.Error(obs.Err))
		}

		r.phase(observability.PhaseEvaluating, iteration, "")
		ev, err := a.gate.Evaluate(ctx, EvalRequest{
			Prompt:        PromptSurfLoop,
			Objective:     objective,
			Plan:          p,
			Iteration:     iteration,
			MaxIterations: a.maxIterations,
			Transcript:    r.transcript.Window(a.window),
			Page:          obs.Page,
			Screenshot:    obs.Screenshot,
		}, r.log)
		if err != nil {
			return nil, r.fail(p, iteration, fmt.Errorf("evaluate iteration %d: %w", iteration, err))
		}

		if ev.Decision.Terminal() {
			mergeTerminal(r.log, p, ev.Delta)
			answer := a.answer(ctx, r, objective, ev, p)
			return r.finish(p, ev.Decision, iteration, answer, nil), nil
		}
		mergeDelta(r.log, p, ev.Delta)
	}
}

// execute runs one surf step and returns its outcome note. Extraction steps
// only carry data the model already read from the page.
func (a *SurfAgent) execute(ctx context.Context, r *run, sess BrowserSession, step plan.Step) string {
	switch step.Kind() {
	case plan.KindExtract:
		r.log.Info("extraction recorded", observability.Event(observability.EventTypeStep), zap.String("step", step.Name))
		return extractionNote(step)
	case plan.KindCapability:
		r.log.Warn("capability step in browser run", zap.String("step", step.Name), zap.String("capability", step.Capability))
		return "failed: capabilities are not available while browsing"
	default:
		return a.runner.Run(ctx, sess, step, r.log).Note()
	}
}

func (a *SurfAgent) plan(ctx context.Context, r *run, objective string) (*plan.Plan, error) {
	r.phase(observability.PhasePlanning, 0, "")
	prompt, err := a.prompts.Render(PromptSurfPlan, surfPlanData{Objective: objective})
	if err != nil {
		return nil, err
	}
	raw, err := complete(ctx, a.gateway, []llm.Message{llm.User(prompt)}, a.model, llm.Options{JSON: true})
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	p, err := plan.ParsePlan(raw)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	r.log.Info("plan ready", observability.Event(observability.EventTypePlan), zap.Int("steps", len(p.Steps)))
	return p, nil
}

// answer summarises the extracted data. When that completion fails the
// gate's own final answer is used.
func (a *SurfAgent) answer(ctx context.Context, r *run, objective string, ev *Evaluation, p *plan.Plan) string {
	extracted := p.Extracted()
	if extracted == nil {
		extracted = []plan.Extracted{}
	}
	data, err := json.MarshalIndent(extracted, "", "  ")
	if err != nil {
		r.log.Warn("extracted data not encodable", zap.Error(err))
		return ev.Verdict.FinalAnswer
	}
	prompt, err := a.prompts.Render(PromptSurfAnswer, surfAnswerData{
		Objective: objective,
		Decision:  string(ev.Decision),
		Extracted: string(data),
	})
	if err != nil {
		r.log.Warn("answer prompt failed", zap.Error(err))
		return ev.Verdict.FinalAnswer
	}
	out, err := complete(ctx, a.gateway, []llm.Message{llm.User(prompt)}, a.model, llm.Options{})
	if err != nil {
		r.log.Warn("final answer synthesis failed", zap.Error(err))
		return ev.Verdict.FinalAnswer
	}
	return strings.TrimSpace(out)
}
