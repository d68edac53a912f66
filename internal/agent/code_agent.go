package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/planloop/internal/executor"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/internal/plan"
	"github.com/rahul/planloop/internal/tools"
	"github.com/rahul/planloop/pkg/config"
	"go.uber.org/zap"
)

// Request is one code agent invocation.
type Request struct {
	History []llm.Message
	// Catalog overrides the registry's default catalog when set.
	Catalog []tools.Descriptor
}

// CodeAgent plans capability steps and loops until the gate stops it.
type CodeAgent struct {
	gateway       llm.Completer
	prompts       *PromptManager
	runner        *executor.CodeRunner
	gate          *Gate
	model         string
	maxIterations int
	window        int
	logger        *zap.Logger
}

func NewCodeAgent(gateway llm.Completer, prompts *PromptManager, runner *executor.CodeRunner, llmCfg config.LLMConfig, agentCfg config.AgentConfig, logger *zap.Logger) *CodeAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeAgent{
		gateway:       gateway,
		prompts:       prompts,
		runner:        runner,
		gate:          NewGate(gateway, prompts, llmCfg.EvaluationModel, agentCfg.EvalRetries, agentCfg.EvalBackoff),
		model:         llmCfg.PlanningModel,
		maxIterations: agentCfg.MaxIterations,
		window:        agentCfg.TranscriptWindow,
		logger:        logger.Named("code_agent"),
	}
}

type codePlanData struct {
	Conversation string
	Catalog      string
}

// Run executes one full code agent run. Step faults are recorded in the plan
// and never end the run; planning and gate failures do, as a *RunError.
func (a *CodeAgent) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.History) == 0 {
		return nil, errors.New("empty conversation")
	}
	objective := req.History[len(req.History)-1].Content
	r, ctx := startRun(ctx, a.logger, VariantCode, objective)

	catalog := req.Catalog
	if len(catalog) == 0 {
		catalog = a.runner.Registry.DefaultCatalog()
	}
	catalogJSON, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return nil, r.fail(nil, 0, fmt.Errorf("encode catalog: %w", err))
	}
	conversation := renderConversation(req.History)
	p, err := a.plan(ctx, r, conversation, string(catalogJSON))
	if err != nil {
		return nil, r.fail(nil, 0, err)
	}

	outputs := make(map[string]any)
	for iteration := 1; ; iteration++ {
		for _, i := range p.Pending() {
			step := p.Steps[i]
			r.phase(observability.PhaseExecuting, iteration, step.Name)
			res := a.runner.Run(ctx, step, outputs, r.log)
			if res.Success {
				outputs[step.Name] = res.Output
			}
			if err := p.RecordOutcome(step.Name, res.Note()); err != nil {
				r.log.Warn("outcome not recorded", zap.Error(err))
			}
		}
		if stuck := p.StuckSteps(); len(stuck) > 0 {
			r.log.Warn("steps left pending", zap.Strings("steps", stuck))
		}

		r.phase(observability.PhaseEvaluating, iteration, "")
		ev, err := a.gate.Evaluate(ctx, EvalRequest{
			Prompt:        PromptCodeEvaluate,
			Objective:     objective,
			Plan:          p,
			Iteration:     iteration,
			MaxIterations: a.maxIterations,
			Transcript:    r.transcript.Window(a.window),
			Conversation:  conversation,
			Catalog:       string(catalogJSON),
		}, r.log)
		if err != nil {
			return nil, r.fail(p, iteration, fmt.Errorf("evaluate iteration %d: %w", iteration, err))
		}

		if ev.Decision.Terminal() {
			mergeTerminal(r.log, p, ev.Delta)
			return r.finish(p, ev.Decision, iteration, ev.Verdict.FinalAnswer, nil), nil
		}
		mergeDelta(r.log, p, ev.Delta)
	}
}

func (a *CodeAgent) plan(ctx context.Context, r *run, conversation, catalog string) (*plan.Plan, error) {
	r.phase(observability.PhasePlanning, 0, "")
	prompt, err := a.prompts.Render(PromptCodePlan, codePlanData{
		Conversation: conversation,
		Catalog:      catalog,
	})
	if err != nil {
		return nil, err
	}

	var messages []llm.Message
	preamble, err := a.prompts.Preamble()
	if err != nil {
		r.log.Warn("prompt preamble unavailable", zap.Error(err))
	}
	if preamble != "" {
		messages = append(messages, llm.System(preamble))
	}
	messages = append(messages, llm.User(prompt))

	raw, err := complete(ctx, a.gateway, messages, a.model, llm.Options{JSON: true})
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	p, err := plan.ParsePlan(raw)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
	}
	r.log.Info("plan ready", observability.Event(observability.EventTypePlan), zap.Strings("steps", names))
	return p, nil
}

func renderConversation(history []llm.Message) string {
	var b strings.Builder
	for i, m := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}
