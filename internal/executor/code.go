package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rahul/planloop/internal/governance"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/internal/plan"
	"github.com/rahul/planloop/internal/tools"
	"go.uber.org/zap"
)

// CodeRunner dispatches capability steps to the registry.
type CodeRunner struct {
	Registry *tools.Registry
	Policy   governance.PolicyEngine
}

func NewCodeRunner(registry *tools.Registry, policy governance.PolicyEngine) *CodeRunner {
	if policy == nil {
		policy = governance.AllowAll{}
	}
	return &CodeRunner{Registry: registry, Policy: policy}
}

// Run executes step. outputs holds the values returned by earlier steps of
// the run, keyed by step name; a step naming input_ref receives exactly that
// value as its input.
func (r *CodeRunner) Run(ctx context.Context, step plan.Step, outputs map[string]any, logger *zap.Logger) Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(observability.Event(observability.EventTypeStep), zap.String("step", step.Name), zap.String("capability", step.Capability))

	out, err := r.run(ctx, step, outputs, log)
	if err != nil {
		fault := &StepExecutionFault{Step: step.Name, Capability: step.Capability, Err: err}
		observability.StepExecutions.WithLabelValues(string(plan.KindCapability), "fault").Inc()
		log.Warn("step failed", zap.Error(err))
		return Result{Success: false, Err: fault}
	}
	observability.StepExecutions.WithLabelValues(string(plan.KindCapability), "success").Inc()
	log.Info("step succeeded", zap.String("output", preview(out)))
	return Result{Success: true, Output: out}
}

func (r *CodeRunner) run(ctx context.Context, step plan.Step, outputs map[string]any, log *zap.Logger) (out any, err error) {
	if step.Capability == "" {
		return nil, errors.New("step names no capability")
	}
	tool := r.Registry.Get(step.Capability)
	if tool == nil {
		return nil, fmt.Errorf("unknown capability %q", step.Capability)
	}

	call := tools.Call{Args: step.Arguments, Logger: log}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	if step.InputRef != "" {
		v, ok := outputs[step.InputRef]
		if !ok {
			return nil, fmt.Errorf("input_ref %q has no recorded output", step.InputRef)
		}
		call.Input, call.HasInput = v, true
	}

	args, _ := json.Marshal(call.Args)
	verdict, err := r.Policy.Evaluate(ctx, governance.Request{
		Action:    step.Capability,
		Arguments: string(args),
		RunID:     llm.RunID(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("policy check: %w", err)
	}
	if !verdict.Allowed() {
		log.Warn("policy denied step", observability.Event(observability.EventTypePolicyCheck), zap.String("reason", verdict.Reason))
		return nil, fmt.Errorf("denied by policy: %s", verdict.Reason)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Debug("capability panicked", zap.ByteString("stack", debug.Stack()), observability.Private())
			out, err = nil, fmt.Errorf("capability panicked: %v", p)
		}
	}()
	log.Debug("executing", zap.ByteString("arguments", args))
	return tool.Execute(ctx, call)
}

// preview renders an output for the transcript, capped so one large page
// cannot crowd out the rest of the log window.
func preview(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case nil:
		s = "null"
	default:
		data, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprint(t)
		} else {
			s = string(data)
		}
	}
	const max = 2000
	if len(s) > max {
		s = s[:max] + "...[truncated]"
	}
	return s
}
