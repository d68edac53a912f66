package agent

import (
	"context"
	"testing"
	"time"

	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onePlan() *plan.Plan {
	return &plan.Plan{Steps: []plan.Step{{Name: "add", Capability: "calculate", OutcomeNote: "succeeded: 4", Attempts: 1}}}
}

func TestGate_DecisionPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		verdict   string
		iteration int
		max       int
		want      Decision
	}{
		{"satisfied", `{"satisfactory": true}`, 1, 2, Done},
		{"not yet", `{"satisfactory": false}`, 2, 2, Continue},
		{"ceiling beats satisfaction", `{"satisfactory": true}`, 3, 2, BudgetExhausted},
		{"ceiling beats continue", `{"satisfactory": false}`, 3, 2, BudgetExhausted},
		{"model asserts exhaustion", `{"satisfactory": false, "max_iterations_reached": true}`, 1, 2, BudgetExhausted},
		{"satisfaction beats asserted exhaustion", `{"satisfactory": true, "max_iterations_reached": true}`, 1, 2, Done},
		{"zero budget", `{"satisfactory": true}`, 1, 0, BudgetExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(script(tt.verdict), NewPromptManager("", nil), "judge", 2, 0)
			ev, err := g.Evaluate(context.Background(), EvalRequest{
				Prompt:        PromptCodeEvaluate,
				Objective:     "2+2",
				Plan:          onePlan(),
				Iteration:     tt.iteration,
				MaxIterations: tt.max,
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Decision)
			assert.Equal(t, 1, ev.Calls)
		})
	}
}

func TestGate_RetryBackoffIsLinear(t *testing.T) {
	var sleeps []time.Duration
	g := NewGate(script("bad", "worse", `{"satisfactory": true, "final_answer": "ok"}`), NewPromptManager("", nil), "judge", 2, time.Second)
	g.sleep = func(_ context.Context, d time.Duration) { sleeps = append(sleeps, d) }

	ev, err := g.Evaluate(context.Background(), EvalRequest{Prompt: PromptCodeEvaluate, Plan: onePlan(), Iteration: 1, MaxIterations: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, ev.Calls)
	assert.Equal(t, "ok", ev.Verdict.FinalAnswer)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
}

func TestGate_MalformedDeltaIsRetried(t *testing.T) {
	g := NewGate(script(
		`{"satisfactory": false, "plan_delta": {"steps": []}}`,
		`{"satisfactory": false, "plan_delta": {"updated_outcomes": [{"name": "add", "outcome_note": "pending"}]}}`,
		`{"satisfactory": false, "plan_delta": {"new_step": {"name": "next", "capability": "calculate"}}}`,
	), NewPromptManager("", nil), "judge", 2, 0)
	g.sleep = noSleep

	ev, err := g.Evaluate(context.Background(), EvalRequest{Prompt: PromptCodeEvaluate, Plan: onePlan(), Iteration: 1, MaxIterations: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, ev.Calls)
	require.NotNil(t, ev.Delta.NewStep)
	assert.Equal(t, "next", ev.Delta.NewStep.Name)
}

func TestGate_NullDeltaIsEmpty(t *testing.T) {
	g := NewGate(script(`{"satisfactory": true, "final_answer": null, "plan_delta": null}`), NewPromptManager("", nil), "judge", 0, 0)
	ev, err := g.Evaluate(context.Background(), EvalRequest{Prompt: PromptCodeEvaluate, Plan: onePlan(), Iteration: 1, MaxIterations: 1}, nil)
	require.NoError(t, err)
	assert.True(t, ev.Delta.Empty())
	assert.Empty(t, ev.Verdict.FinalAnswer)
}

func TestGate_NoRetriesMeansOneCall(t *testing.T) {
	gw := script("bad", `{"satisfactory": true}`)
	g := NewGate(gw, NewPromptManager("", nil), "judge", 0, 0)
	_, err := g.Evaluate(context.Background(), EvalRequest{Prompt: PromptCodeEvaluate, Plan: onePlan(), Iteration: 1, MaxIterations: 1}, nil)
	require.Error(t, err)
	assert.True(t, llm.IsMalformed(err))
	assert.Len(t, gw.calls, 1)
}

func TestGate_AttachesScreenshot(t *testing.T) {
	gw := script(`{"satisfactory": true}`)
	g := NewGate(gw, NewPromptManager("", nil), "surfer", 2, 0)
	_, err := g.Evaluate(context.Background(), EvalRequest{
		Prompt:        PromptSurfLoop,
		Plan:          onePlan(),
		Iteration:     1,
		MaxIterations: 3,
		Page:          "<!-- Visible Interactive Elements (0) -->",
		Screenshot:    []byte{0x89, 'P', 'N', 'G'},
	}, nil)
	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	img := gw.calls[0].opts.Image
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.True(t, gw.calls[0].opts.JSON)
	assert.Contains(t, gw.calls[0].prompt(), "Visible Interactive Elements (0)")
}
