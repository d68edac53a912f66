package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rahul/planloop/internal/browser"
	"github.com/rahul/planloop/internal/executor"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/plan"
	"github.com/rahul/planloop/internal/tools"
	"github.com/rahul/planloop/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	out string
	err error
}

type gatewayCall struct {
	model    string
	messages []llm.Message
	opts     llm.Options
}

func (c gatewayCall) prompt() string {
	return c.messages[len(c.messages)-1].Content
}

// scriptedGateway answers calls in order from replies.
type scriptedGateway struct {
	mu      sync.Mutex
	replies []reply
	calls   []gatewayCall
}

func script(outs ...string) *scriptedGateway {
	g := &scriptedGateway{}
	for _, o := range outs {
		g.replies = append(g.replies, reply{out: o})
	}
	return g
}

func (g *scriptedGateway) Complete(_ context.Context, messages []llm.Message, model string, opts llm.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{model: model, messages: messages, opts: opts})
	if len(g.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.out, r.err
}

var (
	testLLM   = config.LLMConfig{PlanningModel: "planner", EvaluationModel: "judge", SurfModel: "surfer"}
	testAgent = config.AgentConfig{MaxIterations: 2, SurfMaxIterations: 3, EvalRetries: 2, EvalBackoff: time.Second, TranscriptWindow: 8000}
)

func noSleep(context.Context, time.Duration) {}

func newCodeAgent(t *testing.T, g llm.Completer, extra ...tools.Tool) *CodeAgent {
	t.Helper()
	reg := tools.NewRegistry()
	reg.Register(tools.NewCalculateTool())
	for _, tool := range extra {
		reg.Register(tool)
	}
	a := NewCodeAgent(g, NewPromptManager("", nil), executor.NewCodeRunner(reg, nil), testLLM, testAgent, nil)
	a.gate.sleep = noSleep
	return a
}

func ask(q string) Request {
	return Request{History: []llm.Message{llm.User(q)}}
}

func assertNothingPending(t *testing.T, p *plan.Plan) {
	t.Helper()
	for _, s := range p.Steps {
		if s.Attempts > 0 {
			assert.NotEqual(t, plan.Pending, s.OutcomeNote, "step %s", s.Name)
		}
	}
	assert.Empty(t, p.StuckSteps())
}

const addPlan = `{"steps":[{"name":"add","purpose":"sum","capability":"calculate","arguments":{"expression":"2+2"}}]}`

func TestCodeAgent_AddsTwoNumbers(t *testing.T) {
	g := script(addPlan, `{"satisfactory": true, "final_answer": "4", "plan_delta": null}`)
	res, err := newCodeAgent(t, g).Run(context.Background(), ask("what is 2+2?"))
	require.NoError(t, err)

	assert.Equal(t, "4", res.FinalAnswer)
	assert.Equal(t, Done, res.Decision)
	assert.Equal(t, 1, res.Iterations)
	assert.NotEmpty(t, res.RunID)

	step, ok := res.Plan.Lookup("add")
	require.True(t, ok)
	assert.Equal(t, "succeeded: 4", step.OutcomeNote)

	require.Len(t, g.calls, 2)
	assert.Equal(t, "planner", g.calls[0].model)
	assert.True(t, g.calls[0].opts.JSON)
	assert.Contains(t, g.calls[0].prompt(), "user: what is 2+2?")
	assert.Contains(t, g.calls[0].prompt(), `"name": "calculate"`)

	assert.Equal(t, "judge", g.calls[1].model)
	assert.Contains(t, g.calls[1].prompt(), `"outcome_note": "succeeded: 4"`)
	assert.Contains(t, g.calls[1].prompt(), "step succeeded")
	assert.Nil(t, g.calls[1].opts.Image)
}

type captureTool struct {
	name  string
	out   any
	input any
	calls int
}

func (c *captureTool) Name() string               { return c.name }
func (c *captureTool) Description() string        { return "capture" }
func (c *captureTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (c *captureTool) Execute(_ context.Context, call tools.Call) (any, error) {
	c.calls++
	c.input = call.Input
	return c.out, nil
}

func TestCodeAgent_InputRefReceivesExactOutput(t *testing.T) {
	doc := map[string]any{"title": "Go", "tags": []any{"a", "b"}}
	fetch := &captureTool{name: "fetch_doc", out: doc}
	summarize := &captureTool{name: "summarize", out: "short"}

	g := script(
		`{"steps":[
			{"name":"fetch","capability":"fetch_doc","arguments":{}},
			{"name":"sum","capability":"summarize","input_ref":"fetch"}
		]}`,
		`{"satisfactory": true, "final_answer": "short"}`,
	)
	res, err := newCodeAgent(t, g, fetch, summarize).Run(context.Background(), ask("summarize the doc"))
	require.NoError(t, err)
	assert.Equal(t, Done, res.Decision)
	assert.Equal(t, 1, summarize.calls)
	assert.Equal(t, doc, summarize.input)
	assert.Nil(t, fetch.input)
}

func TestCodeAgent_GateRetriesMalformedOutput(t *testing.T) {
	g := script(
		addPlan,
		"I think it is done",
		`{"satisfactory": "yes"}`,
		"```json\n{\"satisfactory\": true, \"final_answer\": \"4\"}\n```",
	)
	res, err := newCodeAgent(t, g).Run(context.Background(), ask("2+2"))
	require.NoError(t, err)
	assert.Equal(t, "4", res.FinalAnswer)
	assert.Len(t, g.calls, 4)
}

func TestCodeAgent_GateGivesUpAfterThreeCalls(t *testing.T) {
	g := script(addPlan, "nope", "still nope", "{", "never reached")
	_, err := newCodeAgent(t, g).Run(context.Background(), ask("2+2"))
	require.Error(t, err)
	assert.True(t, llm.IsMalformed(err))
	assert.Len(t, g.calls, 4)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.NotNil(t, runErr.Result.Plan)
	assert.Equal(t, "succeeded: 4", runErr.Result.Plan.Steps[0].OutcomeNote)
}

func TestCodeAgent_GateSurfacesLastUpstreamError(t *testing.T) {
	g := &scriptedGateway{replies: []reply{
		{out: addPlan},
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{err: errors.New("503")},
	}}
	_, err := newCodeAgent(t, g).Run(context.Background(), ask("2+2"))
	require.Error(t, err)
	assert.True(t, llm.IsUpstream(err))
	assert.Contains(t, err.Error(), "503")
}

func TestCodeAgent_BudgetCeiling(t *testing.T) {
	g := script(
		addPlan,
		`{"satisfactory": false, "plan_delta": {"new_step": {"name": "again", "capability": "calculate", "arguments": {"expression": "2*2"}}}}`,
		`{"satisfactory": false, "plan_delta": {"new_step": {"name": "third", "capability": "calculate", "arguments": {"expression": "1+3"}}}}`,
		`{"satisfactory": true, "final_answer": "4", "plan_delta": {"new_step": {"name": "never", "capability": "calculate", "arguments": {"expression": "0"}}}}`,
	)
	res, err := newCodeAgent(t, g).Run(context.Background(), ask("2+2"))
	require.NoError(t, err)

	assert.Equal(t, BudgetExhausted, res.Decision)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, "4", res.FinalAnswer)
	assert.Len(t, g.calls, 4)

	_, ok := res.Plan.Lookup("never")
	assert.False(t, ok)
	require.Len(t, res.Plan.Steps, 3)
	for _, s := range res.Plan.Steps {
		assert.Equal(t, 1, s.Attempts, s.Name)
	}
	assertNothingPending(t, res.Plan)
}

func TestCodeAgent_StepFaultsDoNotEndTheRun(t *testing.T) {
	g := script(
		`{"steps":[
			{"name":"bad","capability":"no_such_tool"},
			{"name":"div","capability":"calculate","arguments":{"expression":"1/0"}},
			{"name":"chained","capability":"calculate","input_ref":"bad"},
			{"name":"add","capability":"calculate","arguments":{"expression":"2+2"}}
		]}`,
		`{"satisfactory": true, "final_answer": "4"}`,
	)
	res, err := newCodeAgent(t, g).Run(context.Background(), ask("2+2"))
	require.NoError(t, err)
	assert.Equal(t, Done, res.Decision)

	for _, name := range []string{"bad", "div", "chained"} {
		s, ok := res.Plan.Lookup(name)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(s.OutcomeNote, "failed: "), "%s: %s", name, s.OutcomeNote)
	}
	s, _ := res.Plan.Lookup("add")
	assert.Equal(t, "succeeded: 4", s.OutcomeNote)
	assertNothingPending(t, res.Plan)
}

func TestCodeAgent_ModelOutcomeUpdatesAreMerged(t *testing.T) {
	g := script(
		addPlan,
		`{"satisfactory": false, "plan_delta": {"updated_outcomes": [{"name": "add", "outcome_note": "verified 4"}], "new_step": {"name": "check", "capability": "calculate", "arguments": {"expression": "4-2"}}}}`,
		`{"satisfactory": true, "final_answer": "4", "plan_delta": {"updated_outcomes": [{"name": "check", "outcome_note": "checked"}]}}`,
	)
	res, err := newCodeAgent(t, g).Run(context.Background(), ask("2+2"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)

	add, _ := res.Plan.Lookup("add")
	assert.Equal(t, "verified 4", add.OutcomeNote)
	assert.Equal(t, 1, add.Attempts)
	check, _ := res.Plan.Lookup("check")
	assert.Equal(t, "checked", check.OutcomeNote)
	assert.Contains(t, g.calls[2].prompt(), `"outcome_note": "succeeded: 2"`)
}

func TestCodeAgent_PlanningFailureIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		reply reply
		check func(error) bool
	}{
		{"malformed", reply{out: "here is my plan: step one"}, llm.IsMalformed},
		{"empty steps", reply{out: `{"steps": []}`}, llm.IsMalformed},
		{"duplicate names", reply{out: `{"steps":[{"name":"a","capability":"calculate"},{"name":"a","capability":"calculate"}]}`}, llm.IsMalformed},
		{"upstream", reply{err: errors.New("dial tcp: refused")}, llm.IsUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &scriptedGateway{replies: []reply{tt.reply}}
			res, err := newCodeAgent(t, g).Run(context.Background(), ask("2+2"))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, tt.check(err), "%v", err)
			assert.Len(t, g.calls, 1)
		})
	}
}

func TestCodeAgent_EmptyConversation(t *testing.T) {
	_, err := newCodeAgent(t, script()).Run(context.Background(), Request{})
	assert.Error(t, err)
}

func TestCodeAgent_CatalogOverride(t *testing.T) {
	g := script(addPlan, `{"satisfactory": true, "final_answer": "4"}`)
	catalog := []tools.Descriptor{{Name: "weather", Instructions: "look up weather", Template: "{}"}}
	_, err := newCodeAgent(t, g).Run(context.Background(), Request{History: []llm.Message{llm.User("2+2")}, Catalog: catalog})
	require.NoError(t, err)
	assert.Contains(t, g.calls[0].prompt(), `"name": "weather"`)
	assert.NotContains(t, g.calls[0].prompt(), `"name": "calculate"`)
}

func TestCodeAgent_EvaluationSeesCatalogAndConversation(t *testing.T) {
	g := script(addPlan, `{"satisfactory": true, "final_answer": "4"}`)
	catalog := []tools.Descriptor{{Name: "weather", Instructions: "look up weather", Template: "{}"}}
	history := []llm.Message{llm.User("I live in Oslo"), {Role: llm.RoleAssistant, Content: "Noted."}, llm.User("2+2")}
	_, err := newCodeAgent(t, g).Run(context.Background(), Request{History: history, Catalog: catalog})
	require.NoError(t, err)

	require.Len(t, g.calls, 2)
	eval := g.calls[1].prompt()
	assert.Contains(t, eval, `"name": "weather"`)
	assert.Contains(t, eval, "user: I live in Oslo")
	assert.Contains(t, eval, "assistant: Noted.")
}

// fakeSession records driver calls and returns canned observations.
type fakeSession struct {
	mu        sync.Mutex
	commands  []string
	observed  int
	released  int
	failNav   error
	observeFn func(label string) browser.Observation
}

func (f *fakeSession) record(cmd string) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.record("navigate " + url)
	return f.failNav
}
func (f *fakeSession) Click(context.Context, int) error          { f.record("click"); return nil }
func (f *fakeSession) Fill(context.Context, int, string) error   { f.record("fill"); return nil }
func (f *fakeSession) Select(context.Context, int, string) error { f.record("select"); return nil }
func (f *fakeSession) Press(context.Context, string) error       { f.record("press"); return nil }
func (f *fakeSession) Scroll(context.Context, int) error         { f.record("scroll"); return nil }
func (f *fakeSession) Back(context.Context) error                { f.record("back"); return nil }
func (f *fakeSession) Forward(context.Context) error             { f.record("forward"); return nil }
func (f *fakeSession) Reload(context.Context) error              { f.record("reload"); return nil }
func (f *fakeSession) Wait(context.Context, time.Duration) error { f.record("wait"); return nil }

func (f *fakeSession) Observe(_ context.Context, label string) browser.Observation {
	f.mu.Lock()
	f.observed++
	f.mu.Unlock()
	if f.observeFn != nil {
		return f.observeFn(label)
	}
	return browser.Observation{
		Label:      label,
		URL:        "https://example.com",
		Page:       "<!-- Visible Interactive Elements (1) -->\n<a data-highlight-number=\"1\">Docs</a>",
		Screenshot: []byte("png-bytes"),
	}
}

func (f *fakeSession) Release() {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func newSurfAgent(g llm.Completer, sess *fakeSession, launchErr error) *SurfAgent {
	launch := func(context.Context) (BrowserSession, error) {
		if launchErr != nil {
			return nil, launchErr
		}
		return sess, nil
	}
	runner := executor.NewBrowserRunner(1, time.Millisecond, 0, nil)
	runner.Sleep = noSleep
	a := NewSurfAgent(g, NewPromptManager("", nil), runner, launch, testLLM, testAgent, nil)
	a.gate.sleep = noSleep
	return a
}

const openPlan = `{"steps":[{"name":"open","purpose":"open the site","commands":"navigate(\"https://example.com\")"}]}`

func TestSurfAgent_UnavailableContentStillEvaluates(t *testing.T) {
	sess := &fakeSession{observeFn: func(label string) browser.Observation {
		return browser.Observation{Label: label, Page: browser.ContentUnavailable, Err: errors.New("target crashed")}
	}}
	g := script(openPlan, `{"satisfactory": true, "final_answer": "page unreadable"}`, "The page could not be read.")
	res, err := newSurfAgent(g, sess, nil).Run(context.Background(), "find the docs link")
	require.NoError(t, err)

	assert.Equal(t, Done, res.Decision)
	assert.Equal(t, "The page could not be read.", res.FinalAnswer)
	assert.Equal(t, []string{"navigate https://example.com"}, sess.commands)
	assert.Equal(t, 1, sess.observed)
	assert.Equal(t, 1, sess.released)

	require.Len(t, g.calls, 3)
	assert.Contains(t, g.calls[1].prompt(), "CURRENT PAGE STRUCTURE:\n"+browser.ContentUnavailable)
	assert.Nil(t, g.calls[1].opts.Image)
}

func TestSurfAgent_ExtractionIsRecordedNotExecuted(t *testing.T) {
	sess := &fakeSession{}
	g := script(
		openPlan,
		`{"satisfactory": false, "plan_delta": {
			"updated_outcomes": [{"name": "open", "outcome_note": "site opened"}],
			"new_step": {"name": "grab", "commands": "extract", "extracted_data": {"price": "$5"}, "thought": "price is visible"}
		}}`,
		`{"satisfactory": true, "final_answer": "$5"}`,
		"  It costs $5.\n",
	)
	res, err := newSurfAgent(g, sess, nil).Run(context.Background(), "how much is it?")
	require.NoError(t, err)

	assert.Equal(t, "It costs $5.", res.FinalAnswer)
	assert.Equal(t, 2, res.Iterations)
	assert.Len(t, sess.commands, 1)
	assert.Equal(t, 2, sess.observed)
	assert.Equal(t, 1, sess.released)

	grab, ok := res.Plan.Lookup("grab")
	require.True(t, ok)
	assert.Equal(t, "extracted", grab.OutcomeNote)
	open, _ := res.Plan.Lookup("open")
	assert.Equal(t, "site opened", open.OutcomeNote)

	require.Len(t, g.calls, 4)
	assert.Equal(t, "surfer", g.calls[1].model)
	require.NotNil(t, g.calls[1].opts.Image)
	assert.Equal(t, []byte("png-bytes"), g.calls[1].opts.Image.Data)
	answer := g.calls[3]
	assert.False(t, answer.opts.JSON)
	assert.Contains(t, answer.prompt(), `"price": "$5"`)
	assert.Contains(t, answer.prompt(), "OUTCOME: DONE")
}

func TestSurfAgent_FinalVerdictExtractionReachesAnswer(t *testing.T) {
	sess := &fakeSession{}
	g := script(
		openPlan,
		`{"satisfactory": true, "final_answer": "$5", "plan_delta": {
			"new_step": {"name": "grab", "commands": "extract", "extracted_data": {"price": "$5"}}
		}}`,
		"It costs $5.",
	)
	res, err := newSurfAgent(g, sess, nil).Run(context.Background(), "how much is it?")
	require.NoError(t, err)
	assert.Equal(t, Done, res.Decision)
	assert.Equal(t, 1, res.Iterations)

	grab, ok := res.Plan.Lookup("grab")
	require.True(t, ok)
	assert.Equal(t, "extracted", grab.OutcomeNote)
	assert.Len(t, res.Plan.Extracted(), 1)
	assertNothingPending(t, res.Plan)

	require.Len(t, g.calls, 3)
	assert.Contains(t, g.calls[2].prompt(), `"price": "$5"`)
}

func TestSurfAgent_FinalVerdictDropsBrowserStep(t *testing.T) {
	g := script(
		openPlan,
		`{"satisfactory": true, "plan_delta": {"new_step": {"name": "later", "commands": "scroll(300)"}}}`,
		"Done.",
	)
	res, err := newSurfAgent(g, &fakeSession{}, nil).Run(context.Background(), "open example")
	require.NoError(t, err)
	_, ok := res.Plan.Lookup("later")
	assert.False(t, ok)
	assertNothingPending(t, res.Plan)
}

func TestSurfAgent_FailedCommandIsRecorded(t *testing.T) {
	sess := &fakeSession{failNav: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	g := script(openPlan, `{"satisfactory": true, "final_answer": "no"}`, "Site unreachable.")
	res, err := newSurfAgent(g, sess, nil).Run(context.Background(), "open example")
	require.NoError(t, err)
	open, _ := res.Plan.Lookup("open")
	assert.True(t, strings.HasPrefix(open.OutcomeNote, "failed: "), open.OutcomeNote)
	assertNothingPending(t, res.Plan)
}

func TestSurfAgent_AnswerFallsBackToVerdict(t *testing.T) {
	sess := &fakeSession{}
	g := &scriptedGateway{replies: []reply{
		{out: openPlan},
		{out: `{"satisfactory": true, "final_answer": "from the gate"}`},
		{err: errors.New("timeout")},
	}}
	res, err := newSurfAgent(g, sess, nil).Run(context.Background(), "open example")
	require.NoError(t, err)
	assert.Equal(t, "from the gate", res.FinalAnswer)
}

func TestSurfAgent_SessionReleasedOnGateFailure(t *testing.T) {
	sess := &fakeSession{}
	g := script(openPlan, "x", "y", "z")
	_, err := newSurfAgent(g, sess, nil).Run(context.Background(), "open example")
	require.Error(t, err)
	assert.True(t, llm.IsMalformed(err))
	assert.Equal(t, 1, sess.released)
}

func TestSurfAgent_LaunchFailureIsFatal(t *testing.T) {
	g := script(openPlan)
	_, err := newSurfAgent(g, nil, errors.New("chrome not found")).Run(context.Background(), "open example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome not found")
	assert.Len(t, g.calls, 1)
}

func TestSurfAgent_BudgetCeiling(t *testing.T) {
	sess := &fakeSession{}
	step := `{"satisfactory": false, "plan_delta": {"new_step": {"name": "s%d", "commands": "scroll(300)"}}}`
	g := script(openPlan,
		strings.Replace(step, "%d", "1", 1),
		strings.Replace(step, "%d", "2", 1),
		strings.Replace(step, "%d", "3", 1),
		strings.Replace(step, "%d", "4", 1),
		"Nothing found.",
	)
	res, err := newSurfAgent(g, sess, nil).Run(context.Background(), "scroll forever")
	require.NoError(t, err)
	assert.Equal(t, BudgetExhausted, res.Decision)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, 4, sess.observed)
	assert.Len(t, sess.commands, 4)
	_, ok := res.Plan.Lookup("s4")
	assert.False(t, ok)
	assert.Contains(t, g.calls[len(g.calls)-1].prompt(), "OUTCOME: BUDGET_EXHAUSTED")
}

func TestSurfAgent_EmptyObjective(t *testing.T) {
	_, err := newSurfAgent(script(), &fakeSession{}, nil).Run(context.Background(), "  ")
	assert.Error(t, err)
}
