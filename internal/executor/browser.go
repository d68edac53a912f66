package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/planloop/internal/governance"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/internal/plan"
	"go.uber.org/zap"
)

// Driver is the browser surface commands are executed against. Elements
// are addressed by the number the last observation assigned them.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, index int) error
	Fill(ctx context.Context, index int, text string) error
	Select(ctx context.Context, index int, value string) error
	Press(ctx context.Context, key string) error
	Scroll(ctx context.Context, pixels int) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Reload(ctx context.Context) error
	Wait(ctx context.Context, d time.Duration) error
}

// BrowserRunner tries a step's alternative commands in order until one
// succeeds. Only timeouts are retried, on the same command.
type BrowserRunner struct {
	MaxRetries     int
	Backoff        time.Duration
	CommandTimeout time.Duration
	Policy         governance.PolicyEngine
	// Sleep waits between timeout retries; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration)
}

func NewBrowserRunner(maxRetries int, backoff, commandTimeout time.Duration, policy governance.PolicyEngine) *BrowserRunner {
	if policy == nil {
		policy = governance.AllowAll{}
	}
	return &BrowserRunner{
		MaxRetries:     maxRetries,
		Backoff:        backoff,
		CommandTimeout: commandTimeout,
		Policy:         policy,
	}
}

func (r *BrowserRunner) sleep(ctx context.Context, d time.Duration) {
	if r.Sleep != nil {
		r.Sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Run executes step.Commands against d. The successful command text is the
// Output; when every alternative fails the Result carries a
// StepExecutionFault wrapping the last DriverFault.
func (r *BrowserRunner) Run(ctx context.Context, d Driver, step plan.Step, logger *zap.Logger) Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(observability.Event(observability.EventTypeCommand), zap.String("step", step.Name))

	alternatives := SplitAlternatives(step.Commands)
	if len(alternatives) == 0 {
		err := &StepExecutionFault{Step: step.Name, Err: errors.New("no commands")}
		log.Warn("step has no commands")
		observability.StepExecutions.WithLabelValues(string(plan.KindBrowser), "fault").Inc()
		return Result{Err: err}
	}

	var (
		res  Result
		last error
	)
	for _, raw := range alternatives {
		cmd, err := ParseCommand(raw)
		if err != nil {
			last = &DriverFault{Kind: FaultHost, Command: raw, Err: err}
			res.Attempts = append(res.Attempts, Attempt{Command: raw, Try: 1, Kind: FaultHost, Err: err})
			observability.DriverFaults.WithLabelValues(string(FaultHost)).Inc()
			log.Warn("command rejected", zap.String("command", raw), zap.String("fault", string(FaultHost)), zap.Error(err))
			continue
		}

		for try := 1; ; try++ {
			err := r.execute(ctx, d, cmd)
			if err == nil {
				res.Attempts = append(res.Attempts, Attempt{Command: raw, Try: try})
				res.Success, res.Output = true, raw
				log.Info("command succeeded", zap.String("command", raw), zap.Int("try", try))
				observability.StepExecutions.WithLabelValues(string(plan.KindBrowser), "success").Inc()
				return res
			}
			kind := Classify(err)
			last = &DriverFault{Kind: kind, Command: raw, Err: err}
			res.Attempts = append(res.Attempts, Attempt{Command: raw, Try: try, Kind: kind, Err: err})
			observability.DriverFaults.WithLabelValues(string(kind)).Inc()
			log.Warn("command failed",
				zap.String("command", raw),
				zap.String("fault", string(kind)),
				zap.Int("try", try),
				zap.Error(err),
			)
			if kind != FaultTimeout || try > r.MaxRetries || ctx.Err() != nil {
				break
			}
			r.sleep(ctx, r.Backoff*time.Duration(try))
		}
	}

	res.Err = &StepExecutionFault{Step: step.Name, Err: fmt.Errorf("all %d alternatives failed: %w", len(alternatives), last)}
	observability.StepExecutions.WithLabelValues(string(plan.KindBrowser), "fault").Inc()
	log.Warn("all alternatives failed", zap.Int("alternatives", len(alternatives)))
	return res
}

func (r *BrowserRunner) execute(ctx context.Context, d Driver, cmd Command) error {
	verdict, err := r.Policy.Evaluate(ctx, governance.Request{
		Action:    cmd.Verb,
		Arguments: strings.Join(cmd.Args, " "),
		RunID:     llm.RunID(ctx),
	})
	if err != nil {
		return &DriverFault{Kind: FaultHost, Command: cmd.Raw, Err: err}
	}
	if !verdict.Allowed() {
		return &DriverFault{Kind: FaultHost, Command: cmd.Raw, Err: fmt.Errorf("denied by policy: %s", verdict.Reason)}
	}

	if r.CommandTimeout > 0 && cmd.Verb != "wait" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.CommandTimeout)
		defer cancel()
	}
	return dispatch(ctx, d, cmd)
}

func dispatch(ctx context.Context, d Driver, cmd Command) error {
	switch cmd.Verb {
	case "navigate", "goto", "open":
		url, err := cmd.Text(0)
		if err != nil {
			return err
		}
		return d.Navigate(ctx, url)
	case "click":
		n, err := cmd.Int(0)
		if err != nil {
			return err
		}
		return d.Click(ctx, n)
	case "fill", "type":
		n, err := cmd.Int(0)
		if err != nil {
			return err
		}
		text, err := cmd.Text(1)
		if err != nil {
			return err
		}
		return d.Fill(ctx, n, text)
	case "select":
		n, err := cmd.Int(0)
		if err != nil {
			return err
		}
		v, err := cmd.Text(1)
		if err != nil {
			return err
		}
		return d.Select(ctx, n, v)
	case "press":
		key, err := cmd.Text(0)
		if err != nil {
			return err
		}
		return d.Press(ctx, key)
	case "scroll":
		px := 500
		if len(cmd.Args) > 0 {
			n, err := cmd.Int(0)
			if err != nil {
				return err
			}
			px = n
		}
		return d.Scroll(ctx, px)
	case "back":
		return d.Back(ctx)
	case "forward":
		return d.Forward(ctx)
	case "reload":
		return d.Reload(ctx)
	case "wait":
		secs := 1.0
		if len(cmd.Args) > 0 {
			f, err := strconv.ParseFloat(strings.TrimSpace(cmd.Args[0]), 64)
			if err != nil {
				return fmt.Errorf("wait: %q is not a number of seconds", cmd.Args[0])
			}
			secs = f
		}
		return d.Wait(ctx, time.Duration(secs*float64(time.Second)))
	default:
		return fmt.Errorf("unknown command %q", cmd.Verb)
	}
}
