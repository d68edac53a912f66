// Package executor runs one plan step: a capability invocation for the code
// agent or an ordered list of alternative browser commands for the surf
// agent. Faults are recovered here and reported in the Result; a failing step
// never aborts its run.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/chromedp"
)

// Result is the outcome of executing one step.
type Result struct {
	Success  bool
	Output   any
	Err      error
	Attempts []Attempt
}

// Note is the outcome note recorded on the step after execution.
func (r Result) Note() string {
	if r.Success {
		return "succeeded: " + preview(r.Output)
	}
	if r.Err == nil {
		return "failed"
	}
	return "failed: " + r.Err.Error()
}

// Attempt records one try of one browser command.
type Attempt struct {
	Command string
	Try     int
	Kind    FaultKind
	Err     error
}

// StepExecutionFault is a step whose action failed.
type StepExecutionFault struct {
	Step       string
	Capability string
	Err        error
}

func (e *StepExecutionFault) Error() string {
	if e.Capability == "" {
		return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %q (%s) failed: %v", e.Step, e.Capability, e.Err)
}

func (e *StepExecutionFault) Unwrap() error { return e.Err }

// FaultKind classifies a browser command failure.
type FaultKind string

const (
	FaultNone     FaultKind = ""
	FaultTimeout  FaultKind = "timeout"
	FaultProtocol FaultKind = "protocol"
	FaultHost     FaultKind = "host"
)

// DriverFault is one failed browser command.
type DriverFault struct {
	Kind    FaultKind
	Command string
	Err     error
}

func (e *DriverFault) Error() string {
	return fmt.Sprintf("%s fault on %s: %v", e.Kind, e.Command, e.Err)
}

func (e *DriverFault) Unwrap() error { return e.Err }

// Classify maps a driver error to its fault kind. Deadline errors are
// timeouts, DevTools and chromedp errors are protocol faults, anything else
// is a host fault.
func Classify(err error) FaultKind {
	if err == nil {
		return FaultNone
	}
	var df *DriverFault
	if errors.As(err, &df) && df.Kind != FaultNone {
		return df.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FaultTimeout
	}
	var cdpErr *cdproto.Error
	if errors.As(err, &cdpErr) {
		return FaultProtocol
	}
	var chromeErr chromedp.Error
	if errors.As(err, &chromeErr) {
		return FaultProtocol
	}
	return FaultHost
}
