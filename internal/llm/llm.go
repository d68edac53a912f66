// Package llm is the completion gateway: one synchronous call that turns a
// message history and a model id into generated text, plus the sanitizer and
// strict decoder applied to everything the model returns.
package llm

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Image is a single attachment, either a URL or inline bytes.
type Image struct {
	URL      string
	MIMEType string
	Data     []byte
}

// Options tune one completion.
type Options struct {
	JSON  bool
	Image *Image
}

// Completer is the gateway contract. Implementations do not retry; retry is
// the caller's policy.
type Completer interface {
	Complete(ctx context.Context, messages []Message, model string, opts Options) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, messages []Message, model string, opts Options) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, messages []Message, model string, opts Options) (string, error) {
	return f(ctx, messages, model, opts)
}

// ErrEmptyResponse is wrapped when the provider returns no choices.
var ErrEmptyResponse = errors.New("empty response")

// UpstreamError is a transport or auth failure of the completion or
// embedding service.
type UpstreamError struct {
	Provider string
	Model    string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// MalformedPlanError means sanitized model output did not decode into the
// expected structure.
type MalformedPlanError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *MalformedPlanError) Error() string {
	return fmt.Sprintf("malformed %s output: %v", e.Stage, e.Err)
}

func (e *MalformedPlanError) Unwrap() error { return e.Err }

func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

func IsMalformed(err error) bool {
	var me *MalformedPlanError
	return errors.As(err, &me)
}

type runIDKey struct{}

// WithRunID tags ctx so gateway journal entries can be tied to a run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run id stored by WithRunID.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// System and User are shorthands for building message lists.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }
