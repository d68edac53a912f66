package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rahul/planloop/internal/observability"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Option configures a gateway.
type Option func(*gatewayOptions)

type gatewayOptions struct {
	limiter *rate.Limiter
	journal *observability.Journal
	logger  *zap.Logger
}

// WithRateLimit caps outbound calls per second. Zero disables the cap.
func WithRateLimit(perSecond float64) Option {
	return func(o *gatewayOptions) {
		if perSecond > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithJournal(j *observability.Journal) Option {
	return func(o *gatewayOptions) { o.journal = j }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *gatewayOptions) { o.logger = l }
}

func buildOptions(opts []Option) gatewayOptions {
	o := gatewayOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o gatewayOptions) wait(ctx context.Context, provider, model string) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return &UpstreamError{Provider: provider, Model: model, Err: fmt.Errorf("rate limit: %w", err)}
	}
	return nil
}

func (o gatewayOptions) record(ctx context.Context, provider, model string, messages []Message, opts Options, out string, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.GatewayCalls.WithLabelValues(provider, outcome).Inc()
	observability.GatewayLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	o.journal.Record(observability.JournalEntry{
		RunID:    RunID(ctx),
		Provider: provider,
		Model:    model,
		Prompt:   messages,
		Response: out,
		JSONMode: opts.JSON,
		HasImage: opts.Image != nil,
		Duration: elapsed,
		Err:      err,
	})
	o.logger.Debug("completion",
		observability.Event(observability.EventTypeLLM),
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Duration("duration", elapsed),
		zap.Int("response_chars", len(out)),
		zap.Error(err),
	)
}

// LangchainGateway serves completions from any langchaingo model.
type LangchainGateway struct {
	model    llms.Model
	provider string
	opts     gatewayOptions
}

func NewLangchainGateway(model llms.Model, provider string, opts ...Option) *LangchainGateway {
	return &LangchainGateway{model: model, provider: provider, opts: buildOptions(opts)}
}

func (g *LangchainGateway) Complete(ctx context.Context, messages []Message, model string, opts Options) (string, error) {
	if err := g.opts.wait(ctx, g.provider, model); err != nil {
		return "", err
	}

	start := time.Now()
	out, err := g.complete(ctx, messages, model, opts)
	g.opts.record(ctx, g.provider, model, messages, opts, out, start, err)
	return out, err
}

func (g *LangchainGateway) complete(ctx context.Context, messages []Message, model string, opts Options) (string, error) {
	content := toMessageContent(messages, opts.Image)

	var callOpts []llms.CallOption
	if model != "" {
		callOpts = append(callOpts, llms.WithModel(model))
	}
	if opts.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := g.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", &UpstreamError{Provider: g.provider, Model: model, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &UpstreamError{Provider: g.provider, Model: model, Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Content, nil
}

func toMessageContent(messages []Message, img *Image) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	lastUser := -1
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			lastUser = len(out)
		}
		out = append(out, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}
	if img == nil {
		return out
	}

	var part llms.ContentPart
	if img.URL != "" {
		part = llms.ImageURLPart(img.URL)
	} else {
		part = llms.BinaryPart(img.MIMEType, img.Data)
	}
	if lastUser < 0 {
		return append(out, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{part}})
	}
	out[lastUser].Parts = append(out[lastUser].Parts, part)
	return out
}
