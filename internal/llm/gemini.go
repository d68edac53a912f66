package llm

import (
	"context"
	"time"

	"google.golang.org/genai"
)

const providerGemini = "gemini"

// GeminiGateway serves completions from the Gemini API.
type GeminiGateway struct {
	client *genai.Client
	opts   gatewayOptions
}

func NewGeminiGateway(ctx context.Context, apiKey string, opts ...Option) (*GeminiGateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &UpstreamError{Provider: providerGemini, Err: err}
	}
	return &GeminiGateway{client: client, opts: buildOptions(opts)}, nil
}

func (g *GeminiGateway) Complete(ctx context.Context, messages []Message, model string, opts Options) (string, error) {
	if err := g.opts.wait(ctx, providerGemini, model); err != nil {
		return "", err
	}

	start := time.Now()
	out, err := g.complete(ctx, messages, model, opts)
	g.opts.record(ctx, providerGemini, model, messages, opts, out, start, err)
	return out, err
}

func (g *GeminiGateway) complete(ctx context.Context, messages []Message, model string, opts Options) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if opts.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	var contents []*genai.Content
	var system []*genai.Part
	lastUser := -1
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, genai.NewPartFromText(m.Content))
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
		default:
			lastUser = len(contents)
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if img := opts.Image; img != nil {
		var part *genai.Part
		if img.URL != "" {
			part = genai.NewPartFromURI(img.URL, img.MIMEType)
		} else {
			part = genai.NewPartFromBytes(img.Data, img.MIMEType)
		}
		if lastUser < 0 {
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{part}})
		} else {
			contents[lastUser].Parts = append(contents[lastUser].Parts, part)
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", &UpstreamError{Provider: providerGemini, Model: model, Err: err}
	}
	text := resp.Text()
	if text == "" {
		return "", &UpstreamError{Provider: providerGemini, Model: model, Err: ErrEmptyResponse}
	}
	return text, nil
}

// GeminiEmbedder implements the langchaingo embeddings.Embedder contract on
// the Gemini embedding endpoint.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &UpstreamError{Provider: providerGemini, Model: model, Err: err}
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{genai.NewPartFromText(t)}}
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, &UpstreamError{Provider: providerGemini, Model: e.model, Err: err}
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, &UpstreamError{Provider: providerGemini, Model: e.model, Err: ErrEmptyResponse}
	}
	return vecs[0], nil
}
