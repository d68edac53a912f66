package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Page is the readable text of one fetched URL.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt,omitempty"`
	Content string `json:"content"`
}

// FetchTool downloads a page and keeps its main readable content.
type FetchTool struct {
	UserAgent string
	MaxChars  int
	client    *http.Client
	policy    *bluemonday.Policy
}

func NewFetchTool() *FetchTool {
	return &FetchTool{
		UserAgent: defaultUserAgent,
		MaxChars:  50000,
		client:    &http.Client{Timeout: 30 * time.Second},
		policy:    bluemonday.StrictPolicy(),
	}
}

func (f *FetchTool) Name() string {
	return "fetch_page"
}

func (f *FetchTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (f *FetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the webpage (e.g., https://example.com/article)",
			},
		},
		"required": []string{"url"},
	}
}

func (f *FetchTool) Execute(ctx context.Context, call Call) (any, error) {
	target := call.String("url")
	if target == "" {
		return nil, errors.New("url is required")
	}
	return f.Fetch(ctx, target)
}

// Fetch retrieves target and extracts its article text.
func (f *FetchTool) Fetch(ctx context.Context, target string) (*Page, error) {
	parsedURL, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article: %w", err)
	}

	content := f.policy.Sanitize(article.TextContent)
	if f.MaxChars > 0 && len(content) > f.MaxChars {
		content = content[:f.MaxChars] + "\n... (content truncated) ..."
	}
	return &Page{
		URL:     target,
		Title:   article.Title,
		Excerpt: article.Excerpt,
		Content: content,
	}, nil
}
