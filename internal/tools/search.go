package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/tmc/langchaingo/tools/duckduckgo"
	"go.uber.org/zap"
)

// Searcher is the web search backend; duckduckgo.Tool satisfies it.
type Searcher interface {
	Call(ctx context.Context, input string) (string, error)
}

var resultURL = regexp.MustCompile(`(?m)^\s*URL:\s*(\S+)`)

// SearchResult is what search_web hands to the next step.
type SearchResult struct {
	Query   string  `json:"query"`
	Results string  `json:"results"`
	Pages   []*Page `json:"pages,omitempty"`
}

// SearchTool searches the web and reads the top hits.
type SearchTool struct {
	client   Searcher
	fetcher  *FetchTool
	MaxPages int
}

func NewSearchTool(fetcher *FetchTool) (*SearchTool, error) {
	ddg, err := duckduckgo.New(10, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return NewSearchToolWith(ddg, fetcher), nil
}

// NewSearchToolWith uses a custom backend.
func NewSearchToolWith(client Searcher, fetcher *FetchTool) *SearchTool {
	return &SearchTool{client: client, fetcher: fetcher, MaxPages: 3}
}

func (s *SearchTool) Name() string {
	return "search_web"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo and read the text of the top results."
}

func (s *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to look up",
			},
			"pages": map[string]any{
				"type":        "integer",
				"description": "How many result pages to read (default 3, 0 for none)",
			},
		},
		"required": []string{"query"},
	}
}

func (s *SearchTool) Execute(ctx context.Context, call Call) (any, error) {
	query := call.String("query")
	if query == "" {
		return nil, errors.New("query is required")
	}

	res, err := s.client.Call(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	out := &SearchResult{Query: query, Results: res}
	if s.fetcher == nil {
		return out, nil
	}

	limit := call.Int("pages", s.MaxPages)
	for _, u := range ResultURLs(res) {
		if len(out.Pages) >= limit {
			break
		}
		page, err := s.fetcher.Fetch(ctx, u)
		if err != nil {
			call.log().Debug("skipping search hit", zap.String("url", u), zap.Error(err))
			continue
		}
		out.Pages = append(out.Pages, page)
	}
	return out, nil
}

// ResultURLs pulls the URL lines out of a duckduckgo result listing.
func ResultURLs(listing string) []string {
	var out []string
	for _, m := range resultURL.FindAllStringSubmatch(listing, -1) {
		out = append(out, m[1])
	}
	return out
}
