package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	cgerrors "github.com/randalmurphal/chatgraph/pkg/chatgraph/errors"
)

// DefaultSearchEndpoint is the Tavily search API.
const DefaultSearchEndpoint = "https://api.tavily.com/search"

// ErrNoSearchKey is returned by search_web when no API key is configured.
var ErrNoSearchKey = errors.New("search_web: TAVILY_API_KEY is not set")

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// SearchResponse is the search_web result returned to the model.
type SearchResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []SearchResult `json:"results"`
}

// SearchOption configures the search_web tool.
type SearchOption func(*searcher)

// WithSearchEndpoint overrides the API endpoint.
func WithSearchEndpoint(url string) SearchOption {
	return func(s *searcher) { s.endpoint = url }
}

// WithSearchHTTPClient sets the HTTP client. Its transport is instrumented.
func WithSearchHTTPClient(c *http.Client) SearchOption {
	return func(s *searcher) { s.base = c }
}

// WithSearchDepth sets the Tavily search depth ("basic" or "advanced").
func WithSearchDepth(depth string) SearchOption {
	return func(s *searcher) { s.depth = depth }
}

type searcher struct {
	apiKey   string
	endpoint string
	depth    string
	base     *http.Client
	client   *http.Client
}

type searchArgs struct {
	Query      string `json:"query" jsonschema_description:"Search query text."`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=10" jsonschema_description:"Maximum number of results (default 5)."`
}

// NewSearchWeb creates the search_web tool backed by the Tavily API.
// A missing key is reported to the model when the tool is called.
func NewSearchWeb(apiKey string, opts ...SearchOption) Tool {
	s := &searcher{
		apiKey:   apiKey,
		endpoint: DefaultSearchEndpoint,
		depth:    "advanced",
	}
	for _, opt := range opts {
		opt(s)
	}

	transport := http.DefaultTransport
	timeout := 30 * time.Second
	if s.base != nil {
		if s.base.Transport != nil {
			transport = s.base.Transport
		}
		if s.base.Timeout > 0 {
			timeout = s.base.Timeout
		}
	}
	s.client = &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   timeout,
	}

	return NewFuncTool(NameSearchWeb, "Use this tool to search the web for information.", s.search)
}

func (s *searcher) search(ctx context.Context, a searchArgs) (any, error) {
	if s.apiKey == "" {
		return nil, ErrNoSearchKey
	}
	query := strings.TrimSpace(a.Query)
	if query == "" {
		return nil, &cgerrors.ArgumentError{Tool: NameSearchWeb, Field: "query", Message: "query is required"}
	}
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	body, err := json.Marshal(map[string]any{
		"query":          query,
		"search_depth":   s.depth,
		"max_results":    maxResults,
		"include_answer": true,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search_web: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("search_web: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &cgerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   s.endpoint,
		}
	}

	var out SearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("search_web: decode response: %w", err)
	}
	if out.Query == "" {
		out.Query = query
	}
	if len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	return out, nil
}
