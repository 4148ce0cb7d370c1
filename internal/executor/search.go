// ABOUTME: Executor that answers a task by querying a SearXNG instance's JSON API.
// ABOUTME: Results are rendered as a short markdown digest for the agent's reply.

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultResultCount = 5
	maxResultCount     = 100
	snippetLength      = 150
	userAgent          = "coven-swarm/1.0 (+searxng)"
)

// SearchResult is one hit returned by SearXNG.
type SearchResult struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Content  string  `json:"content"`
	Engine   string  `json:"engine"`
	Score    float64 `json:"score"`
	Category string  `json:"category"`
}

// SearchResponse is the subset of the SearXNG response that is rendered.
type SearchResponse struct {
	Query           string         `json:"query"`
	NumberOfResults int            `json:"number_of_results"`
	Results         []SearchResult `json:"results"`
	Answers         []string       `json:"answers"`
	Suggestions     []string       `json:"suggestions"`
	Corrections     []string       `json:"corrections"`
}

// Search queries SearXNG with the task text.
type Search struct {
	BaseURL string
	Count   int // results to render; defaults to 5
	Client  *http.Client
	Logger  *slog.Logger
}

// NewSearch creates a Search executor with its own HTTP client.
func NewSearch(baseURL string, timeout time.Duration, logger *slog.Logger) *Search {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Search{
		BaseURL: baseURL,
		Count:   defaultResultCount,
		Client:  &http.Client{Timeout: timeout},
		Logger:  logger.With("component", "search"),
	}
}

// Execute runs the query and renders the results.
func (s *Search) Execute(ctx context.Context, task string) (string, error) {
	resp, err := s.Query(ctx, task)
	if err != nil {
		return "", err
	}
	return s.render(resp), nil
}

// Query performs the search and returns the decoded response.
func (s *Search) Query(ctx context.Context, query string) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: %w", ErrEmptyTask)
	}

	endpoint := strings.TrimRight(s.BaseURL, "/") + "/search"
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("pageno", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, fmt.Errorf("searxng API error %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out SearchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if out.Query == "" {
		out.Query = query
	}
	if s.Logger != nil {
		s.Logger.Debug("search completed", "query", query, "results", len(out.Results))
	}
	return &out, nil
}

func (s *Search) count() int {
	switch {
	case s.Count <= 0:
		return defaultResultCount
	case s.Count > maxResultCount:
		return maxResultCount
	default:
		return s.Count
	}
}

// render formats a response as markdown.
func (s *Search) render(resp *SearchResponse) string {
	if len(resp.Results) == 0 && len(resp.Answers) == 0 {
		return fmt.Sprintf("No results found for query: %s", resp.Query)
	}

	var b strings.Builder
	total := resp.NumberOfResults
	if total < len(resp.Results) {
		total = len(resp.Results)
	}
	fmt.Fprintf(&b, "## Results for %q (%d found)\n\n", resp.Query, total)

	if len(resp.Answers) > 0 {
		b.WriteString("**Answers:**\n")
		for _, a := range resp.Answers {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("\n")
	}

	shown := min(s.count(), len(resp.Results))
	for i, r := range resp.Results[:shown] {
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, r.Title, r.URL)
		if content := strings.TrimSpace(r.Content); content != "" {
			fmt.Fprintf(&b, "   %s\n", truncate(content, snippetLength))
		}
		if r.Engine != "" {
			fmt.Fprintf(&b, "   _via %s_\n", r.Engine)
		}
	}
	if remaining := len(resp.Results) - shown; remaining > 0 {
		fmt.Fprintf(&b, "\n... %d more results available\n", remaining)
	}

	if len(resp.Suggestions) > 0 {
		fmt.Fprintf(&b, "\n**Suggestions:** %s\n", strings.Join(resp.Suggestions, ", "))
	}
	if len(resp.Corrections) > 0 {
		fmt.Fprintf(&b, "\n**Did you mean:** %s\n", strings.Join(resp.Corrections, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncate shortens s to at most n runes, adding an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
