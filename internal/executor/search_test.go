// ABOUTME: Tests for the SearXNG executor against an httptest server.

package executor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searxngServer(t *testing.T, handler http.HandlerFunc) *Search {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSearch(srv.URL+"/", 5*time.Second, nil)
}

func TestSearch_Execute(t *testing.T) {
	s := searxngServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "golang generics", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"query":             "golang generics",
			"number_of_results": 42,
			"results": []map[string]any{
				{"title": "Tutorial", "url": "https://go.dev/doc/tutorial/generics", "content": "Getting started", "engine": "duckduckgo"},
				{"title": "Proposal", "url": "https://go.dev/design/43651", "content": strings.Repeat("x", 200)},
			},
			"suggestions": []string{"go type parameters"},
		})
	})

	out, err := s.Execute(t.Context(), "golang generics")
	require.NoError(t, err)

	assert.Contains(t, out, `Results for "golang generics" (42 found)`)
	assert.Contains(t, out, "1. [Tutorial](https://go.dev/doc/tutorial/generics)")
	assert.Contains(t, out, "_via duckduckgo_")
	assert.Contains(t, out, strings.Repeat("x", snippetLength)+"...")
	assert.Contains(t, out, "**Suggestions:** go type parameters")
}

func TestSearch_Truncates(t *testing.T) {
	results := make([]map[string]any, 8)
	for i := range results {
		results[i] = map[string]any{"title": "r", "url": "https://example.com"}
	}
	s := searxngServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	})
	s.Count = 3

	out, err := s.Execute(t.Context(), "many")
	require.NoError(t, err)
	assert.Contains(t, out, "3. [r]")
	assert.NotContains(t, out, "4. [r]")
	assert.Contains(t, out, "5 more results available")
}

func TestSearch_NoResults(t *testing.T) {
	s := searxngServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results": []}`))
	})

	out, err := s.Execute(t.Context(), "nothing here")
	require.NoError(t, err)
	assert.Equal(t, "No results found for query: nothing here", out)
}

func TestSearch_Errors(t *testing.T) {
	s := searxngServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := s.Execute(t.Context(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")

	_, err = s.Execute(t.Context(), "  ")
	assert.ErrorIs(t, err, ErrEmptyTask)
}
