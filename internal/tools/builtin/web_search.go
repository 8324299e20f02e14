package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"atlas/internal/agent/ports"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// WebSearchTool queries the Tavily search API. Without an API key the tool
// stays registered but reports the missing configuration, so the model can
// fall back to other strategies instead of the call disappearing silently.
type WebSearchTool struct {
	apiKey     string
	httpClient *http.Client
	logger     ports.Logger
}

func NewWebSearchTool(apiKey string, logger ports.Logger) *WebSearchTool {
	return &WebSearchTool{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (t *WebSearchTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "web_search", Category: "web"}
}

func (t *WebSearchTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs and snippets for the top results.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query":       {Type: "string", Description: "Search query"},
				"max_results": {Type: "integer", Description: "Number of results to return (default 5, max 10)"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	query, ok := stringArg(call, "query")
	if !ok {
		return errResult(call, "web_search requires a 'query' parameter"), nil
	}
	if t.apiKey == "" {
		return errResult(call, "web search is not configured (missing TAVILY_API_KEY)"), nil
	}

	maxResults := intArg(call, "max_results", 5)
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 10 {
		maxResults = 10
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":      t.apiKey,
		"query":        query,
		"max_results":  maxResults,
		"search_depth": "basic",
	})
	if err != nil {
		return errResult(call, "encode search request: %v", err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyEndpoint, bytes.NewReader(payload))
	if err != nil {
		return errResult(call, "build search request: %v", err), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errResult(call, "search request failed: %v", err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResult(call, "read search response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return errResult(call, "search API returned HTTP %d", resp.StatusCode), nil
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return errResult(call, "decode search response: %v", err), nil
	}
	if len(parsed.Results) == 0 {
		return &ports.ToolResult{CallID: call.ID, Content: "No results found for: " + query}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range parsed.Results {
		snippet := r.Content
		if len(snippet) > 300 {
			snippet = snippet[:300] + "..."
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, snippet)
	}
	t.logger.Debug("web_search: %q returned %d results", query, len(parsed.Results))
	return &ports.ToolResult{CallID: call.ID, Content: strings.TrimRight(b.String(), "\n")}, nil
}
