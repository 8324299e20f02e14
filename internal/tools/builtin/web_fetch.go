package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"atlas/internal/agent/ports"
)

const (
	fetchCacheSize = 128
	fetchCacheTTL  = 15 * time.Minute
	maxFetchChars  = 100 * 1024
)

var whitespaceRun = regexp.MustCompile(`[ \t]{2,}`)

// WebFetchTool downloads a page and extracts its readable text. Responses
// are cached so repeated fetches of the same URL within a task are free.
type WebFetchTool struct {
	httpClient *http.Client
	cache      *expirable.LRU[string, string]
	logger     ports.Logger
}

func NewWebFetchTool(logger ports.Logger) *WebFetchTool {
	return &WebFetchTool{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      expirable.NewLRU[string, string](fetchCacheSize, nil, fetchCacheTTL),
		logger:     logger,
	}
}

func (t *WebFetchTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "web_fetch", Category: "web"}
}

func (t *WebFetchTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "web_fetch",
		Description: "Fetch a URL and return the page's readable text content.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"url": {Type: "string", Description: "HTTP or HTTPS URL to fetch"},
			},
			Required: []string{"url"},
		},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	rawURL, ok := stringArg(call, "url")
	if !ok {
		return errResult(call, "web_fetch requires a 'url' parameter"), nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errResult(call, "invalid URL %q: must be http or https", rawURL), nil
	}

	if cached, ok := t.cache.Get(rawURL); ok {
		t.logger.Debug("web_fetch: cache hit for %s", rawURL)
		return &ports.ToolResult{CallID: call.ID, Content: cached}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errResult(call, "build request for %q: %v", rawURL, err), nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; atlas-agent/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errResult(call, "fetch %q: %v", rawURL, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errResult(call, "fetch %q: HTTP %d", rawURL, resp.StatusCode), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "html") && !strings.Contains(contentType, "text") &&
		!strings.Contains(contentType, "json") && contentType != "" {
		return errResult(call, "fetch %q: unsupported content type %s", rawURL, contentType), nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return errResult(call, "parse %q: %v", rawURL, err), nil
	}

	content := extractReadableText(doc)
	if content == "" {
		return errResult(call, "fetch %q: no readable content", rawURL), nil
	}
	if len(content) > maxFetchChars {
		content = content[:maxFetchChars] + "\n... (truncated)"
	}

	result := fmt.Sprintf("Content of %s:\n\n%s", rawURL, content)
	t.cache.Add(rawURL, result)
	t.logger.Debug("web_fetch: %s (%d chars)", rawURL, len(content))
	return &ports.ToolResult{CallID: call.ID, Content: result}, nil
}

func extractReadableText(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, noscript, iframe").Remove()

	// prefer the semantic content container when the page has one
	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var lines []string
	root.Find("h1, h2, h3, h4, p, li, pre, td, th").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		text = whitespaceRun.ReplaceAllString(strings.ReplaceAll(text, "\n", " "), " ")
		lines = append(lines, text)
	})
	if len(lines) == 0 {
		text := strings.TrimSpace(root.Text())
		text = whitespaceRun.ReplaceAllString(text, " ")
		return text
	}
	return strings.Join(lines, "\n")
}
