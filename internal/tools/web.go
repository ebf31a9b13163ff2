package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	readability "github.com/go-shiori/go-readability"
)

// FetchWebpageName is the Genkit tool name for fetching web pages.
const FetchWebpageName = "fetch_webpage"

const (
	// maxFetchBytes caps how much of a response body is read.
	maxFetchBytes = 4 << 20
	// maxContentRunes caps the extracted text handed to the model.
	maxContentRunes = 40_000
	fetchTimeout    = 30 * time.Second
	userAgent       = "strand/1.0 (+https://github.com/strandlabs/strand)"
)

// FetchWebpageInput defines input for the fetch_webpage tool.
type FetchWebpageInput struct {
	URL string `json:"url" jsonschema_description:"Absolute http(s) URL of the page to fetch"`
}

// FetchWebpageOutput is the fetch_webpage tool result.
type FetchWebpageOutput struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// urlValidator is the slice of [security.URL] the Web toolset needs.
type urlValidator interface {
	Validate(rawURL string) error
	SafeTransport() *http.Transport
	ValidateRedirect(req *http.Request, via []*http.Request) error
}

// Web provides the fetch_webpage tool. Requests go through a transport
// that re-validates resolved addresses, so a hostname cannot rebind to
// a private address between validation and dial.
type Web struct {
	urls   urlValidator
	client *http.Client
	logger *slog.Logger
}

// NewWeb creates a Web toolset using the given URL validator.
func NewWeb(urls urlValidator, logger *slog.Logger) (*Web, error) {
	if urls == nil {
		return nil, fmt.Errorf("url validator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Web{
		urls: urls,
		client: &http.Client{
			Transport:     urls.SafeTransport(),
			CheckRedirect: urls.ValidateRedirect,
			Timeout:       fetchTimeout,
		},
		logger: logger,
	}, nil
}

// RegisterWeb registers the web tools with Genkit.
func RegisterWeb(g *genkit.Genkit, w *Web) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if w == nil {
		return nil, fmt.Errorf("web is required")
	}

	return []ai.Tool{
		genkit.DefineTool(g, FetchWebpageName,
			"Fetch a web page and extract its readable text. "+
				"Returns the page title and main content with navigation and boilerplate stripped. "+
				"Only public http(s) URLs are allowed; private networks and metadata endpoints are blocked. "+
				"Responses are size-limited and long pages are truncated.",
			w.FetchWebpage),
	}, nil
}

// FetchWebpage downloads a page and reduces it to readable text.
func (w *Web) FetchWebpage(ctx *ai.ToolContext, input FetchWebpageInput) (FetchWebpageOutput, error) {
	if err := w.urls.Validate(input.URL); err != nil {
		w.logger.Warn("webpage fetch blocked", "url", input.URL, "error", err)
		return FetchWebpageOutput{}, fmt.Errorf("url rejected: %w", err)
	}

	reqCtx := context.Background()
	if ctx != nil && ctx.Context != nil {
		reqCtx = ctx.Context
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, input.URL, nil)
	if err != nil {
		return FetchWebpageOutput{}, fmt.Errorf("invalid request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webpage fetch failed", "url", input.URL, "error", err)
		return FetchWebpageOutput{}, fmt.Errorf("fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return FetchWebpageOutput{}, fmt.Errorf("fetch failed: %s returned %s", input.URL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return FetchWebpageOutput{}, fmt.Errorf("read response: %w", err)
	}

	finalURL := resp.Request.URL
	title, content, err := extractReadable(bytes.NewReader(body), finalURL)
	if err != nil {
		return FetchWebpageOutput{}, fmt.Errorf("extract content from %s: %w", input.URL, err)
	}

	content, truncated := truncateRunes(content, maxContentRunes)
	return FetchWebpageOutput{
		URL:       finalURL.String(),
		Title:     title,
		Content:   content,
		Truncated: truncated,
	}, nil
}

// extractReadable runs readability extraction over an HTML document.
func extractReadable(r io.Reader, pageURL *url.URL) (title, content string, err error) {
	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return "", "", fmt.Errorf("readability: %w", err)
	}

	content = strings.TrimSpace(article.TextContent)
	if content == "" {
		return "", "", fmt.Errorf("no readable content")
	}
	return strings.TrimSpace(article.Title), content, nil
}

// truncateRunes cuts s to at most n runes, reporting whether anything
// was dropped.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}
