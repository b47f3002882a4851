// Package research searches the web through DuckDuckGo's HTML endpoint and
// fetches pages as plain Markdown-ish text.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/martinemde/dome/catalog"
)

// Config tunes the HTTP side of the researcher.
type Config struct {
	SearchURL string
	UserAgent string
	Timeout   time.Duration
	// MaxBytes caps how much of a response body is read.
	MaxBytes int64
}

// DefaultConfig returns the researcher defaults.
func DefaultConfig() Config {
	return Config{
		SearchURL: "https://html.duckduckgo.com/html/",
		UserAgent: "Mozilla/5.0 (compatible; dome/1.0)",
		Timeout:   30 * time.Second,
		MaxBytes:  2 << 20,
	}
}

const maxResults = 30

// Web implements catalog.WebResearcher.
type Web struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// Option configures a Web.
type Option func(*Web)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Web) {
		if c != nil {
			w.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Web) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Web researcher. Zero config fields take defaults.
func New(cfg Config, opts ...Option) *Web {
	def := DefaultConfig()
	if cfg.SearchURL == "" {
		cfg.SearchURL = def.SearchURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	w := &Web{cfg: cfg, client: http.DefaultClient, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Search returns up to limit results for query.
func (w *Web) Search(ctx context.Context, query string, limit int) ([]catalog.WebResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > maxResults {
		limit = maxResults
	}

	u, err := url.Parse(w.cfg.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	body, _, err := w.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	results, err := parseResults(body, limit)
	if err != nil {
		return nil, err
	}
	w.logger.Debug("web search", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// Fetch downloads rawURL and returns its text, cut to maxChars runes.
func (w *Web) Fetch(ctx context.Context, rawURL string, maxChars int) (catalog.WebPage, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return catalog.WebPage{}, fmt.Errorf("invalid url %q: only http and https are supported", rawURL)
	}
	body, contentType, err := w.get(ctx, u.String())
	if err != nil {
		return catalog.WebPage{}, fmt.Errorf("fetch %s: %w", u, err)
	}

	page := catalog.WebPage{URL: u.String()}
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		page.Text = strings.TrimSpace(body)
	} else {
		page.Title, page.Text, err = htmlToText(body)
		if err != nil {
			return catalog.WebPage{}, fmt.Errorf("parse %s: %w", u, err)
		}
	}
	if maxChars > 0 {
		if r := []rune(page.Text); len(r) > maxChars {
			page.Text = string(r[:maxChars])
			page.Truncated = true
		}
	}
	w.logger.Debug("web fetch", zap.String("url", page.URL), zap.Int("chars", len(page.Text)))
	return page, nil
}

func (w *Web) get(ctx context.Context, target string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", w.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, w.cfg.MaxBytes))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}
	return string(data), resp.Header.Get("Content-Type"), nil
}

// parseResults extracts result links from DuckDuckGo's HTML page.
func parseResults(body string, limit int) ([]catalog.WebResult, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	results := []catalog.WebResult{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if r := extractResult(n); r.URL != "" && r.Title != "" {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractResult(n *html.Node) catalog.WebResult {
	var r catalog.WebResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				r.URL = attr(n, "href")
				r.Title = textContent(n)
			case hasClass(n, "result__snippet"):
				r.Snippet = textContent(n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	r.URL = unwrapRedirect(r.URL)
	return r
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= redirect links.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		u.Scheme = "https"
		return u.String()
	}
	return href
}

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]+`)
)

// htmlToText renders the readable parts of a page, marking headings and
// list items.
func htmlToText(body string) (string, string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", "", err
	}
	var title string
	var sb strings.Builder
	var walk func(*html.Node, int)
	walk = func(n *html.Node, depth int) {
		if depth > 200 {
			return
		}
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "form":
				return
			case "title":
				if title == "" {
					title = textContent(n)
				}
				return
			case "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
			case "p", "div", "section", "article", "table", "tr":
				sb.WriteString("\n\n")
			case "br":
				sb.WriteString("\n")
			case "li":
				sb.WriteString("\n- ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
		if n.Type == html.ElementNode && len(n.Data) == 2 && n.Data[0] == 'h' && n.Data[1] >= '1' && n.Data[1] <= '6' {
			sb.WriteString("\n\n")
		}
	}
	walk(doc, 0)
	return title, cleanText(sb.String()), nil
}

func cleanText(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
