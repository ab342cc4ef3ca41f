// Package metasite scrapes the canonical metadata site for series facts:
// total volume count, publication status, editor, author, and years. It is
// a classification source only, never an acquisition source.
package metasite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"tomarr/internal/services"
)

// SeriesInfo is the scraped canonical record for one series.
type SeriesInfo struct {
	Title     string
	Total     *int
	Status    string
	Editor    string
	Author    string
	YearStart *int
	YearEnd   *int
	URL       string
}

// Client fetches and parses the metadata site.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a metadata site client.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("metasite base url required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Lookup runs the two-stage scrape: search for candidates, then fetch the
// first candidate's detail page.
func (c *Client) Lookup(ctx context.Context, title string) (*SeriesInfo, error) {
	candidates, err := c.Search(ctx, title)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "metasite", "lookup",
			fmt.Sprintf("No series page found for %q", title), nil)
	}
	return c.Fetch(ctx, candidates[0])
}

// Search returns the candidate series page URLs for a title, in page order.
func (c *Client) Search(ctx context.Context, title string) ([]string, error) {
	endpoint := c.baseURL + "/search?" + url.Values{"q": {title}}.Encode()
	root, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var (
		candidates []string
		seen       = map[string]struct{}{}
	)
	walk(root, func(node *html.Node) {
		if node.Type != html.ElementNode || node.Data != "a" {
			return
		}
		href := attr(node, "href")
		if href == "" || !strings.Contains(href, "/serie/") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref).String()
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		candidates = append(candidates, resolved)
	})
	return candidates, nil
}

var yearRangeRe = regexp.MustCompile(`(\d{4})(?:\s*[-–]\s*(\d{4}))?`)

// Fetch scrapes one series detail page. The page's definition list carries
// the labelled facts; the h1 carries the title.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*SeriesInfo, error) {
	root, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	info := &SeriesInfo{URL: pageURL}
	var pendingLabel string
	walk(root, func(node *html.Node) {
		if node.Type != html.ElementNode {
			return
		}
		switch node.Data {
		case "h1":
			if info.Title == "" {
				info.Title = strings.TrimSpace(text(node))
			}
		case "dt":
			pendingLabel = normalizeLabel(text(node))
		case "dd":
			applyField(info, pendingLabel, strings.TrimSpace(text(node)))
			pendingLabel = ""
		}
	})

	if info.Title == "" && info.Total == nil && info.Status == "" {
		return nil, services.Wrap(services.ErrTransient, "metasite", "fetch",
			fmt.Sprintf("Page %s does not look like a series page", pageURL), nil)
	}
	return info, nil
}

func applyField(info *SeriesInfo, label, value string) {
	if value == "" {
		return
	}
	switch {
	case strings.HasPrefix(label, "nb volume"), strings.HasPrefix(label, "volumes"):
		if n, err := strconv.Atoi(firstInteger(value)); err == nil {
			info.Total = &n
		}
	case strings.HasPrefix(label, "statut"), strings.HasPrefix(label, "status"):
		info.Status = value
	case strings.HasPrefix(label, "editeur"), strings.HasPrefix(label, "éditeur"):
		info.Editor = value
	case strings.HasPrefix(label, "auteur"), strings.HasPrefix(label, "dessinateur"):
		if info.Author == "" {
			info.Author = value
		}
	case strings.HasPrefix(label, "annee"), strings.HasPrefix(label, "année"):
		if m := yearRangeRe.FindStringSubmatch(value); m != nil {
			if start, err := strconv.Atoi(m[1]); err == nil {
				info.YearStart = &start
			}
			if m[2] != "" {
				if end, err := strconv.Atoi(m[2]); err == nil {
					info.YearEnd = &end
				}
			}
		}
	}
}

func (c *Client) get(ctx context.Context, endpoint string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "tomarr/1.0")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "metasite", "fetch page",
			fmt.Sprintf("Request failed (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrTransient, "metasite", "fetch page",
			fmt.Sprintf("Site returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return root, nil
}

func walk(node *html.Node, fn func(*html.Node)) {
	fn(node)
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walk(child, fn)
	}
}

func attr(node *html.Node, name string) string {
	for _, a := range node.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func text(node *html.Node) string {
	var b strings.Builder
	walk(node, func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
	})
	return b.String()
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ":")))
}

func firstInteger(s string) string {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return s[start:i]
		}
	}
	if start >= 0 {
		return s[start:]
	}
	return ""
}
