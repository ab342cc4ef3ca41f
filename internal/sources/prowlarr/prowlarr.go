// Package prowlarr queries a Prowlarr instance's JSON search API for torrent
// releases.
package prowlarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tomarr/internal/services"
	"tomarr/internal/sources"
)

// release models one row of the Prowlarr /api/v1/search response.
type release struct {
	Title       string `json:"title"`
	DownloadURL string `json:"downloadUrl"`
	MagnetURL   string `json:"magnetUrl"`
	Size        int64  `json:"size"`
	Seeders     int    `json:"seeders"`
	Indexer     string `json:"indexer"`
}

// Client provides access to the Prowlarr search API.
type Client struct {
	baseURL    string
	apiKey     string
	indexerIDs []int
	categories []int
	priority   int
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

// WithIndexers restricts searches to the given Prowlarr indexer ids.
func WithIndexers(ids []int) Option {
	return func(c *Client) { c.indexerIDs = ids }
}

// WithCategories restricts searches to the given Torznab categories.
func WithCategories(ids []int) Option {
	return func(c *Client) { c.categories = ids }
}

// New creates a Prowlarr client.
func New(baseURL, apiKey string, priority int, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("prowlarr base url required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("prowlarr api key required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		priority:   priority,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (c *Client) Name() string  { return sources.NameProwlarr }
func (c *Client) Priority() int { return c.priority }

// Search issues one query for "{title} T{volume}" releases.
func (c *Client) Search(ctx context.Context, title string, volume int) ([]sources.Result, error) {
	query := strings.TrimSpace(title)
	if volume > 0 {
		query = fmt.Sprintf("%s T%02d", query, volume)
	}
	return c.Query(ctx, query)
}

// Query issues a raw search string against every configured indexer.
func (c *Client) Query(ctx context.Context, query string) ([]sources.Result, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "search")
	for _, id := range c.indexerIDs {
		params.Add("indexerIds", strconv.Itoa(id))
	}
	for _, id := range c.categories {
		params.Add("categories", strconv.Itoa(id))
	}

	endpoint := c.baseURL + "/api/v1/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "prowlarr", "search",
			fmt.Sprintf("Search request failed (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, services.Wrap(services.ErrConfiguration, "prowlarr", "search",
			fmt.Sprintf("Prowlarr rejected the API key (status %d)", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrTransient, "prowlarr", "search",
			fmt.Sprintf("Prowlarr search returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]sources.Result, 0, len(releases))
	for _, r := range releases {
		link := r.DownloadURL
		if link == "" {
			link = r.MagnetURL
		}
		if link == "" {
			continue
		}
		results = append(results, sources.Result{
			Title:   r.Title,
			Link:    link,
			Size:    r.Size,
			Seeders: r.Seeders,
			Indexer: r.Indexer,
			Source:  sources.NameProwlarr,
		})
	}
	return results, nil
}
