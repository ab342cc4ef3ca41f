// Package qbittorrent submits torrent URLs and magnets to a qBittorrent
// Web UI.
package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"tomarr/internal/services"
)

const sessionTimeout = 15 * time.Minute

// Client talks to the qBittorrent Web API with cookie authentication and a
// basic-auth fallback for reverse-proxied installs.
type Client struct {
	baseURL  string
	username string
	password string
	category string
	tags     string

	httpClient *http.Client

	mu         sync.Mutex
	loggedInAt time.Time
	useBasic   bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client. The cookie jar is
// installed on whatever client ends up in use.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCategory sets the default category applied to submissions.
func WithCategory(category string) Option {
	return func(c *Client) { c.category = category }
}

// WithTags sets the default tags applied to submissions.
func WithTags(tags string) Option {
	return func(c *Client) { c.tags = tags }
}

// New creates a qBittorrent client.
func New(baseURL, username, password string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("qbittorrent url required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		client.httpClient.Jar = jar
	}
	return client, nil
}

// Name identifies this client in download events.
func (c *Client) Name() string { return "qbittorrent" }

// Submit adds one torrent URL or magnet. Category and tags default to the
// client's configuration when empty.
func (c *Client) Submit(ctx context.Context, link, category, tags string) error {
	if strings.TrimSpace(link) == "" {
		return services.Wrap(services.ErrValidation, "qbittorrent", "submit", "Empty torrent link", nil)
	}
	if category == "" {
		category = c.category
	}
	if tags == "" {
		tags = c.tags
	}

	form := url.Values{"urls": {link}}
	if category != "" {
		form.Set("category", category)
	}
	if tags != "" {
		form.Set("tags", tags)
	}

	status, body, err := c.post(ctx, "/api/v2/torrents/add", form)
	if err != nil {
		return err
	}
	// A stale cookie produces 403; log in again and retry once.
	if status == http.StatusForbidden {
		if err := c.login(ctx, true); err != nil {
			return err
		}
		status, body, err = c.post(ctx, "/api/v2/torrents/add", form)
		if err != nil {
			return err
		}
	}
	if status != http.StatusOK {
		return services.Wrap(services.ErrTransient, "qbittorrent", "submit",
			fmt.Sprintf("torrents/add returned %d: %s", status, strings.TrimSpace(body)), nil)
	}
	if strings.EqualFold(strings.TrimSpace(body), "Fails.") {
		return services.Wrap(services.ErrTransient, "qbittorrent", "submit",
			"qBittorrent rejected the torrent link", nil)
	}
	return nil
}

// post sends one form request, ensuring a live session first.
func (c *Client) post(ctx context.Context, path string, form url.Values) (int, string, error) {
	if err := c.login(ctx, false); err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.basicAuth() {
		req.SetBasicAuth(c.username, c.password)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return 0, "", services.Wrap(services.ErrTransient, "qbittorrent", "request",
			fmt.Sprintf("Request failed (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}

// login establishes a cookie session. When cookie login is refused the
// client falls back to basic auth for subsequent requests.
func (c *Client) login(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useBasic {
		return nil
	}
	if !force && time.Since(c.loggedInAt) < sessionTimeout && !c.loggedInAt.IsZero() {
		return nil
	}

	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/auth/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "qbittorrent", "login", "Login request failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))

	switch {
	case resp.StatusCode == http.StatusOK && strings.EqualFold(strings.TrimSpace(string(body)), "Ok."):
		c.loggedInAt = time.Now()
		return nil
	case resp.StatusCode == http.StatusOK:
		return services.Wrap(services.ErrConfiguration, "qbittorrent", "login",
			"qBittorrent rejected the credentials", nil)
	default:
		// Reverse proxies often swallow the cookie endpoint; try basic auth.
		c.useBasic = true
		return nil
	}
}

func (c *Client) basicAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useBasic
}
