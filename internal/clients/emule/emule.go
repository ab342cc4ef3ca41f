// Package emule submits ED2K links to a running aMule daemon through the
// amulecmd control binary.
package emule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"tomarr/internal/services"
)

const commandTimeout = 10 * time.Second

// Client drives amulecmd against one aMule external-connection endpoint.
type Client struct {
	binary   string
	host     string
	port     int
	password string
	runner   func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the command execution for tests.
func WithRunner(runner func(ctx context.Context, name string, args ...string) ([]byte, error)) Option {
	return func(c *Client) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// New creates an ED2K submission client. binary is the amulecmd executable
// name or path.
func New(binary, host string, port int, password string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(binary) == "" {
		binary = "amulecmd"
	}
	if strings.TrimSpace(host) == "" {
		return nil, errors.New("emule host required")
	}
	if port <= 0 {
		return nil, errors.New("emule port required")
	}
	client := &Client{
		binary:   binary,
		host:     host,
		port:     port,
		password: password,
		runner:   runCommand,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Name identifies this client in download events.
func (c *Client) Name() string { return "emule" }

// Submit hands one ed2k:// URI to the daemon. A missing control binary is a
// recoverable external-tool error, not a crash.
func (c *Client) Submit(ctx context.Context, link string) error {
	if !strings.HasPrefix(strings.ToLower(link), "ed2k://") {
		return services.Wrap(services.ErrValidation, "emule", "submit",
			"Only ed2k:// links can be submitted to aMule", nil)
	}
	if _, err := exec.LookPath(c.binary); err != nil {
		return services.Wrap(services.ErrExternalTool, "emule", "submit",
			fmt.Sprintf("Control binary %q not found on PATH", c.binary), err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	args := []string{
		"--host", c.host,
		"--port", strconv.Itoa(c.port),
	}
	if c.password != "" {
		args = append(args, "--password", c.password)
	}
	args = append(args, "--command", "add "+link)

	output, err := c.runner(ctx, c.binary, args...)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "emule", "submit",
			fmt.Sprintf("amulecmd failed: %s", firstLine(output)), err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

func firstLine(output []byte) string {
	trimmed := strings.TrimSpace(string(output))
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if trimmed == "" {
		return "no output"
	}
	return trimmed
}
