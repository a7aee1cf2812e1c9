// Package secrets fetches run credentials from the remote secrets endpoint.
package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/oauth2"
)

// Secret names served by the endpoint.
const (
	LLMAPIKey   = "LLM_API_KEY"
	StoreConfig = "FIRE_CONFIG"
	BaseURL     = "BASE_URL"
	LLMModels   = "LLM_MODELS"
)

// DefaultEndpoint is the production secrets function.
const DefaultEndpoint = "https://us-central1-pr-arena-95f88.cloudfunctions.net/getSecrets"

// RemoteConfigError reports secrets that could not be retrieved or parsed.
type RemoteConfigError struct {
	Op  string
	Err error
}

func (e *RemoteConfigError) Error() string {
	return fmt.Sprintf("remote config: %s: %v", e.Op, e.Err)
}

func (e *RemoteConfigError) Unwrap() error { return e.Err }

// Client requests secrets with a bearer token.
type Client struct {
	endpoint string
	hc       *http.Client
}

// New creates a Client. A zero timeout means 30 seconds.
func New(ctx context.Context, endpoint, token string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	hc.Timeout = timeout
	return &Client{endpoint: endpoint, hc: hc}
}

type request struct {
	Secrets []string `json:"secrets"`
}

type response struct {
	Success bool                       `json:"success"`
	Message string                     `json:"message"`
	Secrets map[string]json.RawMessage `json:"secrets"`
}

// Fetch retrieves the named secrets. Values that are JSON strings are
// returned unquoted; other JSON values are returned as raw JSON text.
func (c *Client) Fetch(ctx context.Context, names ...string) (map[string]string, error) {
	body, err := json.Marshal(request{Secrets: names})
	if err != nil {
		return nil, &RemoteConfigError{Op: "encoding request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &RemoteConfigError{Op: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &RemoteConfigError{Op: "requesting secrets", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RemoteConfigError{Op: "reading response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteConfigError{Op: "requesting secrets", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &RemoteConfigError{Op: "decoding response", Err: err}
	}
	if !r.Success {
		msg := r.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &RemoteConfigError{Op: "requesting secrets", Err: fmt.Errorf("endpoint reported failure: %s", msg)}
	}

	out := make(map[string]string, len(r.Secrets))
	for k, v := range r.Secrets {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	clog.FromContext(ctx).Infof("retrieved %d of %d secrets", len(out), len(names))
	return out, nil
}

func (c *Client) one(ctx context.Context, name string) (string, error) {
	vals, err := c.Fetch(ctx, name)
	if err != nil {
		return "", err
	}
	v, ok := vals[name]
	if !ok || v == "" {
		return "", &RemoteConfigError{Op: "reading " + name, Err: fmt.Errorf("secret not returned")}
	}
	return v, nil
}

// APIKey returns the LLM API key.
func (c *Client) APIKey(ctx context.Context) (string, error) { return c.one(ctx, LLMAPIKey) }

// StoreConfig returns the document store configuration as JSON text.
func (c *Client) StoreConfig(ctx context.Context) (string, error) { return c.one(ctx, StoreConfig) }

// BaseURL returns the LLM base URL.
func (c *Client) BaseURL(ctx context.Context) (string, error) { return c.one(ctx, BaseURL) }

// LLMModels returns the comma-separated model list.
func (c *Client) LLMModels(ctx context.Context) (string, error) { return c.one(ctx, LLMModels) }
