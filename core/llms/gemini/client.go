// Package gemini talks to the Gemini generative language API. It covers the
// three call shapes the rest of the module builds on: streamed chat
// completions, a bidirectional live channel for audio, and long-running
// generation operations that are submitted once and polled until done.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/matijarozman/muse-core/core/llms"
)

const (
	// DefaultBaseURL is the public REST endpoint for the generative language API.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel handles streamed conversation and one-shot analysis prompts.
	DefaultModel = "gemini-2.5-flash"
	// DefaultLiveModel handles the bidirectional live audio channel.
	DefaultLiveModel = "gemini-2.0-flash-live-001"
	// DefaultVideoModel handles long-running video generation operations.
	DefaultVideoModel = "veo-3.0-generate-001"
)

// Client is a Gemini API client scoped to a single credential. The zero value
// is not usable, construct it with NewClient.
type Client struct {
	credential *llms.Credential

	baseURL    string
	httpClient *http.Client

	model      string
	liveModel  string
	videoModel string
}

type Option func(*Client)

// WithBaseURL overrides the API endpoint, primarily for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

func WithLiveModel(model string) Option {
	return func(c *Client) {
		c.liveModel = model
	}
}

func WithVideoModel(model string) Option {
	return func(c *Client) {
		c.videoModel = model
	}
}

func NewClient(credential *llms.Credential, opts ...Option) *Client {
	client := &Client{
		credential: credential,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(
				http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return fmt.Sprintf("%s %s %s", r.Method, r.URL.Host, r.URL.Path)
				}),
			),
		},
		model:      DefaultModel,
		liveModel:  DefaultLiveModel,
		videoModel: DefaultVideoModel,
	}

	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) newRequest(ctx context.Context, method string, path string, payload any) (*http.Request, error) {
	apiKey, err := c.credential.Authorize()
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("x-goog-api-key", apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doRequest sends a JSON request and returns the response body. Failure
// statuses are decoded into the shared fault kinds by parseError.
func (c *Client) doRequest(ctx context.Context, method string, path string, payload any) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// doStreamRequest sends a JSON request and hands the caller the raw response
// body for incremental consumption. The caller owns closing it.
func (c *Client) doStreamRequest(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp.Body, nil
}
