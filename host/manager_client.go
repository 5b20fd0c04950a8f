package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hostlink/hostlink/control"
)

const defaultRequestTimeout = 30 * time.Second

// RequestParams is the body of a control request.
type RequestParams struct {
	// Config identifies which host configuration the request is about.
	Config string `json:"config"`

	// TimeoutMillis, when present on a stop request, instructs the
	// manager to delay termination by that many milliseconds. It is a
	// directive to the manager, not a local cancellation timeout.
	TimeoutMillis int `json:"timeout,omitempty"`
}

// ManagerResponse carries the manager's raw reply. The caller owns
// interpretation: ManagedHost turns non-200 statuses into
// UnexpectedResponseError with the body attached for diagnostics.
type ManagerResponse struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the manager answered with HTTP 200.
func (r *ManagerResponse) OK() bool {
	return r.StatusCode == http.StatusOK
}

// ManagerClient is a controller's view of the manager daemon: an opaque
// endpoint that accepts start/stop requests for a configuration
// identifier. It is shared between controllers and outlives them.
type ManagerClient struct {
	baseURL    string
	secret     []byte
	httpClient *http.Client
}

// ManagerClientOption configures a ManagerClient.
type ManagerClientOption func(*ManagerClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ManagerClientOption {
	return func(c *ManagerClient) {
		c.httpClient = client
	}
}

// WithControlSecret enables per-request control tokens signed with the
// shared secret.
func WithControlSecret(secret []byte) ManagerClientOption {
	return func(c *ManagerClient) {
		c.secret = secret
	}
}

// NewManagerClient creates a client for the manager daemon at baseURL.
func NewManagerClient(baseURL string, options ...ManagerClientOption) *ManagerClient {
	client := &ManagerClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// BaseURL returns the manager's control API base URL.
func (c *ManagerClient) BaseURL() string {
	return c.baseURL
}

// SendRequest posts a control action ("start" or "stop") with the given
// parameters and returns the manager's raw status and body. A transport
// failure is returned as an error; a non-200 status is not — the caller
// decides what a bad status means.
func (c *ManagerClient) SendRequest(ctx context.Context, action string, params RequestParams) (*ManagerResponse, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", action, err)
	}

	url := c.baseURL + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		token, err := control.Sign(c.secret)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manager %s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading manager %s response: %w", action, err)
	}

	return &ManagerResponse{StatusCode: resp.StatusCode, Body: respBody}, nil
}
