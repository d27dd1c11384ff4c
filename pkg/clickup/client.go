// Package clickup provides a client for posting comments to ClickUp lists
// and chat views.
package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/balance-cli/internal/resilience"
)

// Client posts comments.
type Client interface {
	// PostComment posts text to a list (numeric ID) or chat view (any other
	// ID) and returns the created comment ID.
	PostComment(ctx context.Context, targetID, text string) (string, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPolicy sets the retry and circuit breaker policy.
func WithPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	policy  resilience.Policy
}

// NewClient creates a ClickUp client authenticated with a personal token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://api.clickup.com/api/v2",
		http:    &http.Client{Timeout: 30 * time.Second},
		policy:  resilience.Policy{Backoff: resilience.DefaultBackoff()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type commentRequest struct {
	CommentText string `json:"comment_text"`
	NotifyAll   bool   `json:"notify_all"`
}

type commentResponse struct {
	ID json.Number `json:"id"`
}

var numericID = regexp.MustCompile(`^\d+$`)

// CommentPath returns the API path for a comment on targetID.
func CommentPath(targetID string) string {
	if numericID.MatchString(targetID) {
		return "/list/" + targetID + "/comment"
	}
	return "/view/" + targetID + "/comment"
}

func (c *httpClient) PostComment(ctx context.Context, targetID, text string) (string, error) {
	if targetID == "" {
		return "", eris.New("clickup: empty target id")
	}

	payload, err := json.Marshal(commentRequest{CommentText: text})
	if err != nil {
		return "", eris.Wrap(err, "clickup: marshal comment")
	}

	body, err := resilience.Call(ctx, c.policy, "clickup.comment", func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, CommentPath(targetID), payload)
	})
	if err != nil {
		return "", eris.Wrapf(err, "clickup: post comment to %s", targetID)
	}

	var resp commentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", eris.Wrap(err, "clickup: unmarshal comment response")
	}
	return resp.ID.String(), nil
}

func (c *httpClient) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "clickup: create request")
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "clickup: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "clickup: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("clickup: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.TransientStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}
	return body, nil
}
