// Package adspower provides a client for the AdsPower local profile API.
package adspower

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/balance-cli/internal/resilience"
)

// ErrAPI is returned when the API answers with a non-zero code.
var ErrAPI = eris.New("adspower: api error")

// Client defines the profile lifecycle operations.
type Client interface {
	// StartBrowser launches the profile and returns its CDP websocket URL.
	StartBrowser(ctx context.Context, userID string) (string, error)
	// StopBrowser closes the profile's browser.
	StopBrowser(ctx context.Context, userID string) error
	// ProfileName returns the display name of the profile.
	ProfileName(ctx context.Context, userID string) (string, error)
}

// envelope is the wrapper around every API response.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// StartData is the data of a browser/start response.
type StartData struct {
	WS struct {
		Puppeteer string `json:"puppeteer"`
		Selenium  string `json:"selenium"`
	} `json:"ws"`
	DebugPort string `json:"debug_port"`
	Webdriver string `json:"webdriver"`
}

// Profile is one entry of a user/list response.
type Profile struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Serial string `json:"serial_number"`
}

type listData struct {
	List []Profile `json:"list"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the API address. Default: http://127.0.0.1:50325.
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

// WithRateLimit caps requests per second. The local API rejects bursts.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithPolicy sets the retry and circuit breaker policy.
func WithPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

// WithLaunchArgs sets the Chrome arguments passed on start.
func WithLaunchArgs(args ...string) Option {
	return func(c *httpClient) {
		c.launchArgs = args
	}
}

type httpClient struct {
	apiKey     string
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	policy     resilience.Policy
	launchArgs []string
}

// NewClient creates a client. apiKey may be empty when the API runs without
// authentication.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:     apiKey,
		baseURL:    "http://127.0.0.1:50325",
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		policy:     resilience.Policy{Backoff: resilience.DefaultBackoff()},
		launchArgs: []string{"--start-maximized"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) StartBrowser(ctx context.Context, userID string) (string, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("open_tabs", "1")
	if len(c.launchArgs) > 0 {
		args, err := json.Marshal(c.launchArgs)
		if err != nil {
			return "", eris.Wrap(err, "adspower: encode launch args")
		}
		q.Set("launch_args", string(args))
	}

	var data StartData
	if err := c.get(ctx, "start", "/api/v1/browser/start", q, &data); err != nil {
		return "", err
	}
	if data.WS.Puppeteer == "" {
		return "", eris.Errorf("adspower: start %s: response has no websocket endpoint", userID)
	}
	return data.WS.Puppeteer, nil
}

func (c *httpClient) StopBrowser(ctx context.Context, userID string) error {
	q := url.Values{}
	q.Set("user_id", userID)
	return c.get(ctx, "stop", "/api/v1/browser/stop", q, nil)
}

func (c *httpClient) ProfileName(ctx context.Context, userID string) (string, error) {
	q := url.Values{}
	q.Set("user_id", userID)

	var data listData
	if err := c.get(ctx, "list", "/api/v1/user/list", q, &data); err != nil {
		return "", err
	}
	for _, p := range data.List {
		if p.Name != "" {
			return p.Name, nil
		}
	}
	return "", eris.Errorf("adspower: profile %s has no name", userID)
}

// get performs a GET under the client policy and decodes the envelope data
// into out. out may be nil.
func (c *httpClient) get(ctx context.Context, op, path string, q url.Values, out any) error {
	env, err := resilience.Call(ctx, c.policy, "adspower."+op, func(ctx context.Context) (*envelope, error) {
		return c.do(ctx, path, q)
	})
	if err != nil {
		return eris.Wrapf(err, "adspower: %s %s", op, q.Get("user_id"))
	}
	if env.Code != 0 {
		return eris.Wrapf(ErrAPI, "adspower: %s %s: code %d: %s", op, q.Get("user_id"), env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return eris.Wrapf(err, "adspower: decode %s data", op)
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, path string, q url.Values) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "adspower: rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode()), nil)
	if err != nil {
		return nil, eris.Wrap(err, "adspower: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "adspower: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "adspower: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("adspower: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.TransientStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(err, "adspower: unmarshal response (status %d)", resp.StatusCode)
	}
	return &env, nil
}
