// Package mediawiki implements corpus.Corpus on the MediaWiki Action API.
//
// All requests use format=json&formatversion=2, pass through a token
// bucket rate limiter and are retried with exponential backoff on
// transport errors, 5xx responses and maxlag refusals.
package mediawiki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUserAgent   = "markwatch/1.0 (https://github.com/roach88/markwatch)"
	defaultTimeout     = 30 * time.Second
	defaultRateLimit   = 2.0
	defaultBurst       = 4
	defaultMaxRetries  = 3
	defaultMaxLag      = 5
	defaultBaseBackoff = time.Second
)

// Config configures a Client.
type Config struct {
	APIURL     string
	Username   string
	Password   string
	UserAgent  string
	RateLimit  float64
	Burst      int
	Timeout    time.Duration
	MaxRetries int
	MaxLag     int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// APIError is an error object returned by the API.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mediawiki api error %s: %s", e.Code, e.Info)
}

// Client talks to one wiki. It is safe for concurrent use, although the
// reconciler only ever uses it from one goroutine.
type Client struct {
	apiURL      string
	username    string
	password    string
	userAgent   string
	maxRetries  int
	maxLag      int
	baseBackoff time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter

	mu        sync.Mutex
	csrfToken string
	loggedIn  bool
}

// New creates a client. Call Login before writing when credentials are set.
func New(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("mediawiki: api url is required")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("mediawiki: invalid api url: %w", err)
	}

	c := &Client{
		apiURL:      cfg.APIURL,
		username:    cfg.Username,
		password:    cfg.Password,
		userAgent:   cfg.UserAgent,
		maxRetries:  cfg.MaxRetries,
		maxLag:      cfg.MaxLag,
		baseBackoff: cfg.BaseBackoff,
		httpClient:  cfg.HTTPClient,
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.maxLag <= 0 {
		c.maxLag = defaultMaxLag
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = defaultBaseBackoff
	}

	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	c.limiter = rate.NewLimiter(rate.Limit(limit), burst)

	if c.httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("mediawiki: cookie jar: %w", err)
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout, Jar: jar}
	}

	return c, nil
}

// Login authenticates with a bot password. Without credentials it is a
// no-op and the client stays anonymous (read-only in practice).
func (c *Client) Login(ctx context.Context) error {
	if c.username == "" {
		slog.Warn("no wiki credentials configured, continuing anonymously")
		return nil
	}

	token, err := c.token(ctx, "login")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var resp struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	err = c.call(ctx, http.MethodPost, url.Values{
		"action":     {"login"},
		"lgname":     {c.username},
		"lgpassword": {c.password},
		"lgtoken":    {token},
	}, &resp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Login.Result != "Success" {
		return fmt.Errorf("login: %s: %s", resp.Login.Result, resp.Login.Reason)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.csrfToken = ""
	c.mu.Unlock()
	slog.Info("logged in to wiki", "user", c.username)
	return nil
}

// token fetches a token of the given type (login, csrf).
func (c *Client) token(ctx context.Context, kind string) (string, error) {
	var resp struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	err := c.call(ctx, http.MethodGet, url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"type":   {kind},
	}, &resp)
	if err != nil {
		return "", err
	}
	token := resp.Query.Tokens[kind+"token"]
	if token == "" {
		return "", fmt.Errorf("no %s token in response", kind)
	}
	return token, nil
}

// call performs one API request with rate limiting and retries, decoding
// the JSON body into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	if method == http.MethodPost {
		params.Set("maxlag", fmt.Sprint(c.maxLag))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.doRequest(ctx, method, params)
		if err == nil {
			err = decode(body, out)
		}
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(ctx, err) {
			return err
		}
		slog.Debug("retrying wiki request", "action", params.Get("action"), "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// transportError is a failure to send a request or read its response.
type transportError struct {
	Op  string
	Err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *transportError) Unwrap() error { return e.Err }

// statusError is a non-2xx HTTP response.
type statusError struct {
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

func (c *Client) doRequest(ctx context.Context, method string, params url.Values) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{Op: "send request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{Op: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Status: resp.StatusCode}
	}
	return body, nil
}

func decode(body []byte, out any) error {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// isRetryable reports whether a failed request should be sent again. Once
// the caller's context is done nothing is retried; a timeout of the http
// client itself leaves ctx alive and is retried like any transport error.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code == "maxlag" || ae.Code == "ratelimited"
	}
	var te *transportError
	return errors.As(err, &te)
}
