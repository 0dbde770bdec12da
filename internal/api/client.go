package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"inboxsync/internal/models"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Error is a non-2xx answer from the inbox backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// Unwrap lets callers match 404 answers with models.ErrNotFound.
func (e *Error) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return models.ErrNotFound
	}
	return nil
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Meta is the pagination block of the response envelope.
type Meta struct {
	Page     int  `json:"page"`
	Limit    int  `json:"limit"`
	Total    int  `json:"total"`
	HasMore  bool `json:"hasMore"`
	HasOlder bool `json:"hasOlder"`
	HasNewer bool `json:"hasNewer"`
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta Meta            `json:"meta"`
}

type Client struct {
	baseURL          *url.URL
	token            string
	http             *http.Client
	retryMaxElapsed  time.Duration
	retryMaxAttempts uint64
	log              *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRetry bounds the retries of idempotent requests.
func WithRetry(maxAttempts int, maxElapsed time.Duration) Option {
	return func(cl *Client) {
		cl.retryMaxAttempts = uint64(max(maxAttempts, 0))
		cl.retryMaxElapsed = maxElapsed
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:          u,
		token:            token,
		http:             &http.Client{Timeout: 30 * time.Second},
		retryMaxElapsed:  30 * time.Second,
		retryMaxAttempts: 4,
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "api")
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        any
	rawBody     []byte
	contentType string
}

// do sends req and decodes the envelope's data into out. GETs are retried
// with exponential backoff on transport errors and 5xx answers.
func (c *Client) do(ctx context.Context, req request, out any) (Meta, error) {
	body := req.rawBody
	contentType := req.contentType
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return Meta{}, fmt.Errorf("failed to encode request: %w", err)
		}
		body = data
		contentType = "application/json"
	}

	var env envelope
	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.method, c.endpoint(req.path, req.query), reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if contentType != "" {
			httpReq.Header.Set("Content-Type", contentType)
		}
		if c.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &Error{Status: resp.StatusCode, Message: errorMessage(data)}
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		env = envelope{}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode %s %s response: %w", req.method, req.path, err))
		}
		return nil
	}

	var err error
	if req.method == http.MethodGet {
		err = backoff.RetryNotify(operation, c.retryPolicy(ctx), func(err error, next time.Duration) {
			c.log.Warn("retrying request", "method", req.method, "path", req.path, "in", next, "error", err)
		})
	} else {
		err = operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if err != nil {
		return Meta{}, err
	}

	if out != nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return Meta{}, fmt.Errorf("failed to decode %s %s data: %w", req.method, req.path, err)
		}
	}
	return env.Meta, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.retryMaxElapsed
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, c.retryMaxAttempts), ctx)
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
