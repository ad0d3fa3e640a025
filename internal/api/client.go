package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/http"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
	"github.com/guildwire/guildwire/internal/ratelimit"
	"github.com/guildwire/guildwire/internal/version"
)

// GuildAvailability reports guilds that are in an outage.
type GuildAvailability interface {
	Unavailable(guildID models.Snowflake) bool
}

// Client represents the REST API client. Every call goes through the
// dispatcher, which owns rate limiting and the 5xx retry policy; the HTTP
// layer below only retries a timed-out call once.
type Client struct {
	httpClient     *retryablehttp.Client
	dispatcher     *ratelimit.Dispatcher
	baseURL        string
	authorization  string
	userAgent      string
	requestTimeout time.Duration
	guilds         GuildAvailability
	logger         *logging.Logger
}

// NewClient creates a new API client from cfg.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.REST.APIURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("API base URL is empty: %w", config.ErrMissingAPIURL)
	}

	httpClient, err := http.ConfigureHTTPClient(cfg.Proxy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	c := &Client{
		httpClient:     http.NewRetryingClient(httpClient, cfg.REST.RetryOnTimeout, logger),
		baseURL:        baseURL,
		authorization:  cfg.AuthorizationHeader(),
		userAgent:      version.UserAgent(),
		requestTimeout: cfg.REST.RequestTimeout,
		logger:         logger.Component("api"),
	}
	c.dispatcher = ratelimit.NewDispatcher(c, ratelimit.Options{
		ServerErrorRetries: cfg.REST.ServerErrorRetries,
		CleanupInterval:    cfg.REST.CleanupInterval,
		DecodeError:        DecodeError,
		Logger:             logger,
	})
	return c, nil
}

// SetGuildAvailability installs the source consulted for guild-addressed
// fast failures.
func (c *Client) SetGuildAvailability(g GuildAvailability) {
	c.guilds = g
}

// Dispatcher returns the rate-limit dispatcher behind the client.
func (c *Client) Dispatcher() *ratelimit.Dispatcher {
	return c.dispatcher
}

// Close fails queued calls and stops the dispatcher.
func (c *Client) Close() {
	c.dispatcher.Close()
}

// RequestOption customizes a single call.
type RequestOption func(*ratelimit.Request)

// WithReason attaches an audit-log reason.
func WithReason(reason string) RequestOption {
	return func(r *ratelimit.Request) {
		if reason == "" {
			return
		}
		if r.Header == nil {
			r.Header = nethttp.Header{}
		}
		r.Header.Set("X-Audit-Log-Reason", url.PathEscape(reason))
	}
}

// Future resolves once its request has succeeded or failed.
type Future struct {
	done chan struct{}
	resp *ratelimit.Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(resp *ratelimit.Response, err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends. A canceled wait
// does not cancel the queued request.
func (f *Future) Wait(ctx context.Context) (*ratelimit.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit queues a call and returns immediately. body is marshaled to JSON
// unless it is nil or already []byte. The context's deadline, or the
// configured request timeout, becomes the request's deadline.
func (c *Client) Submit(ctx context.Context, route ratelimit.CompiledRoute, body interface{}, opts ...RequestOption) *Future {
	f := newFuture()

	if err := c.checkGuild(route); err != nil {
		f.resolve(nil, err)
		return f
	}

	payload, err := encodeBody(body)
	if err != nil {
		f.resolve(nil, err)
		return f
	}

	req := &ratelimit.Request{
		Route: route,
		Body:  payload,
		OnSuccess: func(resp *ratelimit.Response) {
			f.resolve(resp, nil)
		},
		OnFailure: func(err error) {
			f.resolve(nil, fmt.Errorf("%s: %w", route, err))
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.Deadline = deadline
	} else if c.requestTimeout > 0 {
		req.Deadline = time.Now().Add(c.requestTimeout)
	}
	for _, opt := range opts {
		opt(req)
	}

	c.dispatcher.Submit(req)
	return f
}

// Do submits a call, waits for it and decodes a 2xx body into out when out
// is non-nil.
func (c *Client) Do(ctx context.Context, route ratelimit.CompiledRoute, body, out interface{}, opts ...RequestOption) error {
	resp, err := c.Submit(ctx, route, body, opts...).Wait(ctx)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", route, err)
	}
	return nil
}

func (c *Client) checkGuild(route ratelimit.CompiledRoute) error {
	if c.guilds == nil {
		return nil
	}
	raw, ok := route.Param("guild_id")
	if !ok {
		return nil
	}
	id, err := models.ParseSnowflake(raw)
	if err != nil {
		return nil
	}
	if c.guilds.Unavailable(id) {
		return fmt.Errorf("%s: %w", route, ErrGuildUnavailable)
	}
	return nil
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return data, nil
}

// Execute performs one HTTP call for the dispatcher. It implements
// ratelimit.Executor.
func (c *Client) Execute(ctx context.Context, r *ratelimit.Request) (*ratelimit.Response, error) {
	var rawBody interface{}
	if len(r.Body) > 0 {
		rawBody = r.Body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, r.Route.Route.Method, c.baseURL+r.Route.Path, rawBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", c.authorization)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if rawBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().
			Err(err).
			Str("route", r.Route.String()).
			Str("class", http.ErrorTypeName(http.ClassifyError(err))).
			Msg("API call failed")
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		c.logger.Debug().
			Str("route", r.Route.String()).
			Str("bucket", resp.Header.Get(ratelimit.HeaderBucket)).
			Str("retry_after", resp.Header.Get(ratelimit.HeaderRetryAfter)).
			Str("remaining", resp.Header.Get(ratelimit.HeaderRemaining)).
			Str("scope", resp.Header.Get(ratelimit.HeaderScope)).
			Msg("throttled")
	}

	return &ratelimit.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
