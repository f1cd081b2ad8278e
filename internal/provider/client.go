package provider

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/storyloom/storyloom/internal/backoff"
	"github.com/storyloom/storyloom/internal/observability"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Params are per-request sampling overrides. Zero values fall back to the
// client's configured defaults.
type Params struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Options configures a Client.
type Options struct {
	// Provider is the provider id used in errors, logs, and metrics.
	Provider string

	APIKey  string
	BaseURL string

	// Sampling defaults applied when Params leaves them zero.
	MaxTokens   int
	Temperature float32
	TopP        float32

	// MaxRetries bounds the attempt loop. Default 5.
	MaxRetries int

	// RetryDelay and GrowthFactor parameterize the backoff policy.
	RetryDelay   time.Duration
	GrowthFactor float64

	// AttemptTimeout bounds each request attempt. Default 60s.
	AttemptTimeout time.Duration

	// MinInterval is the minimum spacing between request starts from
	// this client instance. Default 1s.
	MinInterval time.Duration

	// BreakerThreshold consecutive exhausted calls open the breaker for
	// BreakerTimeout. Defaults 5 and 60s.
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Clock is injectable for tests. Defaults to the system clock.
	Clock backoff.Clock

	// Rand supplies jitter randomness in [0,1). Defaults to math/rand.
	Rand func() float64

	// HTTPClient overrides the transport, primarily for tests.
	HTTPClient *http.Client

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Client wraps one logical request to a chat-completion provider with a
// circuit breaker, a rate limiter, and bounded retries. All mutable state
// is per-instance and guarded by a single mutex; there is no shared global
// state between clients.
type Client struct {
	name    string
	api     *openai.Client
	capture *retryAfterTransport

	maxTokens   int
	temperature float32
	topP        float32

	maxRetries       int
	policy           backoff.Policy
	attemptTimeout   time.Duration
	minInterval      time.Duration
	breakerThreshold int
	breakerTimeout   time.Duration

	clock   backoff.Clock
	random  func() float64
	logger  *observability.Logger
	metrics *observability.Metrics

	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
	lastRequest         time.Time
}

// NewClient creates a resilient client for one provider. An empty API key
// is allowed for delayed configuration; Chat fails with a ConfigError until
// a key (or a test transport) is supplied.
func NewClient(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.GrowthFactor <= 0 {
		opts.GrowthFactor = 1.5
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 60 * time.Second
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 60 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = backoff.SystemClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64 // #nosec G404 -- jitter does not require cryptographic randomness
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4000
	}

	c := &Client{
		name:        opts.Provider,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		topP:        opts.TopP,
		maxRetries:  opts.MaxRetries,
		policy: backoff.Policy{
			Initial:    opts.RetryDelay,
			Growth:     opts.GrowthFactor,
			JitterLow:  0.5,
			JitterHigh: 1.5,
		},
		attemptTimeout:   opts.AttemptTimeout,
		minInterval:      opts.MinInterval,
		breakerThreshold: opts.BreakerThreshold,
		breakerTimeout:   opts.BreakerTimeout,
		clock:            opts.Clock,
		random:           opts.Rand,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
	}

	if opts.APIKey == "" && opts.HTTPClient == nil {
		return c
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c.capture = &retryAfterTransport{base: httpClient.Transport}
	wrapped := *httpClient
	wrapped.Transport = c.capture
	cfg.HTTPClient = &wrapped
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Name returns the provider id this client serves.
func (c *Client) Name() string { return c.name }

// Chat sends one logical chat-completion request and returns the first
// choice's text. It fails fast with ErrCircuitOpen while the breaker is
// open, spaces request starts by the configured minimum interval, and
// retries transient failures with exponential backoff and jitter.
// Cancellation of ctx aborts waits promptly and surfaces ctx.Err().
func (c *Client) Chat(ctx context.Context, model string, messages []Message, params Params) (string, error) {
	if c.api == nil {
		return "", &ConfigError{Provider: c.name, Reason: "API key not configured"}
	}
	if err := c.checkBreaker(); err != nil {
		return "", err
	}

	ctx = observability.WithRequestID(ctx, uuid.NewString())
	req := c.buildRequest(model, messages, params)
	start := c.clock.Now()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return "", err
		}

		c.logger.Debug(ctx, "sending chat completion",
			"provider", c.name, "model", model, "attempt", attempt+1, "max_attempts", c.maxRetries)

		text, err := c.send(ctx, req)
		if err == nil {
			c.recordSuccess()
			c.observe(ctx, model, "success", start)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		reqErr := c.asRequestError(model, err)
		if !reqErr.Reason.IsRetryable() {
			c.observe(ctx, model, "error", start)
			return "", reqErr
		}
		lastErr = reqErr
		if c.metrics != nil {
			c.metrics.RetryCounter.WithLabelValues(c.name, string(reqErr.Reason)).Inc()
		}
		if attempt == c.maxRetries-1 {
			break
		}

		delay := c.policy.DelayWithRand(attempt, c.random())
		if reqErr.Reason == ReasonRateLimit {
			if hint, ok := c.capture.take(); ok {
				delay = hint
			}
		}
		c.logger.Warn(ctx, "chat completion failed, retrying",
			"provider", c.name, "model", model, "reason", string(reqErr.Reason),
			"attempt", attempt+1, "backoff", delay.String())
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	c.recordFailure(ctx)
	c.observe(ctx, model, "error", start)
	return "", &ExhaustedError{Provider: c.name, Attempts: c.maxRetries, Cause: lastErr}
}

func (c *Client) buildRequest(model string, messages []Message, params Params) openai.ChatCompletionRequest {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		converted[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := params.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	topP := params.TopP
	if topP == 0 {
		topP = c.topP
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    converted,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}
}

var errEmptyResponse = errors.New("response contained no choices")

// send performs a single attempt with its own timeout. Timeouts here are
// per-attempt; callers needing an end-to-end deadline put one on ctx.
func (c *Client) send(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(attemptCtx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &RequestError{
			Reason:   ReasonServerError,
			Provider: c.name,
			Model:    req.Model,
			Cause:    errEmptyResponse,
		}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) asRequestError(model string, err error) *RequestError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return &RequestError{
		Reason:   Classify(err),
		Provider: c.name,
		Model:    model,
		Status:   statusOf(err),
		Cause:    err,
	}
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// checkBreaker is the sole fast-fail path: while the breaker is open no
// network call is attempted. Once the open window has elapsed the failure
// count is reset and traffic is allowed again.
func (c *Client) checkBreaker() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if !c.openUntil.IsZero() && now.Before(c.openUntil) {
		return ErrCircuitOpen
	}
	if c.consecutiveFailures >= c.breakerThreshold {
		c.consecutiveFailures = 0
		c.openUntil = time.Time{}
	}
	return nil
}

// waitTurn enforces the minimum spacing between request starts. The next
// slot is reserved under the lock so concurrent callers cannot start
// closer together than minInterval.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := c.clock.Now()
	prev := c.lastRequest
	var wait time.Duration
	var next time.Time
	if c.lastRequest.IsZero() || !c.lastRequest.Add(c.minInterval).After(now) {
		c.lastRequest = now
	} else {
		next = c.lastRequest.Add(c.minInterval)
		wait = next.Sub(now)
		c.lastRequest = next
	}
	c.mu.Unlock()

	if wait > 0 {
		c.logger.Debug(ctx, "rate limit wait", "provider", c.name, "wait", wait.String())
		if err := c.clock.Sleep(ctx, wait); err != nil {
			// The request never started; release the slot unless a later
			// caller has already reserved past it.
			c.mu.Lock()
			if c.lastRequest.Equal(next) {
				c.lastRequest = prev
			}
			c.mu.Unlock()
			return err
		}
		return nil
	}
	return ctx.Err()
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures = 0
	c.openUntil = time.Time{}
}

// recordFailure counts one exhausted call; crossing the threshold opens
// the breaker for the configured cool-down.
func (c *Client) recordFailure(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures++
	if c.consecutiveFailures >= c.breakerThreshold {
		c.openUntil = c.clock.Now().Add(c.breakerTimeout)
		if c.metrics != nil {
			c.metrics.BreakerOpenCounter.WithLabelValues(c.name).Inc()
		}
		c.logger.Warn(ctx, "circuit breaker opened",
			"provider", c.name, "cooldown", c.breakerTimeout.String())
	}
}

func (c *Client) observe(ctx context.Context, model, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RequestCounter.WithLabelValues(c.name, model, status).Inc()
	c.metrics.RequestDuration.WithLabelValues(c.name, model).Observe(c.clock.Now().Sub(start).Seconds())
}

// retryAfterTransport records the Retry-After header of 429 responses so
// the retry loop can honor the server's hint. The SDK does not expose
// response headers on its errors.
type retryAfterTransport struct {
	base http.RoundTripper

	mu   sync.Mutex
	hint time.Duration
	set  bool
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			t.mu.Lock()
			t.hint = d
			t.set = true
			t.mu.Unlock()
		}
	}
	return resp, err
}

// take returns and clears the most recent Retry-After hint.
func (t *retryAfterTransport) take() (time.Duration, bool) {
	if t == nil {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set {
		return 0, false
	}
	t.set = false
	return t.hint, true
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}
