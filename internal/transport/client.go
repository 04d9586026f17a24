package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"easyswitch/internal/logger"
	"easyswitch/internal/payment"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts     = 3
	defaultBackoff         = 200 * time.Millisecond
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// Config describes the outbound client of one adapter instance.
type Config struct {
	Provider payment.Provider
	BaseURL  string
	Timeout  time.Duration
	Headers  http.Header
	// HTTPClient is used as-is when set; Timeout then only applies if the
	// client has none of its own.
	HTTPClient *http.Client
	Settings   payment.TransportSettings
	Logger     *zap.Logger
	Debug      bool
}

// Client is safe for concurrent use. Every adapter owns exactly one.
type Client struct {
	provider    payment.Provider
	baseURL     string
	headers     http.Header
	http        *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger
	debug       bool
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = payment.DefaultTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	} else if hc.Timeout == 0 {
		cp := *hc
		cp.Timeout = timeout
		hc = &cp
	}

	log := cfg.Logger
	if log == nil {
		log = logger.L()
	}

	s := cfg.Settings
	var limiter *rate.Limiter
	if s.RequestsPerSecond > 0 {
		burst := s.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.RequestsPerSecond), burst)
	}

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	failures := s.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := s.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(cfg.Provider),
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	headers := make(http.Header)
	for k, vs := range cfg.Headers {
		headers[k] = append([]string(nil), vs...)
	}

	return &Client{
		provider:    cfg.Provider,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		headers:     headers,
		http:        hc,
		limiter:     limiter,
		breaker:     breaker,
		maxAttempts: attempts,
		backoff:     backoff,
		log:         log,
		debug:       cfg.Debug,
	}
}

// countsAsSuccess keeps provider-declared failures (4xx) from tripping the
// breaker: only the transport or the provider's servers being down do.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var e *payment.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case payment.KindNetwork:
		return false
	case payment.KindRateLimit:
		return true
	}
	return e.StatusCode < http.StatusInternalServerError
}

// Request is one outbound call. Path is joined to the base URL unless it is
// already absolute.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	// JSON is marshalled as the body. Form takes precedence when set.
	JSON any
	Form url.Values
	// Idempotent allows network failures to be retried. Requests with side
	// effects on the provider must leave it false.
	Idempotent bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Data       payment.Fields
}

// Do sends req and maps the outcome into the payment error taxonomy:
// 429 is a rate-limit error, any other non-2xx an API error and transport
// failures a network error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	contentType := ""
	switch {
	case req.Form != nil:
		body = []byte(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, &payment.Error{
				Kind:     payment.KindInvalidRequest,
				Message:  "failed to encode request body",
				Code:     string(payment.KindInvalidRequest),
				Provider: c.provider,
				Err:      err,
			}
		}
		body = b
		contentType = "application/json"
	}

	target := c.url(req.Path, req.Query)
	log := c.log.With(zap.String("method", req.Method), zap.String("url", target))

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.backoff * time.Duration(1<<(attempt-2))
			log.Warn("retrying provider request", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, payment.NewNetworkError(c.provider, ctx.Err())
			case <-time.After(wait):
			}
		}

		resp, err := c.attempt(ctx, log, req, target, contentType, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !c.shouldRetry(req, err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) shouldRetry(req Request, err error) bool {
	switch payment.KindOf(err) {
	case payment.KindRateLimit:
		// The provider rejected the call before acting on it.
		return true
	case payment.KindNetwork:
		return req.Idempotent
	}
	return false
}

func (c *Client) attempt(ctx context.Context, log *zap.Logger, req Request, target, contentType string, body []byte) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, payment.NewNetworkError(c.provider, err)
		}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, log, req, target, contentType, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, payment.NewNetworkError(c.provider, err)
		}
		return nil, err
	}
	return out.(*Response), nil
}

func (c *Client) roundTrip(ctx context.Context, log *zap.Logger, req Request, target, contentType string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, &payment.Error{
			Kind:     payment.KindInvalidRequest,
			Message:  "failed to build request",
			Code:     string(payment.KindInvalidRequest),
			Provider: c.provider,
			Err:      err,
		}
	}
	for k, vs := range c.headers {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Headers {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	if c.debug {
		log.Debug("provider request", zap.Any("headers", MaskHeaders(httpReq.Header)), zap.ByteString("body", body))
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Error("provider request failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, payment.NewNetworkError(c.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("failed to read provider response", zap.Error(err))
		return nil, payment.NewNetworkError(c.provider, err)
	}

	log.Info("provider response", zap.Int("status", resp.StatusCode), zap.Duration("duration", time.Since(start)))
	if c.debug {
		log.Debug("provider response body", zap.ByteString("body", raw))
	}

	data, decodeErr := decodeBody(resp.Header.Get("Content-Type"), raw)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Error("provider rate limit reached")
		return nil, payment.NewAPIError(payment.KindRateLimit, c.provider, resp.StatusCode, data, "rate limit reached")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		log.Error("provider returned an error", zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return nil, payment.NewAPIError(payment.KindAPI, c.provider, resp.StatusCode, data, errorMessage(resp.StatusCode, data))
	case decodeErr != nil:
		log.Error("invalid JSON from provider", zap.Error(decodeErr))
		apiErr := payment.NewAPIError(payment.KindAPI, c.provider, resp.StatusCode, data, "invalid JSON response")
		apiErr.Err = decodeErr
		return nil, apiErr
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw, Data: data}, nil
}

func (c *Client) url(path string, query url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

// decodeBody returns the body as fields. A body that is not a JSON object
// is kept under "raw_response"; the error is only set when the provider
// claimed JSON and sent something else.
func decodeBody(contentType string, raw []byte) (payment.Fields, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return payment.Fields{}, nil
	}
	data, err := payment.DecodeFields(raw)
	if err == nil {
		return data, nil
	}
	fallback := payment.Fields{"raw_response": string(raw)}
	if strings.Contains(contentType, "json") {
		return fallback, err
	}
	return fallback, nil
}

func errorMessage(status int, data payment.Fields) string {
	for _, key := range []string{"message", "error_description", "error", "detail"} {
		if msg := data.String(key); msg != "" {
			return fmt.Sprintf("API error %d: %s", status, msg)
		}
	}
	return fmt.Sprintf("API error %d", status)
}

var sensitiveHeaderParts = []string{"authorization", "secret", "token", "signature", "key", "password"}

// MaskHeaders returns a copy of h safe to log.
func MaskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		v := strings.Join(vs, ",")
		lower := strings.ToLower(k)
		for _, part := range sensitiveHeaderParts {
			if strings.Contains(lower, part) {
				v = "***"
				break
			}
		}
		out[k] = v
	}
	return out
}

// ForAdapter builds the client an adapter uses from its shared base:
// endpoint, timeout, default headers, logger and tuning all come from the
// adapter's configuration and options.
func ForAdapter(b *payment.Base) *Client {
	opts := b.Options()
	return New(Config{
		Provider:   b.Provider(),
		BaseURL:    b.BaseURL(),
		Timeout:    b.Config().EffectiveTimeout(),
		Headers:    b.DefaultHeaders(),
		HTTPClient: opts.HTTPClient,
		Settings:   opts.Transport,
		Logger:     b.Logger(),
		Debug:      opts.Debug(),
	})
}
