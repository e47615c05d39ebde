package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Numbers decoded into interface values stay json.Number so large ids keep
// every digit.
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

const maxBodyBytes = 1 << 20

// Response is a fully read backend reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPError is a non-2xx reply from the backend.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Unwrap classifies the status: 4xx is a rejection, anything else a transport failure.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return domainErrors.ErrRequestRejected
	}
	return domainErrors.ErrTransport
}

type ctxKey struct{}

// WithAccessToken attaches the customer's bearer credential to outbound calls made with ctx.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

func AccessToken(ctx context.Context) string {
	token, _ := ctx.Value(ctxKey{}).(string)
	return token
}

type Option func(*Client)

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client calls the ticketing backend. Every host gets its own circuit breaker;
// a call refused by an open breaker never reaches the network and surfaces as
// ErrNotStarted.
type Client struct {
	http    *http.Client
	cfg     config.APIClientConfig
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Response]
}

func New(cfg config.APIClientConfig, logger zerolog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cfg:      cfg,
		logger:   observability.Component(logger, "apiclient"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Response]),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[*Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}

	minRequests := c.cfg.BreakerMinRequests
	ratio := c.cfg.BreakerFailureRatio
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        host,
		MaxRequests: c.cfg.BreakerMaxRequests,
		Interval:    c.cfg.BreakerInterval,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		// A rejected request says nothing about the backend's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrRequestRejected)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			if c.metrics != nil {
				c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	c.breakers[host] = cb
	return cb
}

// Do sends a request. body, when non-nil, is JSON encoded.
func (c *Client) Do(ctx context.Context, method, rawURL string, body any) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", domainErrors.ErrConfiguration, rawURL)
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	cb := c.breaker(u.Host)
	resp, err := cb.Execute(func() (*Response, error) {
		return c.send(ctx, method, u.String(), payload)
	})
	c.observe(u.Host, err)

	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %s: %v", domainErrors.ErrNotStarted, u.Host, err)
	default:
		return resp, err
	}
}

func (c *Client) observe(host string, err error) {
	if c.metrics == nil {
		return
	}
	result := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
	case err != nil:
		result = "failure"
	}
	c.metrics.CircuitBreakerRequests.WithLabelValues(host, result).Inc()
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte) (*Response, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := AccessToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", domainErrors.ErrTransport, method, target, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domainErrors.ErrTransport, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", httpResp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend call")

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}
	if httpResp.StatusCode == http.StatusServiceUnavailable && httpResp.Header.Get("Retry-After") != "" {
		return resp, fmt.Errorf("%w: %s asked to retry after %s", domainErrors.ErrNotStarted, target, httpResp.Header.Get("Retry-After"))
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &HTTPError{Method: method, URL: target, StatusCode: httpResp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

// GetJSON issues a GET with query params and decodes the reply into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	target, err := withQuery(rawURL, query)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return decode(resp.Body, out)
}

// PostJSON posts body as JSON and decodes the reply into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, out any) error {
	resp, err := c.Do(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(resp.Body, out)
}

// GetString fetches a value the backend returns either as a JSON string or as plain text.
func (c *Client) GetString(ctx context.Context, rawURL string, query url.Values) (string, error) {
	target, err := withQuery(rawURL, query)
	if err != nil {
		return "", err
	}
	resp, err := c.Do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty body", domainErrors.ErrMalformedResponse)
	}
	if body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return "", fmt.Errorf("%w: %v", domainErrors.ErrMalformedResponse, err)
		}
		return s, nil
	}
	if body[0] == '{' || body[0] == '[' {
		return "", fmt.Errorf("%w: expected a string", domainErrors.ErrMalformedResponse)
	}
	return string(body), nil
}

func withQuery(rawURL string, query url.Values) (string, error) {
	if len(query) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q", domainErrors.ErrConfiguration, rawURL)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrMalformedResponse, err)
	}
	return nil
}
