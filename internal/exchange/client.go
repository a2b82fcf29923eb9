// Package exchange adapts each upstream venue to market.Client: paginated
// candle and funding-rate history plus market listing.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"candlecache/internal/pkg/circuit"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

var (
	// ErrUnsupportedPriceType is returned when an exchange cannot serve the
	// requested price reference.
	ErrUnsupportedPriceType = errors.New("price type not supported by exchange")
	// ErrUnsupportedInterval is returned when no native interval divides the
	// requested one.
	ErrUnsupportedInterval = errors.New("interval not supported by exchange")
	// ErrNoFundingRate is returned by exchanges that do not publish a funding
	// history directly.
	ErrNoFundingRate = errors.New("funding rate not published by exchange")
)

// HTTPError is a non-2xx reply from an exchange REST API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// APIError is an application-level rejection inside a 2xx reply.
type APIError struct {
	Exchange string
	Code     string
	Msg      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %s: %s", e.Exchange, e.Code, e.Msg)
}

// Options configures one exchange client.
type Options struct {
	BaseURL          string
	Timeout          time.Duration
	RatePerMinute    int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	HTTPClient       *http.Client
	OnBreakerChange  func(name string, from, to circuit.State)
}

func (o Options) withDefaults(defaultBase string) Options {
	out := o
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.BaseURL == "" {
		out.BaseURL = defaultBase
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = time.Minute
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: out.Timeout}
	}
	return out
}

// restClient is the transport every adapter shares: a request budget, a
// circuit breaker and JSON decoding.
type restClient struct {
	name    string
	base    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuit.CircuitBreaker
	nowFn   func() time.Time
}

func newRESTClient(name, defaultBase string, opts Options) *restClient {
	final := opts.withDefaults(defaultBase)
	limiter := rate.NewLimiter(rate.Inf, 1)
	if final.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(final.RatePerMinute)/60.0), 1)
	}
	breaker := circuit.NewCircuitBreaker(name, final.BreakerThreshold, final.BreakerCooldown)
	if final.OnBreakerChange != nil {
		breaker.SetStateChangeHandler(final.OnBreakerChange)
	}
	return &restClient{
		name:    name,
		base:    final.BaseURL,
		http:    final.HTTPClient,
		limiter: limiter,
		breaker: breaker,
		nowFn:   time.Now,
	}
}

func (c *restClient) now() time.Time {
	if c.nowFn == nil {
		return time.Now().UTC()
	}
	return c.nowFn().UTC()
}

// call runs fn under the rate limit and the breaker. Only transport failures
// and 5xx/429 replies count against the breaker.
func (c *restClient) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if !c.breaker.Allow() {
		return fmt.Errorf("%s: %w", c.name, circuit.ErrOpen)
	}
	err := fn(ctx)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case transient(err):
		c.breaker.RecordFailure()
	default:
		c.breaker.RecordSuccess()
	}
	return err
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500 || he.Status == http.StatusTooManyRequests
	}
	return true
}

// getJSON issues a GET against base+path and returns the decoded body.
func (c *restClient) getJSON(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	var out gjson.Result
	err := c.call(ctx, func(ctx context.Context) error {
		u := c.base + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			return &HTTPError{Status: resp.StatusCode, Body: truncate(string(body), 256)}
		}
		if !gjson.ValidBytes(body) {
			return fmt.Errorf("%s %s: invalid json body", c.name, path)
		}
		out = gjson.ParseBytes(body)
		return nil
	})
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
