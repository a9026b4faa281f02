package realitygate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ProbeError is a failed HEAD request. Unwrap exposes the transport error,
// so IsTimeout sees through it.
type ProbeError struct {
	URL string
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// HTTPProber probes deployment URLs with HEAD requests. Requests to the
// same host share a token bucket so a venture with many artifacts cannot
// hammer one deployment.
type HTTPProber struct {
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// ProberOption configures an HTTPProber.
type ProberOption func(*HTTPProber)

// WithHTTPClient replaces the underlying client. Redirect handling is
// forced off so 3xx responses are reported as-is.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *HTTPProber) {
		clone := *c
		clone.CheckRedirect = noRedirect
		p.client = &clone
	}
}

// WithHostRateLimit sets the per-host probe rate. A non-positive rate disables limiting.
func WithHostRateLimit(perSecond float64, burst int) ProberOption {
	return func(p *HTTPProber) {
		if perSecond <= 0 {
			p.rps = rate.Inf
		} else {
			p.rps = rate.Limit(perSecond)
		}
		if burst > 0 {
			p.burst = burst
		}
	}
}

// NewHTTPProber creates a prober with a default client and 5 probes/s per host.
func NewHTTPProber(opts ...ProberOption) *HTTPProber {
	p := &HTTPProber{
		client:   &http.Client{CheckRedirect: noRedirect},
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(5),
		burst:    5,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Head issues one HEAD request bounded by timeout and returns the status code.
func (p *HTTPProber) Head(ctx context.Context, rawURL string, timeout time.Duration) (int, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0, &ProbeError{URL: rawURL, Err: fmt.Errorf("invalid url")}
	}

	// The token is taken on the caller's context. The probe timeout only
	// bounds the request itself, so local throttling never reads as an
	// unreachable host.
	if err := p.limiter(u.Host).Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait for %s: %w", u.Host, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "ventureflow-reality-gate/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &ProbeError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func (p *HTTPProber) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[host] = l
	}
	return l
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}
