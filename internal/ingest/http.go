package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single upstream request
	DefaultTimeout = 20 * time.Second
	// DefaultRPS is the per-host request budget
	DefaultRPS = 2.0

	maxErrorBody = 512
)

// HTTPDoer is a shared HTTP client that rate-limits requests per upstream host.
type HTTPDoer struct {
	client *http.Client
	rps    float64
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPDoer creates a client with the given request timeout and per-host rate.
func NewHTTPDoer(timeout time.Duration, rps float64) *HTTPDoer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if rps <= 0 {
		rps = DefaultRPS
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &HTTPDoer{
		client:   &http.Client{Timeout: timeout},
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (d *HTTPDoer) limiter(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.rps), d.burst)
		d.limiters[host] = l
	}
	return l
}

// Do waits for the host's rate budget and sends req.
func (d *HTTPDoer) Do(req *http.Request) (*http.Response, error) {
	if err := d.limiter(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return d.client.Do(req)
}

// getJSON issues a GET and decodes a 200 response into out.
func (d *HTTPDoer) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	return d.doJSON(req, headers, out)
}

// postJSON encodes body, POSTs it and decodes a 200 response into out.
func (d *HTTPDoer) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.doJSON(req, headers, out)
}

func (d *HTTPDoer) doJSON(req *http.Request, headers map[string]string, out any) error {
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := d.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	return nil
}
