package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cineolabs/cineo-backend/internal/platform/logger"
)

// Client is the shared HTTP plumbing for the real generation adapters. Each
// adapter owns one Client so upstreams are rate-limited independently.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

type ClientOptions struct {
	APIKey  string
	BaseURL string
	// RatePerSecond caps outbound calls; zero means a conservative 1/s.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
	Logger        *logger.Logger
}

func NewClient(opts ClientOptions) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("missing base URL")
	}
	rps := opts.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 150 * time.Second}
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: base,
		httpc:   httpc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     lg,
	}, nil
}

// PostJSON sends a JSON body and decodes a JSON response, classifying
// failures into the transient/permanent taxonomy.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return Transient(err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Permanent(fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Transient(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	upstreamErr := fmt.Errorf("upstream %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Transient(upstreamErr)
	}
	return Permanent(upstreamErr)
}
