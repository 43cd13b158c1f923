package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stockadvisor/internal/cache"
)

const cacheKeyPrefix = "stockadvisor:sources:v1:"

// Bundle is the per-source enable map plus whatever payload the aggregator
// returned for each enabled source. Payload shapes are opaque to the pipeline.
type Bundle struct {
	Enabled  map[string]bool            `json:"enabled"`
	Payloads map[string]json.RawMessage `json:"payloads"`
}

// EnabledNames returns enabled source names in sorted order.
func (b Bundle) EnabledNames() []string {
	out := make([]string, 0, len(b.Enabled))
	for name, on := range b.Enabled {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Client fetches aggregated market and sentiment payloads.
type Client struct {
	BaseURL  string
	APIKey   string
	HTTP     *http.Client
	Cache    cache.Store
	CacheTTL time.Duration
	Limiter  *rate.Limiter
	Logger   *zap.Logger

	// MaxElapsedTime bounds retries for one source.
	MaxElapsedTime time.Duration

	newBackOff func() backoff.BackOff
}

func NewClient(baseURL, apiKey string, timeout time.Duration, store cache.Store, cacheTTL time.Duration, ratePerSecond float64, maxElapsed time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1)
	}
	return &Client{
		BaseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:         strings.TrimSpace(apiKey),
		HTTP:           &http.Client{Timeout: timeout},
		Cache:          store,
		CacheTTL:       cacheTTL,
		Limiter:        limiter,
		Logger:         logger,
		MaxElapsedTime: maxElapsed,
	}
}

// ResolveFlags overlays a strategy's own source flags on the configured defaults.
func ResolveFlags(defaults map[string]bool, strategyFlags []byte) map[string]bool {
	out := make(map[string]bool, len(defaults))
	for name, on := range defaults {
		out[normalizeName(name)] = on
	}
	if len(strategyFlags) == 0 {
		return out
	}
	var overrides map[string]bool
	if err := json.Unmarshal(strategyFlags, &overrides); err != nil {
		return out
	}
	for name, on := range overrides {
		if n := normalizeName(name); n != "" {
			out[n] = on
		}
	}
	return out
}

// Fetch builds the bundle for the given flags. A source that cannot be fetched
// degrades to an "unavailable" payload; the run continues with what it has.
func (c *Client) Fetch(ctx context.Context, flags map[string]bool) Bundle {
	bundle := newBundle(flags)
	for _, name := range bundle.EnabledNames() {
		payload, err := c.fetchSource(ctx, name)
		if err != nil {
			if c != nil && c.Logger != nil {
				c.Logger.Warn("aggregator source unavailable", zap.String("source", name), zap.Error(err))
			}
			payload = statusPayload(name, "unavailable", err.Error())
		}
		bundle.Payloads[name] = payload
	}
	return bundle
}

// Placeholder builds a bundle without contacting the aggregator.
func Placeholder(flags map[string]bool) Bundle {
	bundle := newBundle(flags)
	for _, name := range bundle.EnabledNames() {
		bundle.Payloads[name] = statusPayload(name, "placeholder", "")
	}
	return bundle
}

func newBundle(flags map[string]bool) Bundle {
	bundle := Bundle{
		Enabled:  make(map[string]bool, len(flags)),
		Payloads: map[string]json.RawMessage{},
	}
	for name, on := range flags {
		bundle.Enabled[name] = on
	}
	return bundle
}

func (c *Client) fetchSource(ctx context.Context, name string) (json.RawMessage, error) {
	if c == nil || c.BaseURL == "" {
		return statusPayload(name, "placeholder", ""), nil
	}
	key := cacheKeyPrefix + name
	if c.Cache != nil {
		if raw, ok, err := c.Cache.Get(ctx, key); err == nil && ok && json.Valid(raw) {
			return json.RawMessage(raw), nil
		}
	}

	var payload []byte
	op := func() error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}
		b, err := c.get(ctx, name)
		if err != nil {
			return err
		}
		payload = b
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.backOff(), ctx)); err != nil {
		return nil, err
	}

	if c.Cache != nil {
		if err := c.Cache.Set(ctx, key, payload, c.CacheTTL); err != nil && c.Logger != nil {
			c.Logger.Debug("aggregator cache set failed", zap.String("source", name), zap.Error(err))
		}
	}
	return json.RawMessage(payload), nil
}

func (c *Client) get(ctx context.Context, name string) ([]byte, error) {
	endpoint := c.BaseURL + "/api/v1/aggregate/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("aggregator %s http %d", name, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backoff.Permanent(fmt.Errorf("aggregator %s http %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if !json.Valid(body) {
		return nil, backoff.Permanent(errors.New("aggregator " + name + " returned invalid json"))
	}
	return body, nil
}

func (c *Client) backOff() backoff.BackOff {
	if c.newBackOff != nil {
		return c.newBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 300 * time.Millisecond
	if c.MaxElapsedTime > 0 {
		b.MaxElapsedTime = c.MaxElapsedTime
	}
	return b
}

func statusPayload(name, status, detail string) json.RawMessage {
	m := map[string]string{"source": name, "status": status}
	if detail != "" {
		m["error"] = detail
	}
	raw, _ := json.Marshal(m)
	return raw
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
