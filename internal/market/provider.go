package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	cb "github.com/sony/gobreaker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Provider supplies the market context for a symbol. Fetch failures are the
// caller's to handle; the engine falls back to Neutral and carries on.
type Provider interface {
	Context(ctx context.Context, symbol string) (*Context, error)
}

// ProviderConfig holds the guarded HTTP provider tunables.
type ProviderConfig struct {
	// BaseURL of the upstream context feed; empty disables the provider.
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"5s" validate:"gt=0"`
	CacheTTL       time.Duration `yaml:"cache_ttl" default:"15s" validate:"gt=0"`
	// RPS and Burst bound the request rate against the upstream host.
	RPS   float64 `yaml:"rps" default:"4" validate:"gt=0"`
	Burst int     `yaml:"burst" default:"8" validate:"gte=1"`
}

// DefaultProviderConfig returns the stock provider tunables.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		RequestTimeout: 5 * time.Second,
		CacheTTL:       15 * time.Second,
		RPS:            4,
		Burst:          8,
	}
}

// HTTPProvider fetches market context over HTTP behind a circuit breaker,
// a rate limiter, and the warm cache.
type HTTPProvider struct {
	cfg     ProviderConfig
	client  *http.Client
	breaker *cb.CircuitBreaker
	limiter *rate.Limiter
	cache   ContextCache
	logger  zerolog.Logger
}

// NewHTTPProvider wires the guarded provider. A nil cache falls back to the
// in-process cache.
func NewHTTPProvider(cfg *ProviderConfig, cache ContextCache) *HTTPProvider {
	if cfg == nil {
		c := DefaultProviderConfig()
		cfg = &c
	}
	if cache == nil {
		cache = NewMemoryCache()
	}

	logger := log.With().Str("component", "market_provider").Logger()

	st := cb.Settings{Name: "market-context"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("market provider breaker state change")
	}

	return &HTTPProvider{
		cfg:     *cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		breaker: cb.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cache:   cache,
		logger:  logger,
	}
}

// Context returns the market context for symbol, serving from the warm
// cache when possible. Upstream calls wait for rate-limit headroom and run
// inside the breaker.
func (p *HTTPProvider) Context(ctx context.Context, symbol string) (*Context, error) {
	if mc, ok := p.cache.Get(ctx, symbol); ok {
		return mc, nil
	}
	if p.cfg.BaseURL == "" {
		return nil, fmt.Errorf("market provider disabled: no base url configured")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	out, err := p.breaker.Execute(func() (any, error) {
		return p.fetch(ctx, symbol)
	})
	if err != nil {
		return nil, fmt.Errorf("market context %s: %w", symbol, err)
	}
	mc := out.(*Context)
	if err := p.cache.Set(ctx, symbol, mc, p.cfg.CacheTTL); err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to warm market cache")
	}
	return mc, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, symbol string) (*Context, error) {
	endpoint := fmt.Sprintf("%s/v1/context/%s",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var mc Context
	if err := json.NewDecoder(resp.Body).Decode(&mc); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if mc.Symbol == "" {
		mc.Symbol = symbol
	}
	mc.FetchedAt = time.Now()
	return &mc, nil
}
