package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, ok := c.Get(ctx, "BTCUSD"); ok {
		t.Fatal("empty cache returned a hit")
	}

	mc := &Context{
		Symbol:           "BTCUSD",
		CurrentPrice:     50000,
		AvailableCapital: decimal.NewFromInt(1000),
		Volatility:       0.03,
		TrendStrength:    0.7,
		Regime:           0.4,
		FetchedAt:        time.Now(),
	}
	if err := c.Set(ctx, "BTCUSD", mc, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := c.Get(ctx, "BTCUSD")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.CurrentPrice != 50000 || got.Volatility != 0.03 {
		t.Errorf("cached context mangled: %+v", got)
	}

	stats := c.Stats()
	if stats.TotalHits != 1 || stats.TotalMisses != 1 || stats.TotalSets != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss / 1 set", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", stats.HitRate)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "ETHUSD", Neutral("ETHUSD"), -time.Second)
	if _, ok := c.Get(ctx, "ETHUSD"); ok {
		t.Fatal("expired entry served")
	}
}

func TestProviderServesFromUpstreamThenCache(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		if r.URL.Path != "/v1/context/SOLUSD" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Context{
			Symbol:        "SOLUSD",
			CurrentPrice:  150,
			Volatility:    0.04,
			TrendStrength: 0.6,
			Regime:        0.2,
		})
	}))
	defer srv.Close()

	cfg := DefaultProviderConfig()
	cfg.BaseURL = srv.URL
	p := NewHTTPProvider(&cfg, NewMemoryCache())

	ctx := context.Background()
	first, err := p.Context(ctx, "SOLUSD")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.CurrentPrice != 150 {
		t.Errorf("price = %v, want 150", first.CurrentPrice)
	}

	second, err := p.Context(ctx, "SOLUSD")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if second.CurrentPrice != 150 {
		t.Errorf("cached price = %v", second.CurrentPrice)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("upstream called %d times, want 1 (second hit from cache)", n)
	}
}

func TestProviderBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultProviderConfig()
	cfg.BaseURL = srv.URL
	cfg.CacheTTL = time.Millisecond
	p := NewHTTPProvider(&cfg, NewMemoryCache())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := p.Context(ctx, "DOWN"); err == nil {
			t.Fatalf("call %d unexpectedly succeeded", i)
		}
	}
	// Breaker is open now; the failure must come back without an upstream hit.
	if _, err := p.Context(ctx, "DOWN"); err == nil {
		t.Fatal("open breaker still let the call through")
	}
}

func TestProviderWithoutBaseURL(t *testing.T) {
	p := NewHTTPProvider(nil, NewMemoryCache())
	if _, err := p.Context(context.Background(), "BTCUSD"); err == nil {
		t.Fatal("expected error when no base url is configured")
	}
}

func TestNeutralDefaults(t *testing.T) {
	mc := Neutral("XRPUSD")
	if mc.Symbol != "XRPUSD" {
		t.Errorf("symbol = %q", mc.Symbol)
	}
	if mc.Volatility <= 0 || mc.TrendStrength != 0.5 || mc.Regime != 0 {
		t.Errorf("neutral defaults off: %+v", mc)
	}
	if !mc.AvailableCapital.IsZero() {
		t.Errorf("neutral capital should be unknown (zero), got %s", mc.AvailableCapital)
	}
}
