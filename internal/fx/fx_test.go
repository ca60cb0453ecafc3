package fx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls atomic.Int32
	rate  decimal.Decimal
	err   error
}

func (p *countingProvider) Rate(context.Context, string, string) (decimal.Decimal, error) {
	p.calls.Add(1)
	return p.rate, p.err
}

func TestStaticRates(t *testing.T) {
	rates := StaticRates{"EUR/USD": decimal.RequireFromString("1.08")}

	rate, err := rates.Rate(context.Background(), "eur", "usd")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.08")))

	rate, err = rates.Rate(context.Background(), "USD", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))

	_, err = rates.Rate(context.Background(), "JPY", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestHTTPProviderParsesRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EUR", r.URL.Query().Get("base"))
		assert.Equal(t, "USD", r.URL.Query().Get("symbols"))
		_, _ = w.Write([]byte(`{"rates":{"USD":"1.0825"}}`))
	}))
	defer srv.Close()

	rate, err := NewHTTPProvider(srv.URL, srv.Client()).Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1.0825", rate.String())
}

func TestHTTPProviderUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, srv.Client()).Rate(context.Background(), "EUR", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestHTTPProviderHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewHTTPProvider(srv.URL, srv.Client()).Rate(ctx, "EUR", "USD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func newCached(t *testing.T, next Provider) (*CachedProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedProvider(next, client, time.Minute, nil), mr
}

func TestCachedProviderMemoises(t *testing.T) {
	upstream := &countingProvider{rate: decimal.RequireFromString("15600")}
	cached, mr := newCached(t, upstream)

	for i := 0; i < 3; i++ {
		rate, err := cached.Rate(context.Background(), "USD", "IDR")
		require.NoError(t, err)
		assert.Equal(t, "15600", rate.String())
	}
	assert.Equal(t, int32(1), upstream.calls.Load())

	stored, err := mr.Get("fx:rate:USD:IDR")
	require.NoError(t, err)
	assert.Equal(t, "15600", stored)

	mr.FastForward(2 * time.Minute)
	_, err = cached.Rate(context.Background(), "USD", "IDR")
	require.NoError(t, err)
	assert.Equal(t, int32(2), upstream.calls.Load())
}

func TestCachedProviderDoesNotCacheErrors(t *testing.T) {
	upstream := &countingProvider{err: ErrRateUnavailable}
	cached, mr := newCached(t, upstream)

	_, err := cached.Rate(context.Background(), "USD", "IDR")
	assert.ErrorIs(t, err, ErrRateUnavailable)
	assert.False(t, mr.Exists("fx:rate:USD:IDR"))
}

func TestCachedProviderSurvivesRedisOutage(t *testing.T) {
	upstream := &countingProvider{rate: decimal.RequireFromString("0.92")}
	cached, mr := newCached(t, upstream)
	mr.Close()

	rate, err := cached.Rate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.92", rate.String())
}
