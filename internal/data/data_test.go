package data

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockrun/stockrun/internal/domain"
)

type fakeProvider struct {
	bars  domain.Bars
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Bars(ctx context.Context, symbol, interval string, limit int) (domain.Bars, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

type fakeStore struct {
	data    map[string]string
	getErr  error
	setKey  string
	setTTL  time.Duration
	setBody []byte
}

func (f *fakeStore) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.setKey = key
	f.setTTL = expiration
	f.setBody = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func sampleBars(n int) domain.Bars {
	bars := make(domain.Bars, n)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = domain.PriceBar{
			Open: p, High: p + 1, Low: p - 1, Close: p,
			Volume:    1000,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return bars
}

func TestBarFromKline(t *testing.T) {
	k := &binance.Kline{
		OpenTime: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		Open:     "100.5",
		High:     "102.0",
		Low:      "99.5",
		Close:    "101.0",
		Volume:   "12345.6",
	}

	bar, err := barFromKline(k)
	require.NoError(t, err)
	assert.Equal(t, 100.5, bar.Open)
	assert.Equal(t, 102.0, bar.High)
	assert.Equal(t, 99.5, bar.Low)
	assert.Equal(t, 101.0, bar.Close)
	assert.Equal(t, 12345.6, bar.Volume)
	assert.Equal(t, 2025, bar.Timestamp.Year())

	k.Close = "not-a-number"
	_, err = barFromKline(k)
	assert.Error(t, err)
}

func TestCache_HitSkipsProvider(t *testing.T) {
	bars := sampleBars(3)
	payload, err := json.Marshal(bars)
	require.NoError(t, err)

	provider := &fakeProvider{bars: sampleBars(5)}
	store := &fakeStore{data: map[string]string{
		"stockrun:bars:fake:BTCUSDT:1h:3": string(payload),
	}}

	c := NewCache(provider, store, time.Minute)
	got, err := c.Bars(context.Background(), "BTCUSDT", "1h", 3)

	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Zero(t, provider.calls, "cache hit must not reach the provider")
}

func TestCache_MissFetchesAndStores(t *testing.T) {
	provider := &fakeProvider{bars: sampleBars(4)}
	store := &fakeStore{data: map[string]string{}}

	c := NewCache(provider, store, 5*time.Minute)
	got, err := c.Bars(context.Background(), "ETHUSDT", "1d", 4)

	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "stockrun:bars:fake:ETHUSDT:1d:4", store.setKey)
	assert.Equal(t, 5*time.Minute, store.setTTL)

	var cached domain.Bars
	require.NoError(t, json.Unmarshal(store.setBody, &cached))
	assert.Len(t, cached, 4)
}

func TestCache_ReadErrorDegradesToProvider(t *testing.T) {
	provider := &fakeProvider{bars: sampleBars(2)}
	store := &fakeStore{getErr: errors.New("connection refused")}

	c := NewCache(provider, store, time.Minute)
	got, err := c.Bars(context.Background(), "BTCUSDT", "1h", 2)

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, provider.calls)
}

func TestGuard_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream down")}
	cfg := DefaultGuardConfig()
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	cfg.MaxFailures = 3
	g := NewGuard(provider, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := g.Bars(ctx, "BTCUSDT", "1h", 10)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.BreakerState())

	_, err := g.Bars(ctx, "BTCUSDT", "1h", 10)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, provider.calls, "open breaker must not reach the provider")
}

func TestGuard_PassesThroughWhenHealthy(t *testing.T) {
	provider := &fakeProvider{bars: sampleBars(3)}
	cfg := DefaultGuardConfig()
	cfg.RequestsPerSecond = 1000
	g := NewGuard(provider, cfg)

	got, err := g.Bars(context.Background(), "BTCUSDT", "1h", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, gobreaker.StateClosed, g.BreakerState())
}

func TestGuard_RateLimitHonorsContext(t *testing.T) {
	provider := &fakeProvider{bars: sampleBars(3)}
	g := NewGuard(provider, GuardConfig{RequestsPerSecond: 0.001, Burst: 1, MaxFailures: 3})

	ctx := context.Background()
	_, err := g.Bars(ctx, "BTCUSDT", "1h", 3)
	require.NoError(t, err, "burst token covers the first call")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = g.Bars(ctx, "BTCUSDT", "1h", 3)
	assert.Error(t, err, "second call must wait far longer than the deadline")
}

func TestFailover_UsesBackupWhenPrimaryFails(t *testing.T) {
	primary := &fakeProvider{err: errors.New("timeout")}
	backup := &fakeProvider{bars: sampleBars(3)}
	f := NewFailover(primary, backup)

	got, err := f.Bars(context.Background(), "BTCUSDT", "1h", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestFailover_PrimaryWinsWhenHealthy(t *testing.T) {
	primary := &fakeProvider{bars: sampleBars(2)}
	backup := &fakeProvider{bars: sampleBars(3)}
	f := NewFailover(primary, backup)

	got, err := f.Bars(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Zero(t, backup.calls)
}

func TestFailover_BothFailing(t *testing.T) {
	primary := &fakeProvider{err: errors.New("timeout")}
	backup := &fakeProvider{err: errors.New("rate limited")}
	f := NewFailover(primary, backup)

	_, err := f.Bars(context.Background(), "BTCUSDT", "1h", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, err.Error(), "timeout")
}
