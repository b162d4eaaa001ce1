package workers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/models"
	"github.com/akagifreeez/azeroth-sniper/internal/reference"
	"github.com/akagifreeez/azeroth-sniper/internal/services"
	"github.com/akagifreeez/azeroth-sniper/pkg/battlenet"
	"github.com/akagifreeez/azeroth-sniper/pkg/retryhttp"
)

type fakeSource struct {
	mu           sync.Mutex
	calls        map[int64]int
	total        int32
	inFlight     int32
	maxInFlight  int32
	lastModified string
	fail         map[int64]error
	tokenPrice   int64
	delay        time.Duration
	onFetch      func(total int32)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:        make(map[int64]int),
		fail:         make(map[int64]error),
		lastModified: "Mon, 05 Jan 2026 07:59:00 GMT",
	}
}

func (f *fakeSource) FetchSource(ctx context.Context, sourceID int64) (*battlenet.SourceResult, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[sourceID]++
	err := f.fail[sourceID]
	f.mu.Unlock()

	total := atomic.AddInt32(&f.total, 1)
	if f.onFetch != nil {
		f.onFetch(total)
	}

	if err != nil {
		return nil, err
	}
	return &battlenet.SourceResult{
		SourceID:     sourceID,
		LastModified: f.lastModified,
		Auctions: []battlenet.Auction{
			{Item: battlenet.AuctionItem{ID: 19019}, Buyout: 45_000_000},
			{Item: battlenet.AuctionItem{ID: 19019}, Buyout: 60_000_000},
		},
	}, nil
}

func (f *fakeSource) FetchTokenPrice(context.Context) (int64, error) {
	return f.tokenPrice, nil
}

type webhookCounter struct {
	count int32
	srv   *httptest.Server
}

func newWebhookCounter(t *testing.T) *webhookCounter {
	t.Helper()
	w := &webhookCounter{}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&w.count, 1)
		rw.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *webhookCounter) sent() int {
	return int(atomic.LoadInt32(&w.count))
}

func newTestSniper(t *testing.T, cfg *config.Config, source AuctionSource, webhook *webhookCounter) (*Sniper, *services.TimerTracker) {
	t.Helper()
	cfg.Region = config.RegionNA
	cfg.ScanTimeMin, cfg.ScanTimeMax = 1, 3
	if webhook != nil {
		cfg.DiscordWebhookURL = webhook.srv.URL
	}

	data := &reference.Data{
		DesiredItems: map[int64]float64{19019: 5000},
		RealmNames: map[int64][]string{
			3676: {"Area 52"},
			1305: {"Kazzak"},
		},
		Bonuses: &models.BonusTables{},
	}

	httpClient := retryhttp.NewClient(0, time.Millisecond)
	timers := services.NewTimerTracker(cfg, data.RealmNames, httpClient)
	matcher := services.NewMatcher(cfg, data)
	alerts := services.NewAlertService(cfg, services.NewMemoryLedger(), nil, httpClient)

	return NewSniper(cfg, source, timers, matcher, alerts, services.NewProgressHub(256)), timers
}

func TestRun_DebugSinglePass(t *testing.T) {
	source := newFakeSource()
	webhook := newWebhookCounter(t)
	s, timers := newTestSniper(t, &config.Config{Debug: true, ThreadCount: 4}, source, webhook)

	_, events := s.progress.Subscribe()

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, map[int64]int{models.CommodityNA: 1, 1305: 1, 3676: 1}, source.calls)
	assert.Equal(t, 3, timers.Len(), "every successful fetch is observed")
	// startup + one alert message per source
	assert.Equal(t, 4, webhook.sent())
	assert.Equal(t, StateTerminated, s.State())

	status := s.Status(context.Background())
	assert.Equal(t, 3, status.LastScan.Succeeded)
	assert.Equal(t, 3, status.LastScan.Matches)
	assert.Equal(t, 3, status.LedgerSize)

	var states []string
	alertEvents := 0
	for len(events) > 0 {
		ev := <-events
		switch ev.Type {
		case services.EventState:
			states = append(states, ev.State)
		case services.EventAlert:
			alertEvents++
		}
	}
	assert.Equal(t, []string{string(StateInitialScan), string(StateTerminated)}, states)
	assert.Equal(t, 3, alertEvents)
}

func TestRun_FetchFailureIsSkipped(t *testing.T) {
	source := newFakeSource()
	source.fail[3676] = &battlenet.FetchError{SourceID: 3676, StatusCode: http.StatusTooManyRequests, Err: errors.New("rate limited")}
	s, timers := newTestSniper(t, &config.Config{Debug: true, ThreadCount: 2}, source, nil)

	require.NoError(t, s.Run(context.Background()))

	status := s.Status(context.Background())
	assert.Equal(t, 2, status.LastScan.Succeeded)
	assert.Equal(t, 1, status.LastScan.Failed)
	assert.NotContains(t, timers.Snapshot(), int64(3676))
}

func TestRun_AuthFailureIsFatal(t *testing.T) {
	source := newFakeSource()
	authErr := &battlenet.AuthError{Err: errors.New("invalid_client")}
	for _, id := range []int64{models.CommodityNA, 1305, 3676} {
		source.fail[id] = &battlenet.FetchError{SourceID: id, Err: authErr}
	}
	s, _ := newTestSniper(t, &config.Config{ThreadCount: 1}, source, nil)

	err := s.Run(context.Background())
	require.Error(t, err)
	var target *battlenet.AuthError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.total), "no new fetches after a fatal error")
}

func TestScan_BoundedConcurrency(t *testing.T) {
	source := newFakeSource()
	source.delay = 10 * time.Millisecond
	s, _ := newTestSniper(t, &config.Config{ThreadCount: 2}, source, nil)

	ids := make([]int64, 12)
	for i := range ids {
		ids[i] = int64(100 + i)
	}
	require.NoError(t, s.scan(context.Background(), ids))

	assert.Equal(t, int32(12), atomic.LoadInt32(&source.total))
	assert.LessOrEqual(t, atomic.LoadInt32(&source.maxInFlight), int32(2))
}

func TestRun_LoopResetsLedgerOncePerHour(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)

	tests := []struct {
		name  string
		after time.Time
	}{
		{"tick at minute zero", time.Date(2026, 1, 5, 8, 0, 30, 0, time.UTC)},
		{"scan ran through minute zero", time.Date(2026, 1, 5, 8, 1, 30, 0, time.UTC)},
		{"host clock on a half hour offset", time.Date(2026, 1, 5, 8, 1, 30, 0, time.UTC).In(kolkata)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeSource()
			webhook := newWebhookCounter(t)
			s, _ := newTestSniper(t, &config.Config{ThreadCount: 1, RefreshAlerts: true, IdleInterval: time.Millisecond}, source, webhook)

			var clock atomic.Int64
			clock.Store(time.Date(2026, 1, 5, 7, 59, 30, 0, time.UTC).UnixNano())
			loc := tt.after.Location()
			s.now = func() time.Time { return time.Unix(0, clock.Load()).In(loc) }

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			source.onFetch = func(total int32) {
				switch total {
				case 3:
					// initial scan done, the hour rolls over
					clock.Store(tt.after.UnixNano())
				case 9:
					cancel()
				}
			}

			require.NoError(t, s.Run(ctx))

			// uploads at :59 are eligible through the hour wrap. Startup, initial scan (3), first loop scan
			// after the reset (3); the second loop scan is all duplicates
			assert.Equal(t, 7, webhook.sent())
			assert.Equal(t, int32(9), atomic.LoadInt32(&source.total))
		})
	}
}

func TestStatus_UsesUTCMinute(t *testing.T) {
	s, timers := newTestSniper(t, &config.Config{ThreadCount: 1}, newFakeSource(), nil)
	timers.Observe(3676, "Mon, 05 Jan 2026 07:10:00 GMT")
	timers.Observe(1305, "Mon, 05 Jan 2026 06:40:00 GMT")

	// 07:12 UTC is 12:42 in Kolkata
	s.now = func() time.Time {
		return time.Date(2026, 1, 5, 7, 12, 0, 0, time.UTC).In(time.FixedZone("IST", 5*3600+1800))
	}

	status := s.Status(context.Background())
	assert.Equal(t, []int{41, 11}, status.NextUpdates)
}

func TestRun_IdleRefreshesEmptyTimers(t *testing.T) {
	var refreshes int32
	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer aggregator.Close()

	source := newFakeSource()
	for _, id := range []int64{models.CommodityNA, 1305, 3676} {
		source.fail[id] = &battlenet.FetchError{SourceID: id, StatusCode: http.StatusServiceUnavailable, Err: errors.New("down")}
	}
	s, timers := newTestSniper(t, &config.Config{ThreadCount: 3, IdleInterval: 5 * time.Millisecond}, source, nil)
	timers.SetURL(aggregator.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&refreshes), int32(1))
	assert.Equal(t, int32(3), atomic.LoadInt32(&source.total), "idle loop does not fetch")
}

func TestRun_CommodityTriggersTokenCheck(t *testing.T) {
	source := newFakeSource()
	source.tokenPrice = 150000
	webhook := newWebhookCounter(t)
	s, _ := newTestSniper(t, &config.Config{Debug: true, ThreadCount: 1, TokenPrice: 200000}, source, webhook)

	require.NoError(t, s.Run(context.Background()))

	// startup, token alert, one alert per source
	assert.Equal(t, 5, webhook.sent())
}
