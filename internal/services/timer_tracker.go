package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/metrics"
	"github.com/akagifreeez/azeroth-sniper/internal/models"
	"github.com/akagifreeez/azeroth-sniper/internal/reference"
	"github.com/akagifreeez/azeroth-sniper/pkg/retryhttp"
)

// DefaultTimerURL is the Saddlebag Exchange upload-timer aggregator
const DefaultTimerURL = "https://api.saddlebagexchange.com/api/wow/uploadtimers"

// TimerTracker tracks when each source last published fresh auction data
type TimerTracker struct {
	http      *retryablehttp.Client
	url       string
	region    string
	noRussian bool
	scanMin   int
	scanMax   int
	extra     map[int]bool

	realmNames map[int64][]string
	known      []int64

	mu     sync.RWMutex
	timers map[int64]*models.UploadTimer
}

// NewTimerTracker creates a tracker for the configured region. realmNames is the
// inverted realm directory; its ids plus the commodity pool are the known sources.
func NewTimerTracker(cfg *config.Config, realmNames map[int64][]string, httpClient *retryablehttp.Client) *TimerTracker {
	if httpClient == nil {
		httpClient = retryhttp.NewClient(retryhttp.DefaultRetries, retryhttp.DefaultDelay)
	}

	known := make([]int64, 0, len(realmNames)+1)
	if !cfg.IsClassic() {
		known = append(known, models.CommodityID(cfg.Region))
	}
	for id := range realmNames {
		known = append(known, id)
	}
	sort.Slice(known, func(i, j int) bool { return known[i] < known[j] })

	return &TimerTracker{
		http:       httpClient,
		url:        DefaultTimerURL,
		region:     cfg.Region,
		noRussian:  cfg.NoRussianRealms,
		scanMin:    cfg.ScanTimeMin,
		scanMax:    cfg.ScanTimeMax,
		extra:      cfg.ExtraAlerts,
		realmNames: realmNames,
		known:      known,
		timers:     make(map[int64]*models.UploadTimer),
	}
}

// SetURL overrides the aggregator endpoint
func (t *TimerTracker) SetURL(url string) {
	t.url = url
}

// KnownSources returns every source the engine can poll
func (t *TimerTracker) KnownSources() []int64 {
	return append([]int64(nil), t.known...)
}

// RealmNames returns the display names of a source
func (t *TimerTracker) RealmNames(sourceID int64) []string {
	if models.IsCommodity(sourceID) {
		return []string{"Commodities"}
	}
	return t.realmNames[sourceID]
}

// RefreshAll replaces the timer map with the aggregator's view. Failures are logged
// and leave an empty map so the next tick retries.
func (t *TimerTracker) RefreshAll(ctx context.Context) map[int64]models.UploadTimer {
	fresh := make(map[int64]*models.UploadTimer)

	body, err := retryhttp.Do(ctx, t.http, http.MethodPost, t.url, []byte("{}"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh upload timers")
	} else {
		var timers []models.UploadTimer
		if err := json.Unmarshal([]byte(gjson.GetBytes(body, "data").Raw), &timers); err != nil {
			log.Error().Err(err).Msg("Failed to parse upload timers")
		}
		for i := range timers {
			timer := timers[i]
			if timer.Region != t.region {
				continue
			}
			if t.noRussian && reference.IsRussianRealm(timer.DataSetID) {
				continue
			}
			fresh[timer.DataSetID] = &timer
		}
	}

	t.mu.Lock()
	t.timers = fresh
	t.mu.Unlock()

	metrics.TrackedSources.Set(float64(len(fresh)))
	log.Info().Int("sources", len(fresh)).Str("region", t.region).Msg("Upload timers refreshed")

	return t.Snapshot()
}

// Observe records the freshness header of a successful fetch.
func (t *TimerTracker) Observe(sourceID int64, lastModified string) {
	if lastModified == "" {
		return
	}
	ts, err := http.ParseTime(lastModified)
	if err != nil {
		log.Debug().Err(err).Int64("source_id", sourceID).Str("last_modified", lastModified).Msg("Unparseable Last-Modified header")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[sourceID]
	if !ok {
		timer = &models.UploadTimer{
			DataSetID:   sourceID,
			DataSetName: t.RealmNames(sourceID),
			Region:      t.region,
		}
		t.timers[sourceID] = timer
		metrics.TrackedSources.Set(float64(len(t.timers)))
	}

	timer.LastUploadMinute = ts.Minute()
	timer.LastUploadTimeRaw = lastModified
	timer.LastUploadUnix = ts.Unix()
}

// EligibleSources returns the sources whose scan window contains nowMinute. An override
// minute makes every known source eligible.
func (t *TimerTracker) EligibleSources(nowMinute int) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.extra[nowMinute] {
		seen := make(map[int64]bool, len(t.known)+len(t.timers))
		for _, id := range t.known {
			seen[id] = true
		}
		for id := range t.timers {
			seen[id] = true
		}
		return sortedIDs(seen)
	}

	eligible := make(map[int64]bool)
	for id, timer := range t.timers {
		if t.inWindow(timer.LastUploadMinute, nowMinute) {
			eligible[id] = true
		}
	}
	return sortedIDs(eligible)
}

// inWindow checks lastMinute+scanMin <= now <= lastMinute+scanMax, wrapping at the hour.
func (t *TimerTracker) inWindow(lastMinute, nowMinute int) bool {
	delta := ((nowMinute-lastMinute)%60 + 60) % 60
	return delta >= t.scanMin && delta <= t.scanMax
}

// NextUpdates returns the upcoming window-start minutes, nearest first.
func (t *TimerTracker) NextUpdates(nowMinute int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[int]bool)
	for _, timer := range t.timers {
		seen[(timer.LastUploadMinute+t.scanMin)%60] = true
	}

	minutes := make([]int, 0, len(seen))
	for m := range seen {
		minutes = append(minutes, m)
	}
	sort.Slice(minutes, func(i, j int) bool {
		return (minutes[i]-nowMinute+60)%60 < (minutes[j]-nowMinute+60)%60
	})
	return minutes
}

// Len returns the number of tracked timers
func (t *TimerTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.timers)
}

// Snapshot returns a copy of the timer map
func (t *TimerTracker) Snapshot() map[int64]models.UploadTimer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[int64]models.UploadTimer, len(t.timers))
	for id, timer := range t.timers {
		out[id] = *timer
	}
	return out
}

func sortedIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
