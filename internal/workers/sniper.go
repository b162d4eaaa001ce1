package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/metrics"
	"github.com/akagifreeez/azeroth-sniper/internal/models"
	"github.com/akagifreeez/azeroth-sniper/internal/services"
	"github.com/akagifreeez/azeroth-sniper/pkg/battlenet"
)

// State is the orchestrator's lifecycle position
type State string

const (
	StateInit        State = "init"
	StateInitialScan State = "initial_scan"
	StateWait        State = "wait"
	StateScan        State = "scan"
	StateTerminated  State = "terminated"
)

const defaultIdleInterval = 20 * time.Second

// AuctionSource fetches raw auction data
type AuctionSource interface {
	FetchSource(ctx context.Context, sourceID int64) (*battlenet.SourceResult, error)
	FetchTokenPrice(ctx context.Context) (int64, error)
}

// ScanSummary describes one pass over a set of sources
type ScanSummary struct {
	RunID     string        `json:"run_id"`
	Sources   int           `json:"sources"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Matches   int           `json:"matches"`
	Alerts    int           `json:"alerts"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Status is a point-in-time view of the orchestrator
type Status struct {
	State       State       `json:"state"`
	Region      string      `json:"region"`
	Timers      int         `json:"timers"`
	LedgerSize  int         `json:"ledger_size"`
	NextUpdates []int       `json:"next_updates"`
	LastScan    ScanSummary `json:"last_scan"`
}

// Sniper drives the scan loop: an initial full scan, then timer-driven scans of the
// sources whose fresh data should just have been published
type Sniper struct {
	region   string
	debug    bool
	refresh  bool
	threads  int
	idle     time.Duration
	source   AuctionSource
	timers   *services.TimerTracker
	matcher  *services.Matcher
	alerts   *services.AlertService
	progress *services.ProgressHub
	now      func() time.Time

	mu            sync.RWMutex
	state         State
	lastScan      ScanSummary
	lastResetHour int64
}

// NewSniper wires the orchestrator. progress may be nil.
func NewSniper(cfg *config.Config, source AuctionSource, timers *services.TimerTracker, matcher *services.Matcher, alerts *services.AlertService, progress *services.ProgressHub) *Sniper {
	threads := cfg.ThreadCount
	if threads <= 0 {
		threads = 1
	}
	idle := cfg.IdleInterval
	if idle <= 0 {
		idle = defaultIdleInterval
	}
	if progress == nil {
		progress = services.NewProgressHub(0)
	}

	return &Sniper{
		region:        cfg.Region,
		debug:         cfg.Debug,
		refresh:       cfg.RefreshAlerts,
		threads:       threads,
		idle:          idle,
		source:        source,
		timers:        timers,
		matcher:       matcher,
		alerts:        alerts,
		progress:      progress,
		now:           time.Now,
		state:         StateInit,
	}
}

// Run executes the state machine until ctx is cancelled, debug mode finishes its single
// pass, or authentication fails. Only authentication failures are returned.
func (s *Sniper) Run(ctx context.Context) error {
	defer s.setState(StateTerminated, "sniper stopped")

	log.Info().
		Str("region", s.region).
		Int("threads", s.threads).
		Bool("debug", s.debug).
		Msg("Starting sniper")

	s.alerts.SendStartup(ctx, s.debug)

	// alerts from the initial scan belong to the startup hour
	s.mu.Lock()
	s.lastResetHour = s.now().Unix() / 3600
	s.mu.Unlock()

	s.setState(StateInitialScan, "scanning every known source")
	if err := s.scan(ctx, s.timers.KnownSources()); err != nil {
		return err
	}

	if s.debug {
		log.Info().Msg("Debug mode: single pass complete")
		return nil
	}

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Stop requested, leaving scan loop")
			return nil
		}
		if err := s.tick(ctx); err != nil {
			return err
		}
	}
}

// tick is one loop iteration: ledger epoch, timer refresh, then either a scan or an idle wait
func (s *Sniper) tick(ctx context.Context) error {
	// upload minutes are UTC
	now := s.now().UTC()
	minute := now.Minute()

	if s.refresh {
		hour := now.Unix() / 3600
		s.mu.Lock()
		reset := hour != s.lastResetHour
		s.lastResetHour = hour
		s.mu.Unlock()
		if reset {
			log.Info().Int("minute", minute).Msg("New hour, clearing alert ledger")
			s.alerts.ResetLedger(ctx)
		}
	}

	if s.timers.Len() == 0 {
		s.timers.RefreshAll(ctx)
	}

	eligible := s.timers.EligibleSources(minute)
	if len(eligible) > 0 {
		s.setState(StateScan, "scanning eligible sources")
		return s.scan(ctx, eligible)
	}

	s.setState(StateWait, "no eligible sources")
	next := s.timers.NextUpdates(minute)
	log.Info().
		Int("minute", minute).
		Ints("next_update_minutes", next).
		Dur("sleep", s.idle).
		Msg("No sources eligible, waiting")
	s.progress.Publish(services.ProgressEvent{
		Type:    services.EventIdle,
		Message: "waiting for next upload window",
		Data:    map[string]interface{}{"minute": minute, "next_update_minutes": next},
	})

	timer := time.NewTimer(s.idle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}

// scan fetches and evaluates the given sources with at most threads fetches in flight
func (s *Sniper) scan(ctx context.Context, sourceIDs []int64) error {
	summary := ScanSummary{
		RunID:     uuid.NewString(),
		Sources:   len(sourceIDs),
		StartedAt: s.now(),
	}
	start := time.Now()

	log.Info().Str("run_id", summary.RunID).Int("sources", len(sourceIDs)).Msg("Scan started")
	s.progress.Publish(services.ProgressEvent{
		RunID:   summary.RunID,
		Type:    services.EventScan,
		Message: "scan started",
		Data:    map[string]interface{}{"sources": len(sourceIDs)},
	})

	sem := make(chan struct{}, s.threads)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatal error

	for _, id := range sourceIDs {
		sem <- struct{}{} // Acquire

		mu.Lock()
		stop := fatal != nil
		mu.Unlock()
		if stop || ctx.Err() != nil {
			<-sem
			break
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			matches, alerts, err := s.processSource(ctx, summary.RunID, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				var authErr *battlenet.AuthError
				if errors.As(err, &authErr) && fatal == nil {
					fatal = authErr
				}
				return
			}
			summary.Succeeded++
			summary.Matches += matches
			summary.Alerts += alerts
		}(id)
	}

	wg.Wait()

	summary.Elapsed = time.Since(start)
	metrics.ScanDuration.Observe(summary.Elapsed.Seconds())

	s.mu.Lock()
	s.lastScan = summary
	s.mu.Unlock()

	log.Info().
		Str("run_id", summary.RunID).
		Int("total", summary.Sources).
		Int("success", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("matches", summary.Matches).
		Int("alerts", summary.Alerts).
		Dur("elapsed", summary.Elapsed).
		Msg("Scan completed")
	s.progress.Publish(services.ProgressEvent{
		RunID:   summary.RunID,
		Type:    services.EventScan,
		Message: "scan completed",
		Data: map[string]interface{}{
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"matches":   summary.Matches,
			"alerts":    summary.Alerts,
			"elapsed":   summary.Elapsed.String(),
		},
	})

	if fatal != nil {
		log.Error().Err(fatal).Msg("Authentication failed, aborting")
	}
	return fatal
}

// processSource runs one source end to end. In-flight fetches are never cancelled;
// listing evaluation stops as soon as ctx is done.
func (s *Sniper) processSource(ctx context.Context, runID string, sourceID int64) (int, int, error) {
	kind := "realm"
	if models.IsCommodity(sourceID) {
		kind = "commodity"
	}
	fetchCtx := context.WithoutCancel(ctx)

	result, err := s.source.FetchSource(fetchCtx, sourceID)
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(kind, "error").Inc()
		log.Warn().Err(err).Int64("source_id", sourceID).Msg("Failed to fetch source, skipping until next window")
		return 0, 0, err
	}
	metrics.FetchesTotal.WithLabelValues(kind, "ok").Inc()

	s.timers.Observe(sourceID, result.LastModified)

	if kind == "commodity" {
		s.alerts.CheckTokenPrice(fetchCtx, s.source)
	}

	matches := s.matcher.MatchListings(ctx, sourceID, services.NewListings(result.Auctions))
	sent := 0
	if len(matches) > 0 {
		sent = s.alerts.Notify(ctx, sourceID, matches)
	}
	if sent > 0 {
		s.progress.Publish(services.ProgressEvent{
			RunID:   runID,
			Type:    services.EventAlert,
			Message: "alerts sent",
			Data:    map[string]interface{}{"source_id": sourceID, "alerts": sent},
		})
	}

	s.progress.Publish(services.ProgressEvent{
		RunID:   runID,
		Type:    services.EventSourceDone,
		Message: "source processed",
		Data: map[string]interface{}{
			"source_id":   sourceID,
			"realm_names": s.timers.RealmNames(sourceID),
			"auctions":    len(result.Auctions),
			"matches":     len(matches),
			"alerts":      sent,
		},
	})

	return len(matches), sent, nil
}

func (s *Sniper) setState(state State, msg string) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if !changed {
		return
	}
	log.Debug().Str("state", string(state)).Msg(msg)
	s.progress.Publish(services.ProgressEvent{
		Type:    services.EventState,
		State:   string(state),
		Message: msg,
	})
}

// State returns the current lifecycle state
func (s *Sniper) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the orchestrator's current view
func (s *Sniper) Status(ctx context.Context) Status {
	s.mu.RLock()
	state := s.state
	last := s.lastScan
	s.mu.RUnlock()

	return Status{
		State:       state,
		Region:      s.region,
		Timers:      s.timers.Len(),
		LedgerSize:  s.alerts.LedgerLen(ctx),
		NextUpdates: s.timers.NextUpdates(s.now().UTC().Minute()),
		LastScan:    last,
	}
}
