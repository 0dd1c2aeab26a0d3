// File: internal/indexer/supervisor.go
package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/alert"
	"github.com/smartdevs17/chain-event-indexer/internal/chain"
	"github.com/smartdevs17/chain-event-indexer/internal/config"
	"github.com/smartdevs17/chain-event-indexer/internal/decoder"
	"github.com/smartdevs17/chain-event-indexer/internal/handler"
	"github.com/smartdevs17/chain-event-indexer/internal/metrics"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/internal/storage"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// defaultSweepLimit bounds how many failed events one background sweep
// reconsiders
const defaultSweepLimit = 100

// Supervisor owns one poller per configured source plus the background
// retry sweep. Start is idempotent: a second call while running is a no-op
// and reports accepted=false.
type Supervisor struct {
	cfg     config.IndexerConfig
	sources []models.SourceConfig

	reader  chain.Reader
	storage storage.Storage
	decoder *decoder.Registry
	router  *handler.Router
	alerter alert.Alerter
	logger  *logrus.Entry

	metricsManager *metrics.Manager

	mu        sync.Mutex
	running   bool
	pollers   map[string]*Poller
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// SupervisorOptions carries the supervisor's collaborators
type SupervisorOptions struct {
	Config         config.IndexerConfig
	Sources        []models.SourceConfig
	Reader         chain.Reader
	Storage        storage.Storage
	Decoder        *decoder.Registry
	Router         *handler.Router
	Alerter        alert.Alerter
	MetricsManager *metrics.Manager
}

// NewSupervisor creates a supervisor for the given sources
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	return &Supervisor{
		cfg:            opts.Config,
		sources:        opts.Sources,
		reader:         opts.Reader,
		storage:        opts.Storage,
		decoder:        opts.Decoder,
		router:         opts.Router,
		alerter:        opts.Alerter,
		logger:         utils.ComponentLogger("supervisor"),
		metricsManager: opts.MetricsManager,
		pollers:        make(map[string]*Poller),
	}
}

// Start brings up one poller per source. Cursor rows are created for new
// sources before their pollers launch, so the first tick always finds its
// cursor. Returns accepted=false without error if already running.
func (s *Supervisor) Start(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Info("Already running, start ignored")
		return false, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())

	for _, source := range s.sources {
		if _, err := s.storage.EnsureCursor(ctx, source); err != nil {
			cancel()
			return false, err
		}

		poller := NewPoller(source, PollerOptions{
			Reader:          s.reader,
			Storage:         s.storage,
			Decoder:         s.decoder,
			Router:          s.router,
			PollInterval:    s.cfg.PollInterval,
			DispatchTimeout: s.cfg.DispatchTimeout,
			MaxRetries:      s.cfg.MaxRetries,
			OnExhausted:     s.reportExhausted,
			MetricsManager:  s.metricsManager,
		})
		s.pollers[source.Key()] = poller
		poller.Start(runCtx)
	}

	s.wg.Add(1)
	go s.sweepLoop(runCtx)

	s.cancel = cancel
	s.running = true
	s.startedAt = time.Now()

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateActivePollers(len(s.pollers))
	}

	s.logger.WithField("sources", len(s.sources)).Info("Indexer started")
	return true, nil
}

// Stop shuts down all pollers and the retry sweep, waiting for in-flight
// work. Safe to call when not running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	// Pollers drain before the run context is canceled so an in-flight
	// tick can record its dispatch outcomes and finish its cursor write.
	for _, poller := range s.pollers {
		poller.Stop()
	}
	s.cancel()
	s.wg.Wait()

	s.pollers = make(map[string]*Poller)
	s.running = false

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateActivePollers(0)
	}

	s.logger.Info("Indexer stopped")
}

// IsRunning reports whether the supervisor has been started
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SourceStatus is one source's entry in the status report
type SourceStatus struct {
	Source              string     `json:"source"`
	LastProcessedHeight uint64     `json:"last_processed_height"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	IsActive            bool       `json:"is_active"`
	ErrorCount          int        `json:"error_count"`
	LastError           *string    `json:"last_error,omitempty"`
}

// Status is the supervisor's status report
type Status struct {
	Running       bool           `json:"running"`
	ActivePollers int            `json:"active_pollers"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	Sources       []SourceStatus `json:"sources"`
}

// Status reports the running state, the live poller count and each
// source's cursor position
func (s *Supervisor) Status(ctx context.Context) (*Status, error) {
	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	activePollers := len(s.pollers)
	s.mu.Unlock()

	cursors, err := s.storage.ListCursors(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{Running: running, ActivePollers: activePollers}
	if running {
		status.StartedAt = &startedAt
	}

	for _, cursor := range cursors {
		status.Sources = append(status.Sources, SourceStatus{
			Source:              fmt.Sprintf("%d:%s:%s", cursor.NetworkID, cursor.Address, cursor.Schema),
			LastProcessedHeight: cursor.LastProcessedHeight,
			LastSyncAt:          cursor.LastSyncAt,
			IsActive:            cursor.IsActive,
			ErrorCount:          cursor.ErrorCount,
			LastError:           cursor.LastError,
		})
	}

	return status, nil
}

// Health is the supervisor's health report
type Health struct {
	Healthy         bool     `json:"healthy"`
	Running         bool     `json:"running"`
	StaleSources    []string `json:"stale_sources,omitempty"`
	ErroredSources  []string `json:"errored_sources,omitempty"`
	ExhaustedEvents int64    `json:"exhausted_events"`
}

// Health reports whether indexing is keeping up: a source is stale when
// its last successful sync is older than the staleness threshold and
// errored when its consecutive error count is non-zero. Exhausted events
// count toward unhealthy so stuck work surfaces to operators.
func (s *Supervisor) Health(ctx context.Context) (*Health, error) {
	health := &Health{Running: s.IsRunning()}

	cursors, err := s.storage.ListCursors(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, cursor := range cursors {
		if !cursor.IsActive {
			continue
		}
		key := fmt.Sprintf("%d:%s:%s", cursor.NetworkID, cursor.Address, cursor.Schema)

		if cursor.ErrorCount > 0 {
			health.ErroredSources = append(health.ErroredSources, key)
		}
		if health.Running && s.cfg.StalenessThreshold > 0 {
			if cursor.LastSyncAt == nil || now.Sub(*cursor.LastSyncAt) > s.cfg.StalenessThreshold {
				health.StaleSources = append(health.StaleSources, key)
			}
		}
	}

	exhausted, err := s.storage.CountExhaustedEvents(ctx, s.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	health.ExhaustedEvents = exhausted

	health.Healthy = health.Running &&
		len(health.StaleSources) == 0 &&
		len(health.ErroredSources) == 0 &&
		health.ExhaustedEvents == 0

	return health, nil
}

// RetryResult summarizes one retry sweep
type RetryResult struct {
	Considered int `json:"considered"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
}

// RetryFailedEvents re-dispatches failed events still under the retry cap,
// oldest first, up to limit. Events whose retry count reaches the cap are
// reported through the alerter once, at the moment they exhaust.
func (s *Supervisor) RetryFailedEvents(ctx context.Context, limit int) (*RetryResult, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	events, err := s.storage.GetRetryableEvents(ctx, limit, s.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	result := &RetryResult{Considered: len(events)}

	for _, event := range events {
		if err := s.retryOne(ctx, event); err != nil {
			result.Failed++
		} else {
			result.Processed++
		}
	}

	if result.Considered > 0 {
		s.logger.WithFields(logrus.Fields{
			"considered": result.Considered,
			"processed":  result.Processed,
			"failed":     result.Failed,
		}).Info("Retry sweep completed")
	}

	return result, nil
}

func (s *Supervisor) retryOne(ctx context.Context, event *models.IndexedEvent) error {
	dispatchCtx := ctx
	if s.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		defer cancel()
	}

	// Outcome writes survive cancellation of the sweep context; a retry
	// that already ran must leave its mark either way.
	markCtx := context.WithoutCancel(ctx)

	if err := s.router.Dispatch(dispatchCtx, event); err != nil {
		if markErr := s.storage.MarkEventFailed(markCtx, event.ID, err.Error()); markErr != nil {
			s.logger.WithError(markErr).Error("Failed to record retry failure")
		}
		s.recordSweep("failed")

		if event.RetryCount+1 >= s.cfg.MaxRetries {
			s.reportExhausted(markCtx, event, err)
		}
		return err
	}

	if err := s.storage.MarkEventProcessed(markCtx, event.ID, time.Now()); err != nil {
		s.logger.WithError(err).Error("Failed to record retry success")
		s.recordSweep("failed")
		return err
	}

	s.recordSweep("success")
	return nil
}

// reportExhausted alerts that an event has used up its dispatch retries
func (s *Supervisor) reportExhausted(ctx context.Context, event *models.IndexedEvent, cause error) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordEventExhausted()
	}

	if s.alerter == nil {
		return
	}

	alertErr := s.alerter.Send(ctx, alert.Alert{
		Severity: alert.SeverityCritical,
		Title:    "Event dispatch retries exhausted",
		Message: fmt.Sprintf("event %s (%s) failed %d dispatch attempts",
			event.ID, event.EventName, event.RetryCount+1),
		Fields: map[string]interface{}{
			"event_id":   event.ID,
			"event_name": event.EventName,
			"network_id": event.NetworkID,
			"tx_hash":    event.TxHash,
			"last_error": cause.Error(),
		},
		Timestamp: time.Now().UTC(),
	})
	if alertErr != nil {
		s.logger.WithError(alertErr).Warn("Failed to deliver exhaustion alert")
	}
}

// sweepLoop periodically re-dispatches failed events and checks source
// staleness in the background
func (s *Supervisor) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	staleAlerted := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RetryFailedEvents(ctx, defaultSweepLimit); err != nil {
				s.logger.WithError(err).Warn("Retry sweep failed")
			}
			s.checkStaleness(ctx, staleAlerted)
		}
	}
}

// checkStaleness alerts once per stale episode: a source that stops syncing
// triggers a single warning, and recovering re-arms it.
func (s *Supervisor) checkStaleness(ctx context.Context, alerted map[string]bool) {
	if s.alerter == nil || s.cfg.StalenessThreshold <= 0 {
		return
	}

	health, err := s.Health(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Staleness check failed")
		return
	}

	stale := make(map[string]bool, len(health.StaleSources))
	for _, source := range health.StaleSources {
		stale[source] = true
		if alerted[source] {
			continue
		}
		alerted[source] = true

		alertErr := s.alerter.Send(ctx, alert.Alert{
			Severity: alert.SeverityWarning,
			Title:    "Source gone stale",
			Message: fmt.Sprintf("source %s has not synced within %s",
				source, s.cfg.StalenessThreshold),
			Fields:    map[string]interface{}{"source": source},
			Timestamp: time.Now().UTC(),
		})
		if alertErr != nil {
			s.logger.WithError(alertErr).Warn("Failed to deliver staleness alert")
		}
	}

	for source := range alerted {
		if !stale[source] {
			delete(alerted, source)
		}
	}
}

func (s *Supervisor) recordSweep(status string) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordRetrySweep(status)
	}
}
