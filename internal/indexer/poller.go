// File: internal/indexer/poller.go
package indexer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/chain"
	"github.com/smartdevs17/chain-event-indexer/internal/decoder"
	"github.com/smartdevs17/chain-event-indexer/internal/handler"
	"github.com/smartdevs17/chain-event-indexer/internal/metrics"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/internal/storage"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// Tick outcomes reported in status and metrics
const (
	TickIndexed    = "indexed"
	TickNoNewRange = "no_new_range"
	TickSkipped    = "skipped"
	TickError      = "error"
)

// TickResult summarizes one poll cycle for a source
type TickResult struct {
	Outcome    string `json:"outcome"`
	FromHeight uint64 `json:"from_height,omitempty"`
	ToHeight   uint64 `json:"to_height,omitempty"`
	Fetched    int    `json:"fetched"`
	Inserted   int    `json:"inserted"`
	Dispatched int    `json:"dispatched"`
	Failed     int    `json:"failed"`
}

// Poller drives ingestion for a single source. Each tick reads the chain
// head, scans at most one batch of the confirmed range, persists the decoded
// events, dispatches the newly inserted ones, and advances the cursor. A
// tick that arrives while the previous one is still running is skipped, so
// a source never has two scans in flight.
type Poller struct {
	source  models.SourceConfig
	reader  chain.Reader
	storage storage.Storage
	decoder *decoder.Registry
	router  *handler.Router
	logger  *logrus.Entry

	pollInterval    time.Duration
	dispatchTimeout time.Duration
	maxRetries      int
	onExhausted     ExhaustionFunc

	metricsManager *metrics.Manager

	busy     atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ExhaustionFunc is notified when an event's dispatch failure uses up its
// last allowed attempt
type ExhaustionFunc func(ctx context.Context, event *models.IndexedEvent, cause error)

// PollerOptions carries the shared collaborators and tunables for a poller
type PollerOptions struct {
	Reader          chain.Reader
	Storage         storage.Storage
	Decoder         *decoder.Registry
	Router          *handler.Router
	PollInterval    time.Duration
	DispatchTimeout time.Duration
	MaxRetries      int
	OnExhausted     ExhaustionFunc
	MetricsManager  *metrics.Manager
}

// NewPoller creates a poller for one source
func NewPoller(source models.SourceConfig, opts PollerOptions) *Poller {
	return &Poller{
		source:          source,
		reader:          opts.Reader,
		storage:         opts.Storage,
		decoder:         opts.Decoder,
		router:          opts.Router,
		logger:          utils.ComponentLogger("poller").WithField("source", source.Key()),
		pollInterval:    opts.PollInterval,
		dispatchTimeout: opts.DispatchTimeout,
		maxRetries:      opts.MaxRetries,
		onExhausted:     opts.OnExhausted,
		metricsManager:  opts.MetricsManager,
		stopChan:        make(chan struct{}),
	}
}

// Source returns the source this poller drives
func (p *Poller) Source() models.SourceConfig {
	return p.source
}

// Start launches the polling loop. The first tick runs immediately.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop terminates the polling loop and waits for any in-flight tick
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.tickGuarded(ctx)

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tickGuarded(ctx)
		}
	}
}

// tickGuarded runs a tick unless one is already in flight
func (p *Poller) tickGuarded(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug("Previous tick still running, skipping")
		p.recordTick(TickSkipped, 0)
		return
	}
	defer p.busy.Store(false)

	start := time.Now()
	result, err := p.Tick(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Tick failed")
		p.recordTick(TickError, time.Since(start))
		return
	}

	p.recordTick(result.Outcome, time.Since(start))
}

// Tick performs one poll cycle and returns what happened. Exposed so the
// supervisor can trigger an immediate scan outside the ticker schedule.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	head, err := p.reader.HeadHeight(ctx, p.source.NetworkID)
	if err != nil {
		p.recordCursorError(ctx, err)
		return TickResult{Outcome: TickError}, err
	}

	cursor, err := p.storage.GetCursor(ctx, p.source.NetworkID, p.source.AddressHex(), p.source.Schema)
	if err != nil {
		return TickResult{Outcome: TickError}, err
	}
	if cursor == nil {
		return TickResult{Outcome: TickError}, utils.NewAppError(utils.ErrCodeInternal,
			"Cursor missing for source", p.source.Key())
	}
	if !cursor.IsActive {
		return TickResult{Outcome: TickSkipped}, nil
	}

	fromHeight, toHeight, ok := p.computeRange(head, cursor.LastProcessedHeight)
	if !ok {
		return TickResult{Outcome: TickNoNewRange}, nil
	}

	logs, err := p.reader.FilterLogs(ctx, p.source.NetworkID, p.source.Address, fromHeight, toHeight)
	if err != nil {
		p.recordCursorError(ctx, err)
		return TickResult{Outcome: TickError}, err
	}

	events := p.buildEvents(ctx, logs)

	inserted, err := p.storage.InsertEvents(ctx, events)
	if err != nil {
		p.recordCursorError(ctx, err)
		return TickResult{Outcome: TickError}, err
	}

	dispatched, failed := p.dispatchAll(ctx, inserted)

	// The cursor advances once the range is durably persisted. Dispatch
	// outcomes never gate the advance; failed events stay queryable and
	// the retry sweep owns them from here.
	if err := p.storage.AdvanceCursor(ctx, p.source.NetworkID, p.source.AddressHex(),
		p.source.Schema, toHeight, time.Now()); err != nil {
		return TickResult{Outcome: TickError}, err
	}

	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().UpdateCursor(p.source.Key(), toHeight, head)
	}

	if len(inserted) > 0 {
		p.logger.WithFields(logrus.Fields{
			"from":       fromHeight,
			"to":         toHeight,
			"fetched":    len(logs),
			"inserted":   len(inserted),
			"dispatched": dispatched,
			"failed":     failed,
		}).Info("Indexed range")
	}

	return TickResult{
		Outcome:    TickIndexed,
		FromHeight: fromHeight,
		ToHeight:   toHeight,
		Fetched:    len(logs),
		Inserted:   len(inserted),
		Dispatched: dispatched,
		Failed:     failed,
	}, nil
}

// computeRange derives the next scan window from the chain head and the
// cursor position. Returns ok=false when there is nothing confirmed to scan
// yet, which is the common steady-state outcome between new blocks.
func (p *Poller) computeRange(head, lastProcessed uint64) (fromHeight, toHeight uint64, ok bool) {
	if head < p.source.Confirmations {
		return 0, 0, false
	}
	confirmed := head - p.source.Confirmations

	fromHeight = lastProcessed + 1
	if p.source.StartHeight > fromHeight {
		fromHeight = p.source.StartHeight
	}
	if fromHeight > confirmed {
		return 0, 0, false
	}

	toHeight = fromHeight + p.source.BatchSize - 1
	if toHeight > confirmed {
		toHeight = confirmed
	}

	return fromHeight, toHeight, true
}

// buildEvents converts raw logs into durable event rows. Decode failures
// degrade to the Unknown variant rather than dropping the log; block
// timestamps are resolved once per block and left zero if the lookup fails.
func (p *Poller) buildEvents(ctx context.Context, logs []types.Log) []*models.IndexedEvent {
	timestamps := make(map[common.Hash]time.Time)

	events := make([]*models.IndexedEvent, 0, len(logs))
	for _, log := range logs {
		eventName, args, err := p.decoder.Decode(p.source.Schema, log)
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"tx_hash":   log.TxHash.Hex(),
				"log_index": log.Index,
			}).Debug("Log did not decode, recording as Unknown")
			eventName = models.EventNameUnknown
			args = decoder.UnknownArgs(p.source.Schema, log, err.Error())
		}

		timestamp, cached := timestamps[log.BlockHash]
		if !cached {
			ts, err := p.reader.BlockTimestamp(ctx, p.source.NetworkID, log.BlockHash)
			if err != nil {
				p.logger.WithError(err).WithField("block_hash", log.BlockHash.Hex()).
					Debug("Block timestamp lookup failed")
				ts = time.Time{}
			}
			timestamps[log.BlockHash] = ts
			timestamp = ts
		}

		event := &models.IndexedEvent{
			ID:             utils.CreateEventID(p.source.NetworkID, log.TxHash.Hex(), log.Index),
			NetworkID:      p.source.NetworkID,
			Address:        p.source.AddressHex(),
			EventName:      eventName,
			EventSig:       topicZero(log),
			BlockNumber:    log.BlockNumber,
			BlockHash:      log.BlockHash.Hex(),
			BlockTimestamp: timestamp,
			TxHash:         log.TxHash.Hex(),
			TxIndex:        log.TxIndex,
			LogIndex:       log.Index,
			Topics:         topicStrings(log),
			Data:           common.Bytes2Hex(log.Data),
			Args:           args,
			CreatedAt:      time.Now().UTC(),
		}

		if p.metricsManager != nil {
			p.metricsManager.GetPrometheusMetrics().RecordEventIndexed(p.source.Key(), eventName)
		}

		events = append(events, event)
	}

	return events
}

// dispatchAll routes each newly inserted event through the handler router
// and records the outcome per event. One failing event never blocks the
// others in the batch.
func (p *Poller) dispatchAll(ctx context.Context, events []*models.IndexedEvent) (dispatched, failed int) {
	for _, event := range events {
		if err := p.dispatchOne(ctx, event); err != nil {
			failed++
		} else {
			dispatched++
		}
	}
	return dispatched, failed
}

func (p *Poller) dispatchOne(ctx context.Context, event *models.IndexedEvent) error {
	dispatchCtx := ctx
	if p.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, p.dispatchTimeout)
		defer cancel()
	}

	// Outcome writes survive cancellation of the tick context; a dispatch
	// that already ran must leave its mark either way.
	markCtx := context.WithoutCancel(ctx)

	if err := p.router.Dispatch(dispatchCtx, event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_name": event.EventName,
		}).Warn("Event dispatch failed")

		if markErr := p.storage.MarkEventFailed(markCtx, event.ID, err.Error()); markErr != nil {
			p.logger.WithError(markErr).Error("Failed to record dispatch failure")
		}
		p.recordDispatch("failed")

		if p.onExhausted != nil && p.maxRetries > 0 && event.RetryCount+1 >= p.maxRetries {
			p.onExhausted(markCtx, event, err)
		}
		return err
	}

	if err := p.storage.MarkEventProcessed(markCtx, event.ID, time.Now()); err != nil {
		p.logger.WithError(err).Error("Failed to record dispatch success")
		p.recordDispatch("failed")
		return err
	}

	p.recordDispatch("success")
	return nil
}

func (p *Poller) recordCursorError(ctx context.Context, cause error) {
	if err := p.storage.RecordCursorError(ctx, p.source.NetworkID, p.source.AddressHex(),
		p.source.Schema, cause.Error(), time.Now()); err != nil {
		p.logger.WithError(err).Error("Failed to record cursor error")
	}
}

func (p *Poller) recordTick(outcome string, duration time.Duration) {
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordTick(p.source.Key(), outcome, duration)
	}
}

func (p *Poller) recordDispatch(status string) {
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordDispatch(p.source.Key(), status)
	}
}

func topicZero(log types.Log) string {
	if len(log.Topics) == 0 {
		return ""
	}
	return log.Topics[0].Hex()
}

func topicStrings(log types.Log) []string {
	topics := make([]string, len(log.Topics))
	for i, t := range log.Topics {
		topics[i] = t.Hex()
	}
	return topics
}
