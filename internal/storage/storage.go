// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/chain-event-indexer/internal/metrics"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
)

// Storage defines the interface for the indexer's durable state: one cursor
// row per source and one event row per on-chain log ever observed, plus the
// business-state rows the built-in handlers maintain.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error
	SetMetricsManager(m *metrics.Manager)

	// Cursor operations. A cursor row is keyed by the source identity
	// triple; all writes to one row are serialized through its owning
	// poller.
	EnsureCursor(ctx context.Context, source models.SourceConfig) (*models.CursorRecord, error)
	GetCursor(ctx context.Context, networkID uint64, address string, schema models.SchemaKind) (*models.CursorRecord, error)
	ListCursors(ctx context.Context) ([]*models.CursorRecord, error)
	// AdvanceCursor records a successful scan: moves the height, stamps
	// last_sync_at, resets error_count and clears last_error.
	AdvanceCursor(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, height uint64, syncedAt time.Time) error
	// RecordCursorError records a failed scan attempt without touching
	// the height.
	RecordCursorError(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, message string, at time.Time) error
	SetCursorActive(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, active bool) error

	// Event operations. InsertEvents performs dedup-on-write keyed by
	// (network_id, tx_hash, log_index): duplicates are silently skipped
	// and only the newly inserted events are returned.
	InsertEvents(ctx context.Context, events []*models.IndexedEvent) ([]*models.IndexedEvent, error)
	GetEvent(ctx context.Context, id string) (*models.IndexedEvent, error)
	GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.IndexedEvent, error)
	CountEvents(ctx context.Context, filter models.EventFilter) (int64, error)
	// MarkEventProcessed records a successful dispatch and clears any
	// previous processing error.
	MarkEventProcessed(ctx context.Context, id string, at time.Time) error
	// MarkEventFailed records a failed dispatch and increments the retry
	// counter. The update is conditional on processed=false so it cannot
	// race a concurrent success; a no-op is not an error.
	MarkEventFailed(ctx context.Context, id string, message string) error
	// GetRetryableEvents selects failed, unprocessed events below the
	// retry cap, oldest first.
	GetRetryableEvents(ctx context.Context, limit, maxRetries int) ([]*models.IndexedEvent, error)
	CountExhaustedEvents(ctx context.Context, maxRetries int) (int64, error)

	// Business state written by the built-in handlers. Keyed by event ID,
	// so re-applying an event is idempotent by construction.
	UpsertPayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, eventID string) (*models.Payment, error)
	UpsertTokenPurchase(ctx context.Context, purchase *models.TokenPurchase) error
	GetTokenPurchase(ctx context.Context, eventID string) (*models.TokenPurchase, error)
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	// RetryCap is the dispatch retry cap, used to translate the
	// "exhausted" status filter into SQL.
	RetryCap int `json:"retry_cap"`
}
