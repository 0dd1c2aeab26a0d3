// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/metrics"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// SetMetricsManager attaches a metrics manager for operation instrumentation
func (s *SQLiteStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %d failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// EnsureCursor creates the cursor row for a source if it does not exist and
// returns the current row either way. A fresh cursor starts at the source's
// start height minus one so the first scan begins exactly at start height.
func (s *SQLiteStorage) EnsureCursor(ctx context.Context, source models.SourceConfig) (*models.CursorRecord, error) {
	initial := uint64(0)
	if source.StartHeight > 0 {
		initial = source.StartHeight - 1
	}

	query := `
		INSERT INTO cursors (network_id, address, schema_kind, last_processed_height, is_active)
		VALUES (?, ?, ?, ?, TRUE)
		ON CONFLICT (network_id, address, schema_kind) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		source.NetworkID, source.AddressHex(), string(source.Schema), initial)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to ensure cursor", err.Error())
	}

	return s.GetCursor(ctx, source.NetworkID, source.AddressHex(), source.Schema)
}

// GetCursor retrieves a cursor by its source identity
func (s *SQLiteStorage) GetCursor(ctx context.Context, networkID uint64, address string, schema models.SchemaKind) (*models.CursorRecord, error) {
	query := `
		SELECT network_id, address, schema_kind, last_processed_height, last_sync_at,
		       is_active, error_count, last_error, last_error_at, created_at, updated_at
		FROM cursors WHERE network_id = ? AND address = ? AND schema_kind = ?
	`

	row := s.db.QueryRowContext(ctx, query, networkID, strings.ToLower(address), string(schema))

	cursor, err := scanCursor(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get cursor", err.Error())
	}

	return cursor, nil
}

// ListCursors returns all cursor rows
func (s *SQLiteStorage) ListCursors(ctx context.Context) ([]*models.CursorRecord, error) {
	query := `
		SELECT network_id, address, schema_kind, last_processed_height, last_sync_at,
		       is_active, error_count, last_error, last_error_at, created_at, updated_at
		FROM cursors ORDER BY network_id, address, schema_kind
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list cursors", err.Error())
	}
	defer rows.Close()

	var cursors []*models.CursorRecord
	for rows.Next() {
		cursor, err := scanCursor(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan cursor", err.Error())
		}
		cursors = append(cursors, cursor)
	}

	return cursors, nil
}

// AdvanceCursor moves a cursor forward after a successful scan
func (s *SQLiteStorage) AdvanceCursor(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, height uint64, syncedAt time.Time) error {
	start := time.Now()

	query := `
		UPDATE cursors SET
			last_processed_height = ?, last_sync_at = ?,
			error_count = 0, last_error = NULL, last_error_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE network_id = ? AND address = ? AND schema_kind = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		height, syncedAt.UTC(), networkID, strings.ToLower(address), string(schema))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to advance cursor", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Cursor not found",
			fmt.Sprintf("%d:%s:%s", networkID, address, schema))
	}

	s.recordOperation("update", "cursors", start)
	return nil
}

// RecordCursorError records a failed scan attempt without moving the cursor
func (s *SQLiteStorage) RecordCursorError(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, message string, at time.Time) error {
	query := `
		UPDATE cursors SET
			error_count = error_count + 1, last_error = ?, last_error_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE network_id = ? AND address = ? AND schema_kind = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		message, at.UTC(), networkID, strings.ToLower(address), string(schema))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record cursor error", err.Error())
	}

	return nil
}

// SetCursorActive toggles whether a source's cursor participates in polling
func (s *SQLiteStorage) SetCursorActive(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, active bool) error {
	query := `
		UPDATE cursors SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE network_id = ? AND address = ? AND schema_kind = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		active, networkID, strings.ToLower(address), string(schema))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update cursor state", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Cursor not found",
			fmt.Sprintf("%d:%s:%s", networkID, address, schema))
	}

	return nil
}

// InsertEvents inserts a batch of events in a transaction, skipping any row
// that already exists for the same (network_id, tx_hash, log_index). Only the
// newly inserted events are returned, so a re-scan of an already covered
// range dispatches nothing twice.
func (s *SQLiteStorage) InsertEvents(ctx context.Context, events []*models.IndexedEvent) ([]*models.IndexedEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events
		(id, network_id, address, event_name, event_sig, block_number, block_hash,
		 block_timestamp, tx_hash, tx_index, log_index, topics, data, args,
		 processed, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, 0)
	`)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	var inserted []*models.IndexedEvent
	for _, event := range events {
		topicsJSON, err := json.Marshal(event.Topics)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event topics", err.Error())
		}
		argsJSON, err := json.Marshal(event.Args)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event args", err.Error())
		}

		result, err := stmt.ExecContext(ctx,
			event.ID, event.NetworkID, event.Address, event.EventName, event.EventSig,
			event.BlockNumber, event.BlockHash, nullableTime(event.BlockTimestamp),
			event.TxHash, event.TxIndex, event.LogIndex,
			string(topicsJSON), event.Data, string(argsJSON))
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert event in batch", err.Error())
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
		}
		if rowsAffected > 0 {
			inserted = append(inserted, event)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	s.logger.WithFields(logrus.Fields{
		"batch":    len(events),
		"inserted": len(inserted),
	}).Debug("Inserted events batch")

	s.recordOperation("insert", "events", start)
	return inserted, nil
}

// GetEvent retrieves a single event by ID
func (s *SQLiteStorage) GetEvent(ctx context.Context, id string) (*models.IndexedEvent, error) {
	query := eventSelectColumns + " FROM events WHERE id = ?"

	row := s.db.QueryRowContext(ctx, query, id)

	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event", err.Error())
	}

	return event, nil
}

// GetEvents retrieves events based on filter
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.IndexedEvent, error) {
	query := eventSelectColumns + " FROM events WHERE 1=1"
	where, args := s.buildEventFilter(filter)
	query += where

	query += " ORDER BY block_number DESC, log_index ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query events", err.Error())
	}
	defer rows.Close()

	var events []*models.IndexedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan event", err.Error())
		}
		events = append(events, event)
	}

	return events, nil
}

// CountEvents returns the count of events matching filter
func (s *SQLiteStorage) CountEvents(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM events WHERE 1=1"
	where, args := s.buildEventFilter(filter)
	query += where

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}

	return count, nil
}

// buildEventFilter translates an EventFilter into a WHERE clause fragment
func (s *SQLiteStorage) buildEventFilter(filter models.EventFilter) (string, []interface{}) {
	var query strings.Builder
	args := []interface{}{}

	if filter.NetworkID != nil {
		query.WriteString(" AND network_id = ?")
		args = append(args, *filter.NetworkID)
	}
	if filter.Address != nil {
		query.WriteString(" AND address = ?")
		args = append(args, strings.ToLower(*filter.Address))
	}
	if filter.EventName != nil {
		query.WriteString(" AND event_name = ?")
		args = append(args, *filter.EventName)
	}
	if filter.FromBlock != nil {
		query.WriteString(" AND block_number >= ?")
		args = append(args, *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		query.WriteString(" AND block_number <= ?")
		args = append(args, *filter.ToBlock)
	}
	if filter.Processed != nil {
		query.WriteString(" AND processed = ?")
		args = append(args, *filter.Processed)
	}
	if filter.Status != nil {
		switch *filter.Status {
		case models.EventStatusPending:
			query.WriteString(" AND processed = FALSE AND processing_error IS NULL")
		case models.EventStatusFailed:
			query.WriteString(" AND processed = FALSE AND processing_error IS NOT NULL AND retry_count < ?")
			args = append(args, s.config.RetryCap)
		case models.EventStatusExhausted:
			query.WriteString(" AND processed = FALSE AND retry_count >= ?")
			args = append(args, s.config.RetryCap)
		case models.EventStatusProcessed:
			query.WriteString(" AND processed = TRUE")
		}
	}

	return query.String(), args
}

// MarkEventProcessed records a successful dispatch
func (s *SQLiteStorage) MarkEventProcessed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE events SET processed = TRUE, processed_at = ?, processing_error = NULL
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark event processed", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Event not found", id)
	}

	return nil
}

// MarkEventFailed records a failed dispatch attempt. The predicate on
// processed keeps a late failure from clobbering a concurrent success.
func (s *SQLiteStorage) MarkEventFailed(ctx context.Context, id string, message string) error {
	query := `
		UPDATE events SET processing_error = ?, retry_count = retry_count + 1
		WHERE id = ? AND processed = FALSE
	`

	_, err := s.db.ExecContext(ctx, query, message, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark event failed", err.Error())
	}

	return nil
}

// GetRetryableEvents returns failed events still under the retry cap,
// oldest first
func (s *SQLiteStorage) GetRetryableEvents(ctx context.Context, limit, maxRetries int) ([]*models.IndexedEvent, error) {
	query := eventSelectColumns + `
		FROM events
		WHERE processed = FALSE AND processing_error IS NOT NULL AND retry_count < ?
		ORDER BY block_number ASC, log_index ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, maxRetries, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query retryable events", err.Error())
	}
	defer rows.Close()

	var events []*models.IndexedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan event", err.Error())
		}
		events = append(events, event)
	}

	return events, nil
}

// CountExhaustedEvents counts failed events at or over the retry cap
func (s *SQLiteStorage) CountExhaustedEvents(ctx context.Context, maxRetries int) (int64, error) {
	query := `
		SELECT COUNT(*) FROM events
		WHERE processed = FALSE AND retry_count >= ?
	`

	var count int64
	err := s.db.QueryRowContext(ctx, query, maxRetries).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count exhausted events", err.Error())
	}

	return count, nil
}

// UpsertPayment saves business state for a payment event
func (s *SQLiteStorage) UpsertPayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT OR REPLACE INTO payments
		(event_id, network_id, order_id, payer, token, amount, tx_hash, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		payment.EventID, payment.NetworkID, payment.OrderID, payment.Payer,
		payment.Token, payment.Amount, payment.TxHash, nullableTime(payment.ConfirmedAt))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert payment", err.Error())
	}

	return nil
}

// GetPayment retrieves a payment by its source event ID
func (s *SQLiteStorage) GetPayment(ctx context.Context, eventID string) (*models.Payment, error) {
	query := `
		SELECT event_id, network_id, order_id, payer, token, amount, tx_hash, confirmed_at
		FROM payments WHERE event_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, eventID)

	var payment models.Payment
	var confirmedAt sql.NullTime
	err := row.Scan(&payment.EventID, &payment.NetworkID, &payment.OrderID,
		&payment.Payer, &payment.Token, &payment.Amount, &payment.TxHash, &confirmedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get payment", err.Error())
	}

	if confirmedAt.Valid {
		payment.ConfirmedAt = confirmedAt.Time
	}

	return &payment, nil
}

// UpsertTokenPurchase saves business state for a token sale event
func (s *SQLiteStorage) UpsertTokenPurchase(ctx context.Context, purchase *models.TokenPurchase) error {
	query := `
		INSERT OR REPLACE INTO token_purchases
		(event_id, network_id, buyer, amount, cost, tx_hash, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		purchase.EventID, purchase.NetworkID, purchase.Buyer, purchase.Amount,
		purchase.Cost, purchase.TxHash, nullableTime(purchase.PurchasedAt))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert token purchase", err.Error())
	}

	return nil
}

// GetTokenPurchase retrieves a token purchase by its source event ID
func (s *SQLiteStorage) GetTokenPurchase(ctx context.Context, eventID string) (*models.TokenPurchase, error) {
	query := `
		SELECT event_id, network_id, buyer, amount, cost, tx_hash, purchased_at
		FROM token_purchases WHERE event_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, eventID)

	var purchase models.TokenPurchase
	var purchasedAt sql.NullTime
	err := row.Scan(&purchase.EventID, &purchase.NetworkID, &purchase.Buyer,
		&purchase.Amount, &purchase.Cost, &purchase.TxHash, &purchasedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get token purchase", err.Error())
	}

	if purchasedAt.Valid {
		purchase.PurchasedAt = purchasedAt.Time
	}

	return &purchase, nil
}

func (s *SQLiteStorage) recordOperation(operation, table string, start time.Time) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
			operation, table, "success", time.Since(start))
	}
}
