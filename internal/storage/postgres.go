// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/metrics"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// SetMetricsManager attaches a metrics manager for operation instrumentation
func (s *PostgreSQLStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgreSQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgreSQLStorage) Migrate() error {
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

// EnsureCursor creates the cursor row for a source if it does not exist
func (s *PostgreSQLStorage) EnsureCursor(ctx context.Context, source models.SourceConfig) (*models.CursorRecord, error) {
	initial := uint64(0)
	if source.StartHeight > 0 {
		initial = source.StartHeight - 1
	}

	query := `
		INSERT INTO cursors (network_id, address, schema_kind, last_processed_height, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
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
func (s *PostgreSQLStorage) GetCursor(ctx context.Context, networkID uint64, address string, schema models.SchemaKind) (*models.CursorRecord, error) {
	query := `
		SELECT network_id, address, schema_kind, last_processed_height, last_sync_at,
		       is_active, error_count, last_error, last_error_at, created_at, updated_at
		FROM cursors WHERE network_id = $1 AND address = $2 AND schema_kind = $3
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
func (s *PostgreSQLStorage) ListCursors(ctx context.Context) ([]*models.CursorRecord, error) {
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
func (s *PostgreSQLStorage) AdvanceCursor(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, height uint64, syncedAt time.Time) error {
	start := time.Now()

	query := `
		UPDATE cursors SET
			last_processed_height = $1, last_sync_at = $2,
			error_count = 0, last_error = NULL, last_error_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE network_id = $3 AND address = $4 AND schema_kind = $5
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
func (s *PostgreSQLStorage) RecordCursorError(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, message string, at time.Time) error {
	query := `
		UPDATE cursors SET
			error_count = error_count + 1, last_error = $1, last_error_at = $2,
			updated_at = CURRENT_TIMESTAMP
		WHERE network_id = $3 AND address = $4 AND schema_kind = $5
	`

	_, err := s.db.ExecContext(ctx, query,
		message, at.UTC(), networkID, strings.ToLower(address), string(schema))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record cursor error", err.Error())
	}

	return nil
}

// SetCursorActive toggles whether a source's cursor participates in polling
func (s *PostgreSQLStorage) SetCursorActive(ctx context.Context, networkID uint64, address string, schema models.SchemaKind, active bool) error {
	query := `
		UPDATE cursors SET is_active = $1, updated_at = CURRENT_TIMESTAMP
		WHERE network_id = $2 AND address = $3 AND schema_kind = $4
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

// InsertEvents inserts a batch of events, skipping rows that already exist
// for the same (network_id, tx_hash, log_index). Returns newly inserted
// events only.
func (s *PostgreSQLStorage) InsertEvents(ctx context.Context, events []*models.IndexedEvent) ([]*models.IndexedEvent, error) {
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
		INSERT INTO events
		(id, network_id, address, event_name, event_sig, block_number, block_hash,
		 block_timestamp, tx_hash, tx_index, log_index, topics, data, args,
		 processed, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE, 0)
		ON CONFLICT (network_id, tx_hash, log_index) DO NOTHING
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
func (s *PostgreSQLStorage) GetEvent(ctx context.Context, id string) (*models.IndexedEvent, error) {
	query := eventSelectColumns + " FROM events WHERE id = $1"

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
func (s *PostgreSQLStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.IndexedEvent, error) {
	query := eventSelectColumns + " FROM events WHERE 1=1"
	where, args := s.buildEventFilter(filter, 1)
	query += where
	argIndex := len(args) + 1

	query += " ORDER BY block_number DESC, log_index ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
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
func (s *PostgreSQLStorage) CountEvents(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM events WHERE 1=1"
	where, args := s.buildEventFilter(filter, 1)
	query += where

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}

	return count, nil
}

func (s *PostgreSQLStorage) buildEventFilter(filter models.EventFilter, argIndex int) (string, []interface{}) {
	var query strings.Builder
	args := []interface{}{}

	add := func(clause string, value interface{}) {
		query.WriteString(fmt.Sprintf(clause, argIndex))
		args = append(args, value)
		argIndex++
	}

	if filter.NetworkID != nil {
		add(" AND network_id = $%d", *filter.NetworkID)
	}
	if filter.Address != nil {
		add(" AND address = $%d", strings.ToLower(*filter.Address))
	}
	if filter.EventName != nil {
		add(" AND event_name = $%d", *filter.EventName)
	}
	if filter.FromBlock != nil {
		add(" AND block_number >= $%d", *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		add(" AND block_number <= $%d", *filter.ToBlock)
	}
	if filter.Processed != nil {
		add(" AND processed = $%d", *filter.Processed)
	}
	if filter.Status != nil {
		switch *filter.Status {
		case models.EventStatusPending:
			query.WriteString(" AND processed = FALSE AND processing_error IS NULL")
		case models.EventStatusFailed:
			add(" AND processed = FALSE AND processing_error IS NOT NULL AND retry_count < $%d", s.config.RetryCap)
		case models.EventStatusExhausted:
			add(" AND processed = FALSE AND retry_count >= $%d", s.config.RetryCap)
		case models.EventStatusProcessed:
			query.WriteString(" AND processed = TRUE")
		}
	}

	return query.String(), args
}

// MarkEventProcessed records a successful dispatch
func (s *PostgreSQLStorage) MarkEventProcessed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE events SET processed = TRUE, processed_at = $1, processing_error = NULL
		WHERE id = $2
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

// MarkEventFailed records a failed dispatch attempt
func (s *PostgreSQLStorage) MarkEventFailed(ctx context.Context, id string, message string) error {
	query := `
		UPDATE events SET processing_error = $1, retry_count = retry_count + 1
		WHERE id = $2 AND processed = FALSE
	`

	_, err := s.db.ExecContext(ctx, query, message, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark event failed", err.Error())
	}

	return nil
}

// GetRetryableEvents returns failed events still under the retry cap,
// oldest first
func (s *PostgreSQLStorage) GetRetryableEvents(ctx context.Context, limit, maxRetries int) ([]*models.IndexedEvent, error) {
	query := eventSelectColumns + `
		FROM events
		WHERE processed = FALSE AND processing_error IS NOT NULL AND retry_count < $1
		ORDER BY block_number ASC, log_index ASC
		LIMIT $2
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
func (s *PostgreSQLStorage) CountExhaustedEvents(ctx context.Context, maxRetries int) (int64, error) {
	query := `
		SELECT COUNT(*) FROM events
		WHERE processed = FALSE AND retry_count >= $1
	`

	var count int64
	err := s.db.QueryRowContext(ctx, query, maxRetries).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count exhausted events", err.Error())
	}

	return count, nil
}

// UpsertPayment saves business state for a payment event
func (s *PostgreSQLStorage) UpsertPayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments
		(event_id, network_id, order_id, payer, token, amount, tx_hash, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO UPDATE SET
			order_id = EXCLUDED.order_id, payer = EXCLUDED.payer,
			token = EXCLUDED.token, amount = EXCLUDED.amount,
			tx_hash = EXCLUDED.tx_hash, confirmed_at = EXCLUDED.confirmed_at
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
func (s *PostgreSQLStorage) GetPayment(ctx context.Context, eventID string) (*models.Payment, error) {
	query := `
		SELECT event_id, network_id, order_id, payer, token, amount, tx_hash, confirmed_at
		FROM payments WHERE event_id = $1
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
func (s *PostgreSQLStorage) UpsertTokenPurchase(ctx context.Context, purchase *models.TokenPurchase) error {
	query := `
		INSERT INTO token_purchases
		(event_id, network_id, buyer, amount, cost, tx_hash, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO UPDATE SET
			buyer = EXCLUDED.buyer, amount = EXCLUDED.amount,
			cost = EXCLUDED.cost, tx_hash = EXCLUDED.tx_hash,
			purchased_at = EXCLUDED.purchased_at
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
func (s *PostgreSQLStorage) GetTokenPurchase(ctx context.Context, eventID string) (*models.TokenPurchase, error) {
	query := `
		SELECT event_id, network_id, buyer, amount, cost, tx_hash, purchased_at
		FROM token_purchases WHERE event_id = $1
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

func (s *PostgreSQLStorage) recordOperation(operation, table string, start time.Time) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
			operation, table, "success", time.Since(start))
	}
}
