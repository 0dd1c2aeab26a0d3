// File: internal/storage/scan.go
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/smartdevs17/chain-event-indexer/internal/models"
)

const eventSelectColumns = `
	SELECT id, network_id, address, event_name, event_sig, block_number, block_hash,
	       block_timestamp, tx_hash, tx_index, log_index, topics, data, args,
	       processed, processed_at, processing_error, retry_count, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.IndexedEvent, error) {
	var event models.IndexedEvent
	var blockTimestamp sql.NullTime
	var processedAt sql.NullTime
	var processingError sql.NullString
	var topicsJSON, argsJSON string

	err := row.Scan(&event.ID, &event.NetworkID, &event.Address, &event.EventName,
		&event.EventSig, &event.BlockNumber, &event.BlockHash, &blockTimestamp,
		&event.TxHash, &event.TxIndex, &event.LogIndex, &topicsJSON, &event.Data,
		&argsJSON, &event.Processed, &processedAt, &processingError,
		&event.RetryCount, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(topicsJSON), &event.Topics); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(argsJSON), &event.Args); err != nil {
		return nil, err
	}

	if blockTimestamp.Valid {
		event.BlockTimestamp = blockTimestamp.Time
	}
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	if processingError.Valid {
		event.ProcessingError = &processingError.String
	}

	return &event, nil
}

func scanCursor(row rowScanner) (*models.CursorRecord, error) {
	var cursor models.CursorRecord
	var lastSyncAt, lastErrorAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(&cursor.NetworkID, &cursor.Address, &cursor.Schema,
		&cursor.LastProcessedHeight, &lastSyncAt, &cursor.IsActive,
		&cursor.ErrorCount, &lastError, &lastErrorAt,
		&cursor.CreatedAt, &cursor.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastSyncAt.Valid {
		cursor.LastSyncAt = &lastSyncAt.Time
	}
	if lastError.Valid {
		cursor.LastError = &lastError.String
	}
	if lastErrorAt.Valid {
		cursor.LastErrorAt = &lastErrorAt.Time
	}

	return &cursor, nil
}

// nullableTime maps a zero time to SQL NULL
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
