package models

import "time"

// CursorRecord tracks how far ingestion has progressed for one source.
// One row exists per configured source, keyed by the same identity triple
// as the SourceConfig. LastProcessedHeight is monotonically non-decreasing
// and never exceeds chain head minus the source's confirmation depth at the
// time it was written.
type CursorRecord struct {
	NetworkID           uint64     `json:"network_id" db:"network_id"`
	Address             string     `json:"address" db:"address"`
	Schema              SchemaKind `json:"schema" db:"schema"`
	LastProcessedHeight uint64     `json:"last_processed_height" db:"last_processed_height"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	ErrorCount          int        `json:"error_count" db:"error_count"`
	LastError           *string    `json:"last_error,omitempty" db:"last_error"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty" db:"last_error_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}
