package models

import "time"

// Event processing status names used by filters and the operator API
const (
	EventStatusPending   = "pending"   // processed=false, no error yet
	EventStatusFailed    = "failed"    // processed=false, error set, below retry cap
	EventStatusExhausted = "exhausted" // processed=false, error set, at or above retry cap
	EventStatusProcessed = "processed"
)

// IndexedEvent is the durable record of one on-chain log. The
// (NetworkID, TxHash, LogIndex) triple is the dedup key: rescanning a range
// never produces a second row for the same log. Rows are never deleted.
type IndexedEvent struct {
	ID              string      `json:"id" db:"id"`
	NetworkID       uint64      `json:"network_id" db:"network_id"`
	Address         string      `json:"address" db:"address"`
	EventName       string      `json:"event_name" db:"event_name"`
	EventSig        string      `json:"event_signature" db:"event_signature"`
	BlockNumber     uint64      `json:"block_number" db:"block_number"`
	BlockHash       string      `json:"block_hash" db:"block_hash"`
	BlockTimestamp  time.Time   `json:"block_timestamp" db:"block_timestamp"`
	TxHash          string      `json:"tx_hash" db:"tx_hash"`
	TxIndex         uint        `json:"tx_index" db:"tx_index"`
	LogIndex        uint        `json:"log_index" db:"log_index"`
	Topics          []string    `json:"topics" db:"topics"`
	Data            string      `json:"data" db:"data"`
	Args            DecodedArgs `json:"args" db:"args"`
	Processed       bool        `json:"processed" db:"processed"`
	ProcessedAt     *time.Time  `json:"processed_at,omitempty" db:"processed_at"`
	ProcessingError *string     `json:"processing_error,omitempty" db:"processing_error"`
	RetryCount      int         `json:"retry_count" db:"retry_count"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// Status derives the processing status of the event given the retry cap
func (e *IndexedEvent) Status(maxRetries int) string {
	switch {
	case e.Processed:
		return EventStatusProcessed
	case e.ProcessingError == nil:
		return EventStatusPending
	case e.RetryCount >= maxRetries:
		return EventStatusExhausted
	default:
		return EventStatusFailed
	}
}

// EventFilter for querying indexed events
type EventFilter struct {
	NetworkID *uint64 `json:"network_id,omitempty"`
	Address   *string `json:"address,omitempty"`
	EventName *string `json:"event_name,omitempty"`
	FromBlock *uint64 `json:"from_block,omitempty"`
	ToBlock   *uint64 `json:"to_block,omitempty"`
	Processed *bool   `json:"processed,omitempty"`
	Status    *string `json:"status,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	Offset    int     `json:"offset,omitempty"`
}
