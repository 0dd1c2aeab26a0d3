// File: internal/storage/migrations.go
package storage

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetSQLiteMigrations returns migrations for SQLite
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     1,
			Description: "Create cursors table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cursors (
					network_id INTEGER NOT NULL,
					address TEXT NOT NULL,
					schema_kind TEXT NOT NULL,
					last_processed_height INTEGER NOT NULL DEFAULT 0,
					last_sync_at DATETIME,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					error_count INTEGER NOT NULL DEFAULT 0,
					last_error TEXT,
					last_error_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (network_id, address, schema_kind)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					network_id INTEGER NOT NULL,
					address TEXT NOT NULL,
					event_name TEXT NOT NULL,
					event_sig TEXT NOT NULL,
					block_number INTEGER NOT NULL,
					block_hash TEXT NOT NULL,
					block_timestamp DATETIME,
					tx_hash TEXT NOT NULL,
					tx_index INTEGER NOT NULL,
					log_index INTEGER NOT NULL,
					topics TEXT NOT NULL,
					data TEXT NOT NULL,
					args TEXT NOT NULL,
					processed BOOLEAN NOT NULL DEFAULT FALSE,
					processed_at DATETIME,
					processing_error TEXT,
					retry_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     3,
			Description: "Create event indexes",
			SQL: `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup ON events(network_id, tx_hash, log_index);
				CREATE INDEX IF NOT EXISTS idx_events_address ON events(network_id, address);
				CREATE INDEX IF NOT EXISTS idx_events_block ON events(block_number);
				CREATE INDEX IF NOT EXISTS idx_events_name ON events(event_name);
				CREATE INDEX IF NOT EXISTS idx_events_retry ON events(processed, retry_count);
			`,
		},
		{
			Version:     4,
			Description: "Create payments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS payments (
					event_id TEXT PRIMARY KEY,
					network_id INTEGER NOT NULL,
					order_id TEXT NOT NULL,
					payer TEXT NOT NULL,
					token TEXT NOT NULL,
					amount TEXT NOT NULL,
					tx_hash TEXT NOT NULL,
					confirmed_at DATETIME,
					FOREIGN KEY (event_id) REFERENCES events(id)
				);
				CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id);
			`,
		},
		{
			Version:     5,
			Description: "Create token purchases table",
			SQL: `
				CREATE TABLE IF NOT EXISTS token_purchases (
					event_id TEXT PRIMARY KEY,
					network_id INTEGER NOT NULL,
					buyer TEXT NOT NULL,
					amount TEXT NOT NULL,
					cost TEXT NOT NULL,
					tx_hash TEXT NOT NULL,
					purchased_at DATETIME,
					FOREIGN KEY (event_id) REFERENCES events(id)
				);
				CREATE INDEX IF NOT EXISTS idx_purchases_buyer ON token_purchases(buyer);
			`,
		},
	}
}

// GetPostgresMigrations returns migrations for PostgreSQL
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     1,
			Description: "Create cursors table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cursors (
					network_id BIGINT NOT NULL,
					address VARCHAR(42) NOT NULL,
					schema_kind VARCHAR(32) NOT NULL,
					last_processed_height BIGINT NOT NULL DEFAULT 0,
					last_sync_at TIMESTAMP,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					error_count INTEGER NOT NULL DEFAULT 0,
					last_error TEXT,
					last_error_at TIMESTAMP,
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (network_id, address, schema_kind)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id VARCHAR(66) PRIMARY KEY,
					network_id BIGINT NOT NULL,
					address VARCHAR(42) NOT NULL,
					event_name VARCHAR(255) NOT NULL,
					event_sig VARCHAR(255) NOT NULL,
					block_number BIGINT NOT NULL,
					block_hash VARCHAR(66) NOT NULL,
					block_timestamp TIMESTAMP,
					tx_hash VARCHAR(66) NOT NULL,
					tx_index INTEGER NOT NULL,
					log_index INTEGER NOT NULL,
					topics TEXT NOT NULL,
					data TEXT NOT NULL,
					args TEXT NOT NULL,
					processed BOOLEAN NOT NULL DEFAULT FALSE,
					processed_at TIMESTAMP,
					processing_error TEXT,
					retry_count INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     3,
			Description: "Create event indexes",
			SQL: `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup ON events(network_id, tx_hash, log_index);
				CREATE INDEX IF NOT EXISTS idx_events_address ON events(network_id, address);
				CREATE INDEX IF NOT EXISTS idx_events_block ON events(block_number);
				CREATE INDEX IF NOT EXISTS idx_events_name ON events(event_name);
				CREATE INDEX IF NOT EXISTS idx_events_retry ON events(processed, retry_count);
			`,
		},
		{
			Version:     4,
			Description: "Create payments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS payments (
					event_id VARCHAR(66) PRIMARY KEY REFERENCES events(id),
					network_id BIGINT NOT NULL,
					order_id VARCHAR(66) NOT NULL,
					payer VARCHAR(42) NOT NULL,
					token VARCHAR(42) NOT NULL,
					amount TEXT NOT NULL,
					tx_hash VARCHAR(66) NOT NULL,
					confirmed_at TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id);
			`,
		},
		{
			Version:     5,
			Description: "Create token purchases table",
			SQL: `
				CREATE TABLE IF NOT EXISTS token_purchases (
					event_id VARCHAR(66) PRIMARY KEY REFERENCES events(id),
					network_id BIGINT NOT NULL,
					buyer VARCHAR(42) NOT NULL,
					amount TEXT NOT NULL,
					cost TEXT NOT NULL,
					tx_hash VARCHAR(66) NOT NULL,
					purchased_at TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_purchases_buyer ON token_purchases(buyer);
			`,
		},
	}
}
