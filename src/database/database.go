package database

import (
	"database/sql"
	"fmt"

	"github.com/username/ledgerfolio/backend/src/logger"
	_ "modernc.org/sqlite"
)

// InitDB opens the sqlite database and ensures the schema. The handle is
// returned to the caller and passed explicitly into each store; there is no
// process-wide database singleton.
func InitDB(databasePath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", databasePath, err)
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.", "databasePath", databasePath)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	createTableStatement := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		identity_key TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		account_ref TEXT NOT NULL,
		symbol TEXT,
		normalized_symbol TEXT,
		security_id TEXT,
		transaction_class TEXT NOT NULL,
		event_time TIMESTAMP NOT NULL,
		date_local TEXT NOT NULL,
		timezone_assumed TEXT,
		quantity REAL NOT NULL DEFAULT 0,
		price REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		amount REAL NOT NULL DEFAULT 0,
		currency TEXT,
		provider_tx_id TEXT,
		tiebreaker TEXT,
		is_option BOOLEAN NOT NULL DEFAULT FALSE,
		option_expired BOOLEAN NOT NULL DEFAULT FALSE,
		raw_text TEXT,
		UNIQUE(provider, identity_key)
	);

	CREATE TABLE IF NOT EXISTS open_lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		currency TEXT NOT NULL,
		direction TEXT NOT NULL,
		original_quantity REAL NOT NULL,
		remaining_quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		entry_fee REAL NOT NULL DEFAULT 0,
		source_transaction_ref TEXT NOT NULL,
		synthetic BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(symbol, currency, direction, source_transaction_ref)
	);

	CREATE TABLE IF NOT EXISTS completed_trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		currency TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_quantity REAL NOT NULL,
		weighted_entry_price REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_quantity REAL NOT NULL,
		weighted_exit_price REAL NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		entry_fee_total REAL NOT NULL DEFAULT 0,
		exit_fee_total REAL NOT NULL DEFAULT 0,
		days_held INTEGER NOT NULL DEFAULT 0,
		pnl_amount REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		win_flag BOOLEAN NOT NULL,
		option_expired BOOLEAN NOT NULL DEFAULT FALSE,
		synthetic BOOLEAN NOT NULL DEFAULT FALSE,
		entry_transaction_refs TEXT,
		exit_transaction_ref TEXT
	);

	CREATE TABLE IF NOT EXISTS flow_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		account_ref TEXT NOT NULL,
		flow_type TEXT NOT NULL,
		is_external_flow BOOLEAN NOT NULL,
		event_time TIMESTAMP NOT NULL,
		amount REAL NOT NULL,
		currency TEXT,
		provider_tx_id TEXT,
		inferred BOOLEAN NOT NULL DEFAULT FALSE,
		authoritative BOOLEAN NOT NULL DEFAULT FALSE,
		raw_text TEXT
	);
	`

	if _, err := db.Exec(createTableStatement); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
