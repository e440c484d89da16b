package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"walletflow/internal/config"
)

func InitDB(cfg config.DBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	// Create tables if they don't exist
	if err = CreateTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return db, nil
}

func CreateTables(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role VARCHAR(16) NOT NULL DEFAULT 'user',
			account_status VARCHAR(16) NOT NULL DEFAULT 'active',
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT valid_role CHECK (role IN ('user', 'agent', 'admin')),
			CONSTRAINT valid_account_status CHECK (account_status IN ('active', 'pending', 'blocked', 'suspended'))
		);

		CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			balance BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT non_negative_balance CHECK (balance >= 0)
		);

		CREATE TABLE IF NOT EXISTS money_requests (
			id TEXT PRIMARY KEY,
			from_user_id TEXT NOT NULL REFERENCES users(id),
			to_user_id TEXT NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL,
			description VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT positive_amount CHECK (amount > 0),
			CONSTRAINT distinct_parties CHECK (from_user_id <> to_user_id),
			CONSTRAINT valid_request_status CHECK (status IN ('pending', 'approved', 'rejected', 'cancelled'))
		);

		CREATE TABLE IF NOT EXISTS payment_intents (
			id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL,
			direction VARCHAR(16) NOT NULL,
			status VARCHAR(24) NOT NULL DEFAULT 'initiated',
			gateway_reference TEXT NOT NULL DEFAULT '',
			failure_reason VARCHAR(64) NOT NULL DEFAULT '',
			new_balance BIGINT,
			verified_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT positive_payment_amount CHECK (amount > 0),
			CONSTRAINT valid_direction CHECK (direction IN ('deposit', 'withdrawal')),
			CONSTRAINT valid_payment_status CHECK (status IN ('initiated', 'pending_verification', 'completed', 'failed', 'cancelled'))
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			from_user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
			to_user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(20) NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT valid_transaction_type CHECK (type IN ('transfer', 'deposit', 'withdrawal'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_intents_reference ON payment_intents(gateway_reference) WHERE gateway_reference <> '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_transfer_reference ON transactions(reference) WHERE type = 'transfer';
		CREATE INDEX IF NOT EXISTS idx_money_requests_users ON money_requests(from_user_id, to_user_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_users ON transactions(from_user_id, to_user_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);
	`

	_, err := db.Exec(query)
	return err
}
