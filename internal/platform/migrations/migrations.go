// Package migrations holds the SQL schema for the PostgreSQL store and a
// helper to apply it. Statements are idempotent so Apply can run at every
// startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS sb_users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL,
		hive_account TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		about TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		custodial BOOLEAN NOT NULL DEFAULT FALSE,
		role TEXT NOT NULL DEFAULT 'user',
		password_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT sb_users_username_key UNIQUE (username)
	)`,
	`CREATE TABLE IF NOT EXISTS sb_custodial_accounts (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES sb_users(id),
		hive_account TEXT NOT NULL,
		public_key TEXT NOT NULL,
		encrypted_posting_key BYTEA NOT NULL,
		encrypted_active_key BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT sb_custodial_hive_key UNIQUE (hive_account)
	)`,
	`CREATE TABLE IF NOT EXISTS sb_predictions (
		id UUID PRIMARY KEY,
		author TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		outcomes JSONB NOT NULL,
		status TEXT NOT NULL,
		stake_symbol TEXT NOT NULL,
		min_stake DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_stake DOUBLE PRECISION NOT NULL DEFAULT 0,
		fee_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		escrow_account TEXT NOT NULL,
		winning_outcome_id TEXT NOT NULL DEFAULT '',
		locks_at TIMESTAMPTZ NOT NULL,
		settled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sb_stakes (
		id UUID PRIMARY KEY,
		prediction_id UUID NOT NULL REFERENCES sb_predictions(id),
		outcome_id TEXT NOT NULL,
		account TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		symbol TEXT NOT NULL,
		tx_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		payout DOUBLE PRECISION NOT NULL DEFAULT 0,
		payout_tx_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT sb_stakes_account_key UNIQUE (prediction_id, account)
	)`,
	`CREATE TABLE IF NOT EXISTS sb_leaderboard (
		account TEXT PRIMARY KEY,
		stake_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		settled BIGINT NOT NULL DEFAULT 0,
		wins BIGINT NOT NULL DEFAULT 0,
		win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		net_payout DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sb_price_feeds (
		id UUID PRIMARY KEY,
		base_asset TEXT NOT NULL,
		quote_asset TEXT NOT NULL,
		pair TEXT NOT NULL,
		update_interval TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT sb_price_feeds_pair_key UNIQUE (pair)
	)`,
	`CREATE TABLE IF NOT EXISTS sb_price_feed_snapshots (
		id UUID PRIMARY KEY,
		feed_id UUID NOT NULL REFERENCES sb_price_feeds(id),
		price DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL,
		collected_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sb_soft_posts (
		id UUID PRIMARY KEY,
		author TEXT NOT NULL,
		permlink TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		tags JSONB NOT NULL DEFAULT '[]',
		community TEXT NOT NULL DEFAULT '',
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT sb_soft_posts_permlink_key UNIQUE (author, permlink)
	)`,
	`CREATE TABLE IF NOT EXISTS sb_notifications (
		id UUID PRIMARY KEY,
		account TEXT NOT NULL,
		kind TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		ref TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sb_chain_cursors (
		name TEXT PRIMARY KEY,
		block_num BIGINT NOT NULL DEFAULT 0
	)`,
}

// Apply runs every schema statement in order against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
