// Package storage contains PostgreSQL schema migrations for the credential
// core. These migrations create and maintain the schema required for all
// storage operations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MigratePostgres applies schema migrations to the PostgreSQL database.
// Uses IF NOT EXISTS clauses to make migrations idempotent.
//
// Tables created:
// - documents: immutable signed documents
// - revocations: revocation overlay keyed by credential id
// - wallet_entries: owner wallets keyed by owner + document
// - grants: share grants with indexed token and status columns
// - grant_access_log: per-entry append-only access log rows
// - otp_challenges: single-use step-up codes for public shares
// - idempotency_cache: cached responses for idempotent replays
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
            document_id TEXT PRIMARY KEY,
            body JSONB NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS revocations (
            credential_id TEXT PRIMARY KEY,
            reason TEXT NOT NULL DEFAULT '',
            revoked_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS wallet_entries (
            owner_id TEXT NOT NULL,
            document_id TEXT NOT NULL,
            body JSONB NOT NULL,
            PRIMARY KEY (owner_id, document_id)
        )`,
		`CREATE TABLE IF NOT EXISTS grants (
            grant_id TEXT PRIMARY KEY,
            token TEXT NOT NULL UNIQUE,
            credential_id TEXT NOT NULL,
            owner_public_key TEXT NOT NULL,
            status TEXT NOT NULL,
            body JSONB NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_grants_credential_id ON grants (credential_id)`,
		`CREATE INDEX IF NOT EXISTS idx_grants_owner_public_key ON grants (owner_public_key)`,
		`CREATE TABLE IF NOT EXISTS grant_access_log (
            id BIGSERIAL PRIMARY KEY,
            grant_id TEXT NOT NULL,
            action TEXT NOT NULL,
            at TIMESTAMPTZ NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            user_agent TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE INDEX IF NOT EXISTS idx_grant_access_log_grant_id ON grant_access_log (grant_id)`,
		`CREATE TABLE IF NOT EXISTS otp_challenges (
            share_token TEXT PRIMARY KEY,
            email TEXT NOT NULL,
            code TEXT NOT NULL,
            issued_at TIMESTAMPTZ NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0,
            used BOOLEAN NOT NULL DEFAULT FALSE
        )`,
		`CREATE INDEX IF NOT EXISTS idx_otp_challenges_expires_at ON otp_challenges (expires_at)`,
		`CREATE TABLE IF NOT EXISTS idempotency_cache (
            key TEXT PRIMARY KEY,
            status_code INTEGER NOT NULL,
            body BYTEA NOT NULL,
            headers JSONB NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_cache_expires_at ON idempotency_cache (expires_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
