// Package storage contains the PostgreSQL implementation of the Store
// interface. Provides persistent storage for signed documents, wallets,
// grants, access logs, OTP challenges, and idempotency records.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/signatura/signatura-core-go/internal/model"
)

// postgres implements the Store interface using PostgreSQL as the backend.
// Records are stored as JSONB documents with indexed key columns; the grant
// access log is a per-entry table so concurrent appends never overwrite each
// other.
type postgres struct {
	db *sql.DB
}

// NewPostgres creates a Store backed by PostgreSQL with connection pooling.
// Tests the database connection before returning the store.
func NewPostgres(dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &postgres{db: db}, nil
}

// DB returns the underlying *sql.DB connection pool. Used by migrations and
// the readiness probe.
func (p *postgres) DB() *sql.DB {
	return p.db
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}

func (p *postgres) PutDocument(ctx context.Context, doc model.SignedDocument) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	const q = `INSERT INTO documents (document_id, body) VALUES ($1, $2) ON CONFLICT (document_id) DO NOTHING`
	res, err := p.db.ExecContext(ctx, q, doc.DocumentID, body)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (p *postgres) GetDocument(ctx context.Context, documentID string) (model.SignedDocument, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var body []byte
	const q = `SELECT body FROM documents WHERE document_id = $1`
	if err := p.db.QueryRowContext(ctx, q, documentID).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SignedDocument{}, ErrNotFound
		}
		return model.SignedDocument{}, fmt.Errorf("select document: %w", err)
	}
	var doc model.SignedDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.SignedDocument{}, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

func (p *postgres) PutRevocation(ctx context.Context, rev model.Revocation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const q = `INSERT INTO revocations (credential_id, reason, revoked_at) VALUES ($1, $2, $3)
        ON CONFLICT (credential_id) DO UPDATE SET reason = EXCLUDED.reason, revoked_at = EXCLUDED.revoked_at`
	if _, err := p.db.ExecContext(ctx, q, rev.CredentialID, rev.Reason, rev.RevokedAt); err != nil {
		return fmt.Errorf("insert revocation: %w", err)
	}
	return nil
}

func (p *postgres) GetRevocation(ctx context.Context, credentialID string) (model.Revocation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rev := model.Revocation{CredentialID: credentialID}
	const q = `SELECT reason, revoked_at FROM revocations WHERE credential_id = $1`
	if err := p.db.QueryRowContext(ctx, q, credentialID).Scan(&rev.Reason, &rev.RevokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Revocation{}, ErrNotFound
		}
		return model.Revocation{}, fmt.Errorf("select revocation: %w", err)
	}
	return rev, nil
}

func (p *postgres) PutEntry(ctx context.Context, entry model.WalletEntry) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal wallet entry: %w", err)
	}
	const q = `INSERT INTO wallet_entries (owner_id, document_id, body) VALUES ($1, $2, $3)
        ON CONFLICT (owner_id, document_id) DO UPDATE SET body = EXCLUDED.body`
	if _, err := p.db.ExecContext(ctx, q, entry.OwnerID, entry.Document.DocumentID, body); err != nil {
		return fmt.Errorf("upsert wallet entry: %w", err)
	}
	return nil
}

func (p *postgres) GetEntry(ctx context.Context, ownerID, documentID string) (model.WalletEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var body []byte
	const q = `SELECT body FROM wallet_entries WHERE owner_id = $1 AND document_id = $2`
	if err := p.db.QueryRowContext(ctx, q, ownerID, documentID).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WalletEntry{}, ErrNotFound
		}
		return model.WalletEntry{}, fmt.Errorf("select wallet entry: %w", err)
	}
	var entry model.WalletEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return model.WalletEntry{}, fmt.Errorf("unmarshal wallet entry: %w", err)
	}
	return entry, nil
}

func (p *postgres) ListEntries(ctx context.Context, ownerID string) ([]model.WalletEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const q = `SELECT body FROM wallet_entries WHERE owner_id = $1`
	rows, err := p.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select wallet entries: %w", err)
	}
	defer rows.Close()

	var out []model.WalletEntry
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan wallet entry: %w", err)
		}
		var entry model.WalletEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal wallet entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (p *postgres) DeleteEntry(ctx context.Context, ownerID, documentID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const q = `DELETE FROM wallet_entries WHERE owner_id = $1 AND document_id = $2`
	res, err := p.db.ExecContext(ctx, q, ownerID, documentID)
	if err != nil {
		return fmt.Errorf("delete wallet entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) ClearEntries(ctx context.Context, ownerID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const q = `DELETE FROM wallet_entries WHERE owner_id = $1`
	if _, err := p.db.ExecContext(ctx, q, ownerID); err != nil {
		return fmt.Errorf("clear wallet entries: %w", err)
	}
	return nil
}

func (p *postgres) CreateGrant(ctx context.Context, grant model.ShareGrant) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	grant.AccessLog = nil
	body, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	const q = `INSERT INTO grants (grant_id, token, credential_id, owner_public_key, status, body)
        VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`
	res, err := p.db.ExecContext(ctx, q, grant.ID, grant.Token.Token, grant.CredentialID, grant.OwnerPublicKey, grant.Status, body)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (p *postgres) GetGrant(ctx context.Context, grantID string) (model.ShareGrant, error) {
	return p.grantByColumn(ctx, "grant_id", grantID)
}

func (p *postgres) GetGrantByToken(ctx context.Context, token string) (model.ShareGrant, error) {
	return p.grantByColumn(ctx, "token", token)
}

func (p *postgres) grantByColumn(ctx context.Context, column, value string) (model.ShareGrant, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var body []byte
	q := fmt.Sprintf(`SELECT body FROM grants WHERE %s = $1`, column)
	if err := p.db.QueryRowContext(ctx, q, value).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ShareGrant{}, ErrNotFound
		}
		return model.ShareGrant{}, fmt.Errorf("select grant: %w", err)
	}
	var grant model.ShareGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return model.ShareGrant{}, fmt.Errorf("unmarshal grant: %w", err)
	}
	log, err := p.accessLog(ctx, grant.ID)
	if err != nil {
		return model.ShareGrant{}, err
	}
	grant.AccessLog = log
	return grant, nil
}

func (p *postgres) listGrants(ctx context.Context, column, value string) ([]model.ShareGrant, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	q := fmt.Sprintf(`SELECT body FROM grants WHERE %s = $1`, column)
	rows, err := p.db.QueryContext(ctx, q, value)
	if err != nil {
		return nil, fmt.Errorf("select grants: %w", err)
	}
	defer rows.Close()

	var out []model.ShareGrant
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		var grant model.ShareGrant
		if err := json.Unmarshal(body, &grant); err != nil {
			return nil, fmt.Errorf("unmarshal grant: %w", err)
		}
		out = append(out, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		log, err := p.accessLog(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].AccessLog = log
	}
	return out, nil
}

func (p *postgres) ListGrantsByCredential(ctx context.Context, credentialID string) ([]model.ShareGrant, error) {
	return p.listGrants(ctx, "credential_id", credentialID)
}

func (p *postgres) ListGrantsByOwner(ctx context.Context, ownerPublicKey string) ([]model.ShareGrant, error) {
	return p.listGrants(ctx, "owner_public_key", ownerPublicKey)
}

func (p *postgres) ListGrants(ctx context.Context) ([]model.ShareGrant, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `SELECT body FROM grants`)
	if err != nil {
		return nil, fmt.Errorf("select grants: %w", err)
	}
	defer rows.Close()

	var out []model.ShareGrant
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		var grant model.ShareGrant
		if err := json.Unmarshal(body, &grant); err != nil {
			return nil, fmt.Errorf("unmarshal grant: %w", err)
		}
		out = append(out, grant)
	}
	return out, rows.Err()
}

// UpdateGrantStatus performs the conditional transition update. The WHERE
// clause on the current status is what serializes concurrent approve/deny/
// revoke calls: only one of two racing conflicting transitions can match.
func (p *postgres) UpdateGrantStatus(ctx context.Context, grantID, fromStatus string, grant model.ShareGrant) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	grant.ID = grantID
	grant.AccessLog = nil
	body, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	const q = `UPDATE grants SET status = $1, body = $2 WHERE grant_id = $3 AND status = $4`
	res, err := p.db.ExecContext(ctx, q, grant.Status, body, grantID, fromStatus)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM grants WHERE grant_id = $1)`, grantID).Scan(&exists); err != nil {
			return fmt.Errorf("check grant: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// AppendAccessLog inserts one entry and trims rows beyond the cap. Appends
// from concurrent viewers insert independent rows, so no entry is lost to a
// read-modify-write race.
func (p *postgres) AppendAccessLog(ctx context.Context, grantID string, entry model.AccessLogEntry) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM grants WHERE grant_id = $1)`, grantID).Scan(&exists); err != nil {
		return fmt.Errorf("check grant: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	const ins = `INSERT INTO grant_access_log (grant_id, action, at, reason, user_agent) VALUES ($1, $2, $3, $4, $5)`
	if _, err := p.db.ExecContext(ctx, ins, grantID, entry.Action, entry.Timestamp, entry.Reason, entry.UserAgent); err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}

	const trim = `DELETE FROM grant_access_log WHERE id IN (
        SELECT id FROM grant_access_log WHERE grant_id = $1 ORDER BY id DESC OFFSET $2)`
	if _, err := p.db.ExecContext(ctx, trim, grantID, model.AccessLogCap); err != nil {
		return fmt.Errorf("trim access log: %w", err)
	}
	return nil
}

func (p *postgres) accessLog(ctx context.Context, grantID string) ([]model.AccessLogEntry, error) {
	const q = `SELECT action, at, reason, user_agent FROM grant_access_log WHERE grant_id = $1 ORDER BY id ASC`
	rows, err := p.db.QueryContext(ctx, q, grantID)
	if err != nil {
		return nil, fmt.Errorf("select access log: %w", err)
	}
	defer rows.Close()

	var out []model.AccessLogEntry
	for rows.Next() {
		var e model.AccessLogEntry
		if err := rows.Scan(&e.Action, &e.Timestamp, &e.Reason, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *postgres) PutChallenge(ctx context.Context, ch model.OTPChallenge) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const q = `INSERT INTO otp_challenges (share_token, email, code, issued_at, expires_at, attempts, used)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (share_token) DO UPDATE SET email = EXCLUDED.email, code = EXCLUDED.code,
            issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at,
            attempts = EXCLUDED.attempts, used = EXCLUDED.used`
	if _, err := p.db.ExecContext(ctx, q, ch.ShareToken, ch.Email, ch.Code, ch.IssuedAt, ch.ExpiresAt, ch.Attempts, ch.Used); err != nil {
		return fmt.Errorf("upsert otp challenge: %w", err)
	}
	return nil
}

func (p *postgres) GetChallenge(ctx context.Context, shareToken string) (model.OTPChallenge, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ch := model.OTPChallenge{ShareToken: shareToken}
	const q = `SELECT email, code, issued_at, expires_at, attempts, used FROM otp_challenges WHERE share_token = $1`
	if err := p.db.QueryRowContext(ctx, q, shareToken).Scan(&ch.Email, &ch.Code, &ch.IssuedAt, &ch.ExpiresAt, &ch.Attempts, &ch.Used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OTPChallenge{}, ErrNotFound
		}
		return model.OTPChallenge{}, fmt.Errorf("select otp challenge: %w", err)
	}
	return ch, nil
}

func (p *postgres) IncrementAttempts(ctx context.Context, shareToken string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var attempts int
	const q = `UPDATE otp_challenges SET attempts = attempts + 1 WHERE share_token = $1 RETURNING attempts`
	if err := p.db.QueryRowContext(ctx, q, shareToken).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

func (p *postgres) MarkChallengeUsed(ctx context.Context, shareToken string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const q = `UPDATE otp_challenges SET used = TRUE WHERE share_token = $1`
	res, err := p.db.ExecContext(ctx, q, shareToken)
	if err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) Remember(ctx context.Context, key string, response StoredResponse) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	headers, err := json.Marshal(response.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	const q = `INSERT INTO idempotency_cache (key, status_code, body, headers, expires_at)
        VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key) DO NOTHING`
	if _, err := p.db.ExecContext(ctx, q, key, response.StatusCode, response.Body, headers, response.ExpiresAt); err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

func (p *postgres) Recall(ctx context.Context, key string) (StoredResponse, bool) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var resp StoredResponse
	var headers []byte
	const q = `SELECT status_code, body, headers, expires_at FROM idempotency_cache WHERE key = $1 AND expires_at > NOW()`
	if err := p.db.QueryRowContext(ctx, q, key).Scan(&resp.StatusCode, &resp.Body, &headers, &resp.ExpiresAt); err != nil {
		return StoredResponse{}, false
	}
	if err := json.Unmarshal(headers, &resp.Headers); err != nil {
		return StoredResponse{}, false
	}
	return resp, true
}
