package storage

import (
	"context"
	"sync"
	"time"

	"github.com/signatura/signatura-core-go/internal/model"
)

type walletKey struct {
	ownerID    string
	documentID string
}

// memory implements Store with mutex-guarded maps. Access logs are kept
// separately from grant records so appends never rewrite the whole grant,
// matching the per-entry insert model of the Postgres backend.
type memory struct {
	mu          sync.RWMutex
	documents   map[string]model.SignedDocument
	revocations map[string]model.Revocation
	wallet      map[walletKey]model.WalletEntry
	grants      map[string]model.ShareGrant
	grantByTok  map[string]string // bearer token -> grant id
	accessLogs  map[string][]model.AccessLogEntry
	challenges  map[string]model.OTPChallenge
	idempotency map[string]StoredResponse
}

// NewMemory returns a concurrency-safe in-memory implementation of Store.
// Useful for tests, demos, or as a default ephemeral backend.
func NewMemory() Store {
	return &memory{
		documents:   make(map[string]model.SignedDocument),
		revocations: make(map[string]model.Revocation),
		wallet:      make(map[walletKey]model.WalletEntry),
		grants:      make(map[string]model.ShareGrant),
		grantByTok:  make(map[string]string),
		accessLogs:  make(map[string][]model.AccessLogEntry),
		challenges:  make(map[string]model.OTPChallenge),
		idempotency: make(map[string]StoredResponse),
	}
}

func (m *memory) PutDocument(ctx context.Context, doc model.SignedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.DocumentID]; ok {
		return ErrConflict
	}
	m.documents[doc.DocumentID] = doc
	return nil
}

func (m *memory) GetDocument(ctx context.Context, documentID string) (model.SignedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return model.SignedDocument{}, ErrNotFound
	}
	return doc, nil
}

func (m *memory) PutRevocation(ctx context.Context, rev model.Revocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revocations[rev.CredentialID] = rev
	return nil
}

func (m *memory) GetRevocation(ctx context.Context, credentialID string) (model.Revocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rev, ok := m.revocations[credentialID]
	if !ok {
		return model.Revocation{}, ErrNotFound
	}
	return rev, nil
}

func (m *memory) PutEntry(ctx context.Context, entry model.WalletEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallet[walletKey{entry.OwnerID, entry.Document.DocumentID}] = entry
	return nil
}

func (m *memory) GetEntry(ctx context.Context, ownerID, documentID string) (model.WalletEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.wallet[walletKey{ownerID, documentID}]
	if !ok {
		return model.WalletEntry{}, ErrNotFound
	}
	return entry, nil
}

func (m *memory) ListEntries(ctx context.Context, ownerID string) ([]model.WalletEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.WalletEntry
	for k, entry := range m.wallet {
		if k.ownerID == ownerID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memory) DeleteEntry(ctx context.Context, ownerID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := walletKey{ownerID, documentID}
	if _, ok := m.wallet[key]; !ok {
		return ErrNotFound
	}
	delete(m.wallet, key)
	return nil
}

func (m *memory) ClearEntries(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.wallet {
		if k.ownerID == ownerID {
			delete(m.wallet, k)
		}
	}
	return nil
}

func (m *memory) CreateGrant(ctx context.Context, grant model.ShareGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[grant.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.grantByTok[grant.Token.Token]; ok {
		return ErrConflict
	}
	grant.AccessLog = nil
	m.grants[grant.ID] = grant
	m.grantByTok[grant.Token.Token] = grant.ID
	return nil
}

func (m *memory) GetGrant(ctx context.Context, grantID string) (model.ShareGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grantLocked(grantID)
}

func (m *memory) GetGrantByToken(ctx context.Context, token string) (model.ShareGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.grantByTok[token]
	if !ok {
		return model.ShareGrant{}, ErrNotFound
	}
	return m.grantLocked(id)
}

// grantLocked assembles a grant with its access log. Callers hold the lock.
func (m *memory) grantLocked(grantID string) (model.ShareGrant, error) {
	grant, ok := m.grants[grantID]
	if !ok {
		return model.ShareGrant{}, ErrNotFound
	}
	if log := m.accessLogs[grantID]; len(log) > 0 {
		grant.AccessLog = append([]model.AccessLogEntry(nil), log...)
	}
	return grant, nil
}

func (m *memory) ListGrantsByCredential(ctx context.Context, credentialID string) ([]model.ShareGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ShareGrant
	for id, grant := range m.grants {
		if grant.CredentialID == credentialID {
			g, _ := m.grantLocked(id)
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memory) ListGrantsByOwner(ctx context.Context, ownerPublicKey string) ([]model.ShareGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ShareGrant
	for id, grant := range m.grants {
		if grant.OwnerPublicKey == ownerPublicKey {
			g, _ := m.grantLocked(id)
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memory) ListGrants(ctx context.Context) ([]model.ShareGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ShareGrant
	for id := range m.grants {
		g, _ := m.grantLocked(id)
		out = append(out, g)
	}
	return out, nil
}

func (m *memory) UpdateGrantStatus(ctx context.Context, grantID, fromStatus string, grant model.ShareGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != fromStatus {
		return ErrConflict
	}
	grant.ID = grantID
	grant.AccessLog = nil
	m.grants[grantID] = grant
	return nil
}

func (m *memory) AppendAccessLog(ctx context.Context, grantID string, entry model.AccessLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[grantID]; !ok {
		return ErrNotFound
	}
	log := append(m.accessLogs[grantID], entry)
	if len(log) > model.AccessLogCap {
		log = log[len(log)-model.AccessLogCap:]
	}
	m.accessLogs[grantID] = log
	return nil
}

func (m *memory) PutChallenge(ctx context.Context, ch model.OTPChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[ch.ShareToken] = ch
	return nil
}

func (m *memory) GetChallenge(ctx context.Context, shareToken string) (model.OTPChallenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.challenges[shareToken]
	if !ok {
		return model.OTPChallenge{}, ErrNotFound
	}
	return ch, nil
}

func (m *memory) IncrementAttempts(ctx context.Context, shareToken string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[shareToken]
	if !ok {
		return 0, ErrNotFound
	}
	ch.Attempts++
	m.challenges[shareToken] = ch
	return ch.Attempts, nil
}

func (m *memory) MarkChallengeUsed(ctx context.Context, shareToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[shareToken]
	if !ok {
		return ErrNotFound
	}
	ch.Used = true
	m.challenges[shareToken] = ch
	return nil
}

func (m *memory) Remember(ctx context.Context, key string, response StoredResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotency[key] = response
	return nil
}

func (m *memory) Recall(ctx context.Context, key string) (StoredResponse, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.idempotency[key]
	if !ok || time.Now().After(resp.ExpiresAt) {
		return StoredResponse{}, false
	}
	return resp, true
}
