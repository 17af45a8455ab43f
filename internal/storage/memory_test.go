package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/signatura/signatura-core-go/internal/model"
)

func TestMemory_DocumentsAndRevocations(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	doc := model.SignedDocument{DocumentID: "doc-1", DocumentData: model.Credential{ID: "doc-1"}}
	if err := store.PutDocument(ctx, doc); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	if err := store.PutDocument(ctx, doc); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate PutDocument err = %v, want ErrConflict", err)
	}
	got, err := store.GetDocument(ctx, "doc-1")
	if err != nil || got.DocumentID != "doc-1" {
		t.Fatalf("GetDocument = %+v, %v", got, err)
	}
	if _, err := store.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing document err = %v, want ErrNotFound", err)
	}

	if _, err := store.GetRevocation(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unrevoked credential err = %v, want ErrNotFound", err)
	}
	rev := model.Revocation{CredentialID: "doc-1", Reason: "issued in error", RevokedAt: time.Now().UTC()}
	if err := store.PutRevocation(ctx, rev); err != nil {
		t.Fatalf("PutRevocation: %v", err)
	}
	gotRev, err := store.GetRevocation(ctx, "doc-1")
	if err != nil || gotRev.Reason != "issued in error" {
		t.Fatalf("GetRevocation = %+v, %v", gotRev, err)
	}
}

func TestMemory_WalletEntries(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := model.WalletEntry{
			OwnerID:  "owner-1",
			Document: model.SignedDocument{DocumentID: fmt.Sprintf("doc-%d", i)},
		}
		if err := store.PutEntry(ctx, entry); err != nil {
			t.Fatalf("PutEntry: %v", err)
		}
	}
	if err := store.PutEntry(ctx, model.WalletEntry{OwnerID: "owner-2", Document: model.SignedDocument{DocumentID: "doc-0"}}); err != nil {
		t.Fatalf("PutEntry owner-2: %v", err)
	}

	entries, err := store.ListEntries(ctx, "owner-1")
	if err != nil || len(entries) != 3 {
		t.Fatalf("ListEntries = %d entries, %v; want 3", len(entries), err)
	}

	if err := store.DeleteEntry(ctx, "owner-1", "doc-0"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if err := store.DeleteEntry(ctx, "owner-1", "doc-0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}

	if err := store.ClearEntries(ctx, "owner-1"); err != nil {
		t.Fatalf("ClearEntries: %v", err)
	}
	entries, _ = store.ListEntries(ctx, "owner-1")
	if len(entries) != 0 {
		t.Fatalf("wallet not cleared: %d entries remain", len(entries))
	}
	// other owners untouched
	entries, _ = store.ListEntries(ctx, "owner-2")
	if len(entries) != 1 {
		t.Fatalf("owner-2 wallet affected by clear: %d entries", len(entries))
	}
}

func TestMemory_GrantConditionalUpdate(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	grant := model.ShareGrant{
		ID:           "grant-1",
		CredentialID: "doc-1",
		Status:       model.GrantPending,
		Token:        model.VerificationToken{Token: "tok-1"},
	}
	if err := store.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if err := store.CreateGrant(ctx, grant); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate CreateGrant err = %v, want ErrConflict", err)
	}

	byTok, err := store.GetGrantByToken(ctx, "tok-1")
	if err != nil || byTok.ID != "grant-1" {
		t.Fatalf("GetGrantByToken = %+v, %v", byTok, err)
	}

	approved := grant
	approved.Status = model.GrantApproved
	if err := store.UpdateGrantStatus(ctx, "grant-1", model.GrantPending, approved); err != nil {
		t.Fatalf("UpdateGrantStatus: %v", err)
	}
	// second transition from pending must fail: status is now approved
	denied := grant
	denied.Status = model.GrantDenied
	if err := store.UpdateGrantStatus(ctx, "grant-1", model.GrantPending, denied); !errors.Is(err, ErrConflict) {
		t.Fatalf("conflicting transition err = %v, want ErrConflict", err)
	}
	if err := store.UpdateGrantStatus(ctx, "missing", model.GrantPending, approved); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing grant err = %v, want ErrNotFound", err)
	}
}

func TestMemory_AccessLogCap(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	grant := model.ShareGrant{ID: "grant-1", Status: model.GrantApproved, Token: model.VerificationToken{Token: "tok-1"}}
	if err := store.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	for i := 0; i < model.AccessLogCap+1; i++ {
		entry := model.AccessLogEntry{
			Action:    model.ActionView,
			Timestamp: time.Now().UTC(),
			Reason:    fmt.Sprintf("entry-%d", i),
		}
		if err := store.AppendAccessLog(ctx, "grant-1", entry); err != nil {
			t.Fatalf("AppendAccessLog %d: %v", i, err)
		}
	}

	got, err := store.GetGrant(ctx, "grant-1")
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	if len(got.AccessLog) != model.AccessLogCap {
		t.Fatalf("access log length = %d, want %d", len(got.AccessLog), model.AccessLogCap)
	}
	// oldest entry dropped first
	if got.AccessLog[0].Reason != "entry-1" {
		t.Fatalf("oldest retained entry = %q, want entry-1", got.AccessLog[0].Reason)
	}
	if got.AccessLog[len(got.AccessLog)-1].Reason != fmt.Sprintf("entry-%d", model.AccessLogCap) {
		t.Fatalf("newest entry = %q", got.AccessLog[len(got.AccessLog)-1].Reason)
	}
}

func TestMemory_OTPChallenges(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	ch := model.OTPChallenge{ShareToken: "tok-1", Email: "v@e.com", Code: "123456", ExpiresAt: time.Now().Add(5 * time.Minute)}
	if err := store.PutChallenge(ctx, ch); err != nil {
		t.Fatalf("PutChallenge: %v", err)
	}
	n, err := store.IncrementAttempts(ctx, "tok-1")
	if err != nil || n != 1 {
		t.Fatalf("IncrementAttempts = %d, %v", n, err)
	}
	n, _ = store.IncrementAttempts(ctx, "tok-1")
	if n != 2 {
		t.Fatalf("second IncrementAttempts = %d, want 2", n)
	}
	if err := store.MarkChallengeUsed(ctx, "tok-1"); err != nil {
		t.Fatalf("MarkChallengeUsed: %v", err)
	}
	got, err := store.GetChallenge(ctx, "tok-1")
	if err != nil || !got.Used || got.Attempts != 2 {
		t.Fatalf("GetChallenge = %+v, %v", got, err)
	}
	if _, err := store.GetChallenge(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing challenge err = %v, want ErrNotFound", err)
	}
}

func TestMemory_IdempotencyExpiry(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	fresh := StoredResponse{StatusCode: 201, Body: []byte("ok"), ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Remember(ctx, "key-1", fresh); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	got, ok := store.Recall(ctx, "key-1")
	if !ok || got.StatusCode != 201 {
		t.Fatalf("Recall = %+v, %v", got, ok)
	}

	stale := StoredResponse{StatusCode: 201, ExpiresAt: time.Now().Add(-time.Minute)}
	_ = store.Remember(ctx, "key-2", stale)
	if _, ok := store.Recall(ctx, "key-2"); ok {
		t.Fatalf("expired idempotency record recalled")
	}
}
