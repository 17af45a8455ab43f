package consent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/storage"
)

func newService() (*Service, storage.Store) {
	store := storage.NewMemory()
	return New(store, "https://signatura.example", 0), store
}

func createGrant(t *testing.T, svc *Service, in CreateInput) (model.ShareGrant, string) {
	t.Helper()
	if in.CredentialID == "" {
		in.CredentialID = "doc-1"
	}
	if in.VerifierEmail == "" {
		in.VerifierEmail = "verifier@example.com"
	}
	grant, url, err := svc.CreateShareRequest(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateShareRequest: %v", err)
	}
	return grant, url
}

func TestCreateShareRequest_Defaults(t *testing.T) {
	svc, _ := newService()
	grant, url := createGrant(t, svc, CreateInput{OwnerPublicKey: "zOwner"})

	if grant.Status != model.GrantPending {
		t.Fatalf("status = %q, want pending", grant.Status)
	}
	if got := grant.ExpiresAt.Sub(grant.CreatedAt); got != DefaultShareDays*24*time.Hour {
		t.Fatalf("default expiry = %v", got)
	}
	if grant.Permissions != model.DefaultPermissions() {
		t.Fatalf("permissions = %+v", grant.Permissions)
	}
	if grant.Token.Token == "" {
		t.Fatalf("no bound verification token")
	}
	if !strings.HasPrefix(url, "https://signatura.example/shared/") || !strings.HasSuffix(url, grant.Token.Token) {
		t.Fatalf("share url = %q", url)
	}
}

func TestCreateShareRequest_ConfiguredLifetime(t *testing.T) {
	svc := New(storage.NewMemory(), "https://signatura.example", 1)
	grant, _ := createGrant(t, svc, CreateInput{OwnerPublicKey: "zOwner"})

	if got := grant.ExpiresAt.Sub(grant.CreatedAt); got != 24*time.Hour {
		t.Fatalf("configured expiry = %v, want 24h", got)
	}

	// an explicit per-request value still wins over the configured default
	grant, _ = createGrant(t, svc, CreateInput{OwnerPublicKey: "zOwner", ExpiresInDays: 3})
	if got := grant.ExpiresAt.Sub(grant.CreatedAt); got != 3*24*time.Hour {
		t.Fatalf("explicit expiry = %v, want 72h", got)
	}
}

func TestCreateShareRequest_Validation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	var verr *ValidationError
	_, _, err := svc.CreateShareRequest(ctx, CreateInput{VerifierEmail: "v@e.com"})
	if !errors.As(err, &verr) || verr.Field != "credentialId" {
		t.Fatalf("missing credential err = %v", err)
	}
	_, _, err = svc.CreateShareRequest(ctx, CreateInput{CredentialID: "doc-1"})
	if !errors.As(err, &verr) || verr.Field != "verifierEmail" {
		t.Fatalf("missing email err = %v", err)
	}
}

func TestStateMachine(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	var terr *StateTransitionError

	// pending -> approved -> revoked is the happy path
	grant, _ := createGrant(t, svc, CreateInput{})
	approved, err := svc.Approve(ctx, grant.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != model.GrantApproved || approved.ApprovedAt == nil {
		t.Fatalf("approved grant = %+v", approved)
	}
	// re-approval rejected
	if _, err := svc.Approve(ctx, grant.ID); !errors.As(err, &terr) {
		t.Fatalf("re-approve err = %v, want StateTransitionError", err)
	}
	// deny after approval rejected
	if _, err := svc.Deny(ctx, grant.ID, "late"); !errors.As(err, &terr) {
		t.Fatalf("deny approved err = %v", err)
	}
	revoked, err := svc.Revoke(ctx, grant.ID, "changed my mind")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.Status != model.GrantRevoked || revoked.RevokedAt == nil {
		t.Fatalf("revoked grant = %+v", revoked)
	}
	// revoked is terminal
	if _, err := svc.Approve(ctx, grant.ID); !errors.As(err, &terr) {
		t.Fatalf("approve revoked err = %v", err)
	}
	if _, err := svc.Revoke(ctx, grant.ID, ""); !errors.As(err, &terr) {
		t.Fatalf("re-revoke err = %v", err)
	}

	// pending -> denied is terminal
	grant2, _ := createGrant(t, svc, CreateInput{})
	if _, err := svc.Deny(ctx, grant2.ID, "no"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if _, err := svc.Approve(ctx, grant2.ID); !errors.As(err, &terr) {
		t.Fatalf("approve denied err = %v", err)
	}

	// revoke requires approved, not pending
	grant3, _ := createGrant(t, svc, CreateInput{})
	if _, err := svc.Revoke(ctx, grant3.ID, ""); !errors.As(err, &terr) {
		t.Fatalf("revoke pending err = %v", err)
	}

	// missing grant
	if _, err := svc.Approve(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing grant err = %v", err)
	}
}

func TestTransitions_AppendAccessLog(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	grant, _ := createGrant(t, svc, CreateInput{})
	if _, err := svc.Approve(ctx, grant.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := svc.Revoke(ctx, grant.ID, "cleanup"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	got, err := store.GetGrant(ctx, grant.ID)
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	if len(got.AccessLog) != 2 {
		t.Fatalf("access log = %d entries, want 2", len(got.AccessLog))
	}
	if got.AccessLog[0].Action != model.GrantApproved || got.AccessLog[1].Action != model.GrantRevoked {
		t.Fatalf("access log actions = %+v", got.AccessLog)
	}
	if got.AccessLog[1].Reason != "cleanup" {
		t.Fatalf("revoke reason not logged: %+v", got.AccessLog[1])
	}
}

func TestIsShareValid_ExpiryDominatesApproval(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	grant, _ := createGrant(t, svc, CreateInput{})
	approved, err := svc.Approve(ctx, grant.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !svc.IsShareValid(approved) {
		t.Fatalf("fresh approved grant invalid")
	}

	// push the clock past expiry: approved status no longer matters
	svc.clock = func() time.Time { return approved.ExpiresAt.Add(time.Millisecond) }
	if svc.IsShareValid(approved) {
		t.Fatalf("expired grant still valid despite approval")
	}
}

func TestIsShareValid_StatusGate(t *testing.T) {
	svc, _ := newService()
	grant, _ := createGrant(t, svc, CreateInput{})
	if svc.IsShareValid(grant) {
		t.Fatalf("pending grant reported valid")
	}
}

func TestIsShareValid_ExpiredAtCreation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	grant, _ := createGrant(t, svc, CreateInput{})
	approved, err := svc.Approve(ctx, grant.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	// grant whose expiry is already 1ms in the past
	approved.ExpiresAt = time.Now().UTC().Add(-time.Millisecond)
	if svc.IsShareValid(approved) {
		t.Fatalf("grant expired at creation reported valid")
	}
}

func TestCheckPermission(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	perms := model.Permissions{CanView: true, CanDownload: false}
	grant, _ := createGrant(t, svc, CreateInput{Permissions: &perms})

	// pending: all actions denied regardless of flags
	if svc.CheckPermission(grant, model.ActionView) {
		t.Fatalf("pending grant allowed view")
	}

	approved, err := svc.Approve(ctx, grant.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !svc.CheckPermission(approved, model.ActionView) {
		t.Fatalf("approved grant denied view")
	}
	// download stays false even after approval
	if svc.CheckPermission(approved, model.ActionDownload) {
		t.Fatalf("approved grant allowed download despite flag")
	}
	if svc.CheckPermission(approved, "unknown") {
		t.Fatalf("unknown action allowed")
	}

	// permission gate collapses entirely once invalid
	svc.clock = func() time.Time { return approved.ExpiresAt.Add(time.Second) }
	if svc.CheckPermission(approved, model.ActionView) {
		t.Fatalf("expired grant allowed view")
	}
}

func TestQueriesAndStats(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	owner := "zOwner"
	pending, _ := createGrant(t, svc, CreateInput{OwnerPublicKey: owner})
	_ = pending
	toApprove, _ := createGrant(t, svc, CreateInput{OwnerPublicKey: owner})
	if _, err := svc.Approve(ctx, toApprove.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	toDeny, _ := createGrant(t, svc, CreateInput{OwnerPublicKey: owner})
	if _, err := svc.Deny(ctx, toDeny.ID, ""); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	p, err := svc.Pending(ctx, owner)
	if err != nil || len(p) != 1 {
		t.Fatalf("Pending = %d, %v; want 1", len(p), err)
	}
	a, err := svc.Active(ctx, owner)
	if err != nil || len(a) != 1 {
		t.Fatalf("Active = %d, %v; want 1", len(a), err)
	}
	e, err := svc.Expired(ctx, owner)
	if err != nil || len(e) != 0 {
		t.Fatalf("Expired = %d, %v; want 0", len(e), err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := model.ShareStats{Total: 3, Pending: 1, Approved: 1, Denied: 1, Active: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestExportAuditTrail(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	grant, _ := createGrant(t, svc, CreateInput{CredentialID: "doc-audit"})
	if _, err := svc.Approve(ctx, grant.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := svc.LogAccess(ctx, grant.ID, model.ActionView, "test-agent"); err != nil {
		t.Fatalf("LogAccess: %v", err)
	}
	// unrelated grant on another credential is excluded
	createGrant(t, svc, CreateInput{CredentialID: "doc-other"})

	trail, err := svc.ExportAuditTrail(ctx, "doc-audit")
	if err != nil {
		t.Fatalf("ExportAuditTrail: %v", err)
	}
	if trail.CredentialID != "doc-audit" || len(trail.Grants) != 1 {
		t.Fatalf("trail = %+v", trail)
	}
	ag := trail.Grants[0]
	if ag.GrantID != grant.ID || ag.Status != model.GrantApproved {
		t.Fatalf("audit grant = %+v", ag)
	}
	if ag.AccessCount != 2 { // approval entry + view entry
		t.Fatalf("access count = %d, want 2", ag.AccessCount)
	}
	if ag.LastAccess == nil {
		t.Fatalf("last access missing")
	}
}
