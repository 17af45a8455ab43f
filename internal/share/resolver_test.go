package share

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signatura/signatura-core-go/internal/consent"
	"github.com/signatura/signatura-core-go/internal/issuance"
	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/sigengine"
	"github.com/signatura/signatura-core-go/internal/storage"
)

type fixture struct {
	store   storage.Store
	issuer  *issuance.Service
	consent *consent.Service
	share   *Service
	doc     model.SignedDocument
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	kp, err := sigengine.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	issuer := issuance.New(store)
	doc, err := issuer.Issue(context.Background(), issuance.Input{
		CredentialType: "diploma",
		RecipientEmail: "a@b.com",
		RecipientName:  "A B",
	}, kp.SecretKey, kp.PublicKey)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	consentSvc := consent.New(store, "https://signatura.example", 0)
	signerKP, _ := sigengine.GenerateKeyPair()
	shareSvc, err := New(store, consentSvc, signerKP.SecretKey, "signatura-test", 5*time.Minute, 10*time.Minute)
	if err != nil {
		t.Fatalf("share.New: %v", err)
	}
	return &fixture{store: store, issuer: issuer, consent: consentSvc, share: shareSvc, doc: doc}
}

func (f *fixture) createGrant(t *testing.T, requireOTP bool, perms *model.Permissions) model.ShareGrant {
	t.Helper()
	grant, _, err := f.consent.CreateShareRequest(context.Background(), consent.CreateInput{
		CredentialID:  f.doc.DocumentID,
		VerifierEmail: "verifier@example.com",
		Permissions:   perms,
		RequireOTP:    requireOTP,
	})
	if err != nil {
		t.Fatalf("CreateShareRequest: %v", err)
	}
	return grant
}

func (f *fixture) approve(t *testing.T, grantID string) {
	t.Helper()
	if _, err := f.consent.Approve(context.Background(), grantID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}

func TestResolve_UnknownAndExpiredIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errUnknown := f.share.Resolve(ctx, "no-such-token")
	if !errors.Is(errUnknown, ErrNotAccessible) {
		t.Fatalf("unknown token err = %v", errUnknown)
	}

	grant := f.createGrant(t, false, nil)
	f.approve(t, grant.ID)
	f.share.clock = func() time.Time { return grant.ExpiresAt.Add(time.Minute) }
	_, errExpired := f.share.Resolve(ctx, grant.Token.Token)
	if !errors.Is(errExpired, ErrNotAccessible) {
		t.Fatalf("expired token err = %v", errExpired)
	}
	// same sentinel, same message: no enumeration oracle
	if errUnknown.Error() != errExpired.Error() {
		t.Fatalf("error messages differ: %q vs %q", errUnknown, errExpired)
	}
}

func TestResolve_ReturnsGrantAndDocument(t *testing.T) {
	f := newFixture(t)
	grant := f.createGrant(t, true, nil)

	res, err := f.share.Resolve(context.Background(), grant.Token.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Grant.ID != grant.ID || res.Document.DocumentID != f.doc.DocumentID {
		t.Fatalf("resolution = %+v", res)
	}
	if !res.OTPRequired {
		t.Fatalf("OTPRequired flag not set")
	}
}

func TestAccess_PermissionGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	perms := model.Permissions{CanView: true, CanDownload: false}
	grant := f.createGrant(t, false, &perms)

	// pending: no access at all
	if _, err := f.share.Access(ctx, grant.Token.Token, model.ActionView, "", "agent"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("pending access err = %v", err)
	}

	f.approve(t, grant.ID)
	doc, err := f.share.Access(ctx, grant.Token.Token, model.ActionView, "", "agent")
	if err != nil {
		t.Fatalf("view after approval: %v", err)
	}
	if doc.DocumentID != f.doc.DocumentID {
		t.Fatalf("wrong document returned: %s", doc.DocumentID)
	}
	// download flag is false even though the grant is approved
	if _, err := f.share.Access(ctx, grant.Token.Token, model.ActionDownload, "", "agent"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("download err = %v", err)
	}

	// every successful access lands in the audit log
	got, _ := f.store.GetGrant(ctx, grant.ID)
	var views int
	for _, e := range got.AccessLog {
		if e.Action == model.ActionView && e.UserAgent == "agent" {
			views++
		}
	}
	if views != 1 {
		t.Fatalf("view log entries = %d, want 1", views)
	}
}

func TestAccess_RevokedCredentialRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant := f.createGrant(t, false, nil)
	f.approve(t, grant.ID)
	if _, err := f.issuer.Revoke(ctx, f.doc.DocumentID, "compromised"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := f.share.Access(ctx, grant.Token.Token, model.ActionView, "", ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("revoked credential access err = %v", err)
	}
}

func TestOTP_FullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant := f.createGrant(t, true, nil)
	f.approve(t, grant.ID)
	tok := grant.Token.Token

	// without OTP session, content access is refused
	if _, err := f.share.Access(ctx, tok, model.ActionView, "", ""); !errors.Is(err, ErrOTPRequired) {
		t.Fatalf("missing otp err = %v", err)
	}

	ch, err := f.share.RequestOTP(ctx, tok, "Verifier@Example.com")
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if len(ch.Code) != 6 {
		t.Fatalf("otp code = %q, want 6 digits", ch.Code)
	}

	// wrong code is retryable
	wrong := "000000"
	if ch.Code == wrong {
		wrong = "000001"
	}
	if _, err := f.share.VerifyOTP(ctx, tok, ch.Email, wrong); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("wrong code err = %v", err)
	}
	// wrong email counts too
	if _, err := f.share.VerifyOTP(ctx, tok, "other@example.com", ch.Code); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("wrong email err = %v", err)
	}

	access, err := f.share.VerifyOTP(ctx, tok, "verifier@example.com", ch.Code)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if access == "" {
		t.Fatalf("no access token issued")
	}

	// single-use: the same code cannot be verified again
	if _, err := f.share.VerifyOTP(ctx, tok, ch.Email, ch.Code); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("replayed code err = %v", err)
	}

	// with the access token, permitted actions succeed
	if _, err := f.share.Access(ctx, tok, model.ActionView, access, ""); err != nil {
		t.Fatalf("view with access token: %v", err)
	}
	// a token for a different share does not transfer
	other := f.createGrant(t, true, nil)
	f.approve(t, other.ID)
	if _, err := f.share.Access(ctx, other.Token.Token, model.ActionView, access, ""); !errors.Is(err, ErrOTPRequired) {
		t.Fatalf("cross-share token err = %v", err)
	}
}

func TestOTP_AttemptLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant := f.createGrant(t, true, nil)
	f.approve(t, grant.ID)
	tok := grant.Token.Token

	ch, err := f.share.RequestOTP(ctx, tok, "verifier@example.com")
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	wrong := "999999"
	if ch.Code == wrong {
		wrong = "999998"
	}
	var last error
	for i := 0; i < MaxOTPAttempts; i++ {
		_, last = f.share.VerifyOTP(ctx, tok, ch.Email, wrong)
	}
	if !errors.Is(last, ErrTooManyAttempts) {
		t.Fatalf("err after %d attempts = %v, want ErrTooManyAttempts", MaxOTPAttempts, last)
	}
	// even the correct code is refused once locked
	if _, err := f.share.VerifyOTP(ctx, tok, ch.Email, ch.Code); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("locked challenge err = %v", err)
	}
}

func TestOTP_Expiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant := f.createGrant(t, true, nil)
	f.approve(t, grant.ID)
	tok := grant.Token.Token

	ch, err := f.share.RequestOTP(ctx, tok, "verifier@example.com")
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	f.share.clock = func() time.Time { return ch.ExpiresAt.Add(time.Second) }
	if _, err := f.share.VerifyOTP(ctx, tok, ch.Email, ch.Code); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expired code err = %v", err)
	}
}

func TestRequestOTP_MaskedForBadTokens(t *testing.T) {
	f := newFixture(t)
	if _, err := f.share.RequestOTP(context.Background(), "no-such-token", "v@e.com"); !errors.Is(err, ErrNotAccessible) {
		t.Fatalf("err = %v, want ErrNotAccessible", err)
	}
}
