package comcore

import (
	"context"
	"testing"
	"time"

	"github.com/infodancer/comcore/internal/email"
)

func newTestCodes(t *testing.T) (*CodeManager, *email.Capture, *time.Time) {
	t.Helper()
	capture := email.NewCapture()
	m := NewCodeManager(capture)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	return m, capture, &now
}

func TestCheckCodeSingleUse(t *testing.T) {
	m, capture, _ := newTestCodes(t)
	ctx := context.Background()

	if err := m.SendConfirmation(ctx, "a@x", email.KindTwoFactor, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	code := capture.LastCode("a@x")

	data, ok := m.CheckCode("a@x", email.KindTwoFactor, code)
	if !ok || data != "user-1" {
		t.Fatalf("CheckCode() = (%q, %v), want (user-1, true)", data, ok)
	}

	if _, ok := m.CheckCode("a@x", email.KindTwoFactor, code); ok {
		t.Error("second CheckCode() with the same code succeeded, want single use")
	}
}

func TestCheckCodeExpiryBoundary(t *testing.T) {
	m, capture, now := newTestCodes(t)
	ctx := context.Background()

	if err := m.SendConfirmation(ctx, "a@x", email.KindResetPassword, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	code := capture.LastCode("a@x")

	// Exactly at expireAt the code is already rejected.
	*now = now.Add(time.Hour)
	if _, ok := m.CheckCode("a@x", email.KindResetPassword, code); ok {
		t.Error("CheckCode() at expireAt succeeded, want rejection")
	}
}

func TestCheckCodeJustBeforeExpiry(t *testing.T) {
	m, capture, now := newTestCodes(t)
	ctx := context.Background()

	if err := m.SendConfirmation(ctx, "a@x", email.KindResetPassword, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	code := capture.LastCode("a@x")

	*now = now.Add(time.Hour - time.Millisecond)
	if _, ok := m.CheckCode("a@x", email.KindResetPassword, code); !ok {
		t.Error("CheckCode() just before expireAt failed, want success")
	}
}

func TestCheckCodeThreeFailsDiscard(t *testing.T) {
	m, capture, _ := newTestCodes(t)
	ctx := context.Background()

	if err := m.SendConfirmation(ctx, "a@x", email.KindTwoFactor, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	code := capture.LastCode("a@x")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < 3; i++ {
		if _, ok := m.CheckCode("a@x", email.KindTwoFactor, wrong); ok {
			t.Fatal("wrong code accepted")
		}
	}

	if _, ok := m.CheckCode("a@x", email.KindTwoFactor, code); ok {
		t.Error("correct code accepted after three failures, want rejection")
	}
}

func TestCheckCodeMalformedCandidates(t *testing.T) {
	m, capture, _ := newTestCodes(t)
	ctx := context.Background()

	if err := m.SendConfirmation(ctx, "a@x", email.KindTwoFactor, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	code := capture.LastCode("a@x")

	for _, candidate := range []string{"", "12345", "1234567", "abc"} {
		if _, ok := m.CheckCode("a@x", email.KindTwoFactor, candidate); ok {
			t.Errorf("CheckCode(%q) succeeded, want length check rejection", candidate)
		}
	}

	// Length-check rejections do not count as failed attempts; the code
	// still works, including with surrounding whitespace.
	if _, ok := m.CheckCode("a@x", email.KindTwoFactor, "  "+code+"\n"); !ok {
		t.Error("CheckCode() with padded correct code failed, want success")
	}
}

func TestSendConfirmationSameKindReuse(t *testing.T) {
	m, capture, _ := newTestCodes(t)
	ctx := context.Background()

	if err := m.SendConfirmation(ctx, "a@x", email.KindTwoFactor, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	first := capture.LastCode("a@x")

	if err := m.SendConfirmation(ctx, "a@x", email.KindTwoFactor, "user-1"); err != nil {
		t.Fatalf("second SendConfirmation() error = %v", err)
	}
	if capture.LastCode("a@x") != first {
		t.Error("live same-kind confirmation was replaced, want reuse")
	}

	if _, ok := m.CheckCode("a@x", email.KindTwoFactor, first); !ok {
		t.Error("original code no longer valid after re-send")
	}
}

func TestSendConfirmationDifferentKindReplaces(t *testing.T) {
	m, capture, _ := newTestCodes(t)
	ctx := context.Background()

	if err := m.SendConfirmation(ctx, "a@x", email.KindTwoFactor, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	old := capture.LastCode("a@x")

	if err := m.SendConfirmation(ctx, "a@x", email.KindResetPassword, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}

	if _, ok := m.CheckCode("a@x", email.KindTwoFactor, old); ok {
		t.Error("old two-factor code survived a reset-password confirmation")
	}
}

func TestSendConfirmationExpiredReissues(t *testing.T) {
	m, capture, now := newTestCodes(t)
	ctx := context.Background()

	if err := m.SendConfirmation(ctx, "a@x", email.KindTwoFactor, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	old := capture.LastCode("a@x")

	*now = now.Add(2 * time.Hour)
	if err := m.SendConfirmation(ctx, "a@x", email.KindTwoFactor, "user-1"); err != nil {
		t.Fatalf("SendConfirmation() after expiry error = %v", err)
	}

	fresh := capture.LastCode("a@x")
	if _, ok := m.CheckCode("a@x", email.KindTwoFactor, fresh); !ok {
		t.Error("fresh code after expiry rejected, want success")
	}
	if old == fresh {
		t.Log("new code matched the old one by chance; reuse cannot be distinguished")
	}
}

func TestCreationFlow(t *testing.T) {
	m, capture, _ := newTestCodes(t)
	ctx := context.Background()

	if err := m.StartCreation(ctx, "Alice", "alice@x", "p"); err != nil {
		t.Fatalf("StartCreation() error = %v", err)
	}
	if err := m.StartCreation(ctx, "Alice", "alice@x", "p"); err == nil {
		t.Error("second StartCreation() succeeded, want already-pending error")
	}

	ok, err := m.ContinueCreation(ctx, "alice@x", "wrong")
	if err != nil {
		t.Fatalf("ContinueCreation() error = %v", err)
	}
	if ok {
		t.Error("ContinueCreation() with wrong password = true, want false")
	}

	ok, err = m.ContinueCreation(ctx, "alice@x", "p")
	if err != nil {
		t.Fatalf("ContinueCreation() error = %v", err)
	}
	if !ok {
		t.Error("ContinueCreation() with right password = false, want true")
	}

	code := capture.LastCode("alice@x")
	if _, ok := m.CheckCode("alice@x", email.KindNewAccount, code); !ok {
		t.Fatal("new-account code rejected")
	}

	name, hash, err := m.FinishCreation("alice@x")
	if err != nil {
		t.Fatalf("FinishCreation() error = %v", err)
	}
	if name != "Alice" || hash == "" {
		t.Errorf("FinishCreation() = (%q, %q), want Alice and a hash", name, hash)
	}

	if _, _, err := m.FinishCreation("alice@x"); err == nil {
		t.Error("second FinishCreation() succeeded, want error")
	}
}
