package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/digkill/PhotoshootBot/internal/models"
	"github.com/digkill/PhotoshootBot/internal/texts"
	"github.com/digkill/PhotoshootBot/internal/zarinpal"
)

type paymentHarness struct {
	svc      *PaymentService
	users    *memUsers
	payments *memPayments
	gateway  *fakeGateway
	notifier *fakeNotifier
}

func newPaymentHarness() *paymentHarness {
	h := &paymentHarness{
		users: newMemUsers(models.User{ChatID: chatID, Credits: 1}),
		gateway: &fakeGateway{
			session: &zarinpal.Session{Authority: "A0001", PaymentLink: "https://www.zarinpal.com/pg/StartPay/A0001"},
			result:  &zarinpal.VerifyResult{Code: zarinpal.CodeSuccess, RefID: "201"},
		},
		notifier: &fakeNotifier{},
	}
	h.payments = newMemPayments(h.users)
	h.svc = NewPaymentService(discardLogger(), h.payments, testCatalog(), h.gateway, h.notifier)
	return h
}

func TestCreatePayment(t *testing.T) {
	h := newPaymentHarness()

	p, err := h.svc.Create(context.Background(), chatID, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Amount != 400000 || p.PackageCoins != 50 || p.Authority != "A0001" || p.Status != models.PaymentInitiated {
		t.Errorf("payment = %+v", p)
	}
	if _, err := h.svc.Create(context.Background(), chatID, 9); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("unknown package: got %v", err)
	}
}

func TestCreatePaymentGatewayError(t *testing.T) {
	h := newPaymentHarness()
	h.gateway.err = &zarinpal.GatewayError{Code: -9, Message: "validation error"}

	_, err := h.svc.Create(context.Background(), chatID, 0)
	var ge *zarinpal.GatewayError
	if !errors.As(err, &ge) || ge.Code != -9 {
		t.Errorf("got %v, want gateway error", err)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		desc        string
		code        int
		want        VerifyStatus
		wantStatus  models.PaymentStatus
		wantCredits int
	}{
		{"success", zarinpal.CodeSuccess, VerifyCredited, models.PaymentCompleted, 11},
		{"verified elsewhere", zarinpal.CodeAlreadyVerified, VerifyCredited, models.PaymentCompleted, 11},
		{"not confirmed", zarinpal.CodeNotConfirmed, VerifyNotConfirmed, models.PaymentInitiated, 1},
		{"other code", -22, VerifyFailed, models.PaymentFailed, 1},
	}

	for _, tt := range tests {
		ctx := context.Background()
		h := newPaymentHarness()
		h.gateway.result = &zarinpal.VerifyResult{Code: tt.code, RefID: "201", Message: "gateway says"}
		p, err := h.svc.Create(ctx, chatID, 0)
		if err != nil {
			t.Fatalf("%s: create: %v", tt.desc, err)
		}

		out, err := h.svc.Verify(ctx, chatID, p.ID)
		if err != nil {
			t.Errorf("%s: %v", tt.desc, err)
			continue
		}
		if out.Status != tt.want {
			t.Errorf("%s: got %s, want %s", tt.desc, out.Status, tt.want)
		}
		if got := h.payments.row(p.ID).Status; got != tt.wantStatus {
			t.Errorf("%s: got payment status %s, want %s", tt.desc, got, tt.wantStatus)
		}
		if c := h.users.credits(chatID); c != tt.wantCredits {
			t.Errorf("%s: got credits %d, want %d", tt.desc, c, tt.wantCredits)
		}
	}
}

func TestVerifyFailedReason(t *testing.T) {
	h := newPaymentHarness()
	h.gateway.result = &zarinpal.VerifyResult{Code: -22, Message: "invalid"}
	p, _ := h.svc.Create(context.Background(), chatID, 0)

	out, err := h.svc.Verify(context.Background(), chatID, p.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Reason != "invalid (code=-22)" {
		t.Errorf("reason = %q", out.Reason)
	}
	if !strings.Contains(OutcomeText(out), "invalid (code=-22)") {
		t.Errorf("text = %q", OutcomeText(out))
	}
}

func TestVerifyCreditsOnce(t *testing.T) {
	ctx := context.Background()
	h := newPaymentHarness()
	p, _ := h.svc.Create(ctx, chatID, 0)

	if out, err := h.svc.Verify(ctx, chatID, p.ID); err != nil || out.Status != VerifyCredited {
		t.Fatalf("first verify: %+v, %v", out, err)
	}
	h.gateway.result = &zarinpal.VerifyResult{Code: zarinpal.CodeAlreadyVerified, RefID: "201"}
	out, err := h.svc.Verify(ctx, chatID, p.ID)
	if err != nil || out.Status != VerifyAlreadyVerified {
		t.Fatalf("second verify: %+v, %v", out, err)
	}
	if h.gateway.verifies != 1 {
		t.Errorf("gateway called %d times, want 1", h.gateway.verifies)
	}
	if c := h.users.credits(chatID); c != 11 {
		t.Errorf("credits = %d, want 11", c)
	}
	u, _ := h.users.FindByChatID(ctx, chatID)
	if !u.Paid {
		t.Error("user not marked paid")
	}
}

// Two verifications that both read the payment as initiated credit it once.
func TestVerifyConcurrentCompletion(t *testing.T) {
	ctx := context.Background()
	h := newPaymentHarness()
	p, _ := h.svc.Create(ctx, chatID, 0)
	stale := h.payments.row(p.ID)

	if _, err := h.svc.Verify(ctx, chatID, p.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	out, err := h.svc.verify(ctx, &stale)
	if err != nil || out.Status != VerifyAlreadyVerified {
		t.Errorf("stale verify: %+v, %v", out, err)
	}
	if c := h.users.credits(chatID); c != 11 {
		t.Errorf("credits = %d, want 11", c)
	}
}

func TestVerifyTransportErrorLeavesPayment(t *testing.T) {
	ctx := context.Background()
	h := newPaymentHarness()
	p, _ := h.svc.Create(ctx, chatID, 0)
	h.gateway.err = errors.New("connection reset")

	if _, err := h.svc.Verify(ctx, chatID, p.ID); err == nil {
		t.Fatal("expected error")
	}
	if got := h.payments.row(p.ID).Status; got != models.PaymentInitiated {
		t.Errorf("status = %s, want initiated", got)
	}
}

func TestVerifyOtherChat(t *testing.T) {
	h := newPaymentHarness()
	p, _ := h.svc.Create(context.Background(), chatID, 0)

	if _, err := h.svc.Verify(context.Background(), 7, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestHandleRedirect(t *testing.T) {
	tests := []struct {
		desc         string
		status       string
		want         VerifyStatus
		wantVerifies int
		wantText     string
	}{
		{"ok", "OK", VerifyCredited, 1, "10"},
		{"nok", "NOK", VerifyNotConfirmed, 0, texts.PaymentNotConfirmed},
	}

	for _, tt := range tests {
		ctx := context.Background()
		h := newPaymentHarness()
		p, _ := h.svc.Create(ctx, chatID, 0)

		out, err := h.svc.HandleRedirect(ctx, p.Authority, tt.status)
		if err != nil {
			t.Errorf("%s: %v", tt.desc, err)
			continue
		}
		if out.Status != tt.want {
			t.Errorf("%s: got %s, want %s", tt.desc, out.Status, tt.want)
		}
		if h.gateway.verifies != tt.wantVerifies {
			t.Errorf("%s: got %d verifies, want %d", tt.desc, h.gateway.verifies, tt.wantVerifies)
		}
		if len(h.notifier.sent) != 1 || !strings.Contains(h.notifier.sent[0].text, tt.wantText) {
			t.Errorf("%s: notifications = %+v", tt.desc, h.notifier.sent)
		}
	}

	h := newPaymentHarness()
	if _, err := h.svc.HandleRedirect(context.Background(), "missing", "OK"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown authority: got %v", err)
	}
}

func TestVerifyFailedPaymentIsFinal(t *testing.T) {
	ctx := context.Background()
	h := newPaymentHarness()
	h.gateway.result = &zarinpal.VerifyResult{Code: -22, Message: "invalid"}
	p, _ := h.svc.Create(ctx, chatID, 0)
	if out, err := h.svc.Verify(ctx, chatID, p.ID); err != nil || out.Status != VerifyFailed {
		t.Fatalf("first verify: %+v, %v", out, err)
	}
	h.gateway.result = &zarinpal.VerifyResult{Code: zarinpal.CodeSuccess, RefID: "201"}

	tests := []struct {
		desc string
		run  func() (*VerifyOutcome, error)
	}{
		{"verify button", func() (*VerifyOutcome, error) { return h.svc.Verify(ctx, chatID, p.ID) }},
		{"redirect ok", func() (*VerifyOutcome, error) { return h.svc.HandleRedirect(ctx, p.Authority, "OK") }},
		{"redirect nok", func() (*VerifyOutcome, error) { return h.svc.HandleRedirect(ctx, p.Authority, "NOK") }},
	}
	for _, tt := range tests {
		out, err := tt.run()
		if err != nil {
			t.Errorf("%s: %v", tt.desc, err)
			continue
		}
		if out.Status != VerifyFailed || out.Reason != texts.PaymentClosed {
			t.Errorf("%s: got %s %q, want failed with closed reason", tt.desc, out.Status, out.Reason)
		}
	}
	if h.gateway.verifies != 1 {
		t.Errorf("gateway called %d times, want 1", h.gateway.verifies)
	}
	if got := h.payments.row(p.ID).Status; got != models.PaymentFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if c := h.users.credits(chatID); c != 1 {
		t.Errorf("credits = %d, want 1", c)
	}
}

// A verification that read the payment before it was marked failed does not
// credit it afterwards.
func TestVerifyStaleReadOfFailedPayment(t *testing.T) {
	ctx := context.Background()
	h := newPaymentHarness()
	p, _ := h.svc.Create(ctx, chatID, 0)
	stale := h.payments.row(p.ID)
	if err := h.payments.MarkFailed(ctx, p.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	out, err := h.svc.verify(ctx, &stale)
	if err != nil || out.Status != VerifyFailed {
		t.Fatalf("stale verify: %+v, %v", out, err)
	}
	if got := h.payments.row(p.ID).Status; got != models.PaymentFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if c := h.users.credits(chatID); c != 1 {
		t.Errorf("credits = %d, want 1", c)
	}
}
