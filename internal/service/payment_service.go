package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/PhotoshootBot/internal/appconfig"
	"github.com/digkill/PhotoshootBot/internal/models"
	"github.com/digkill/PhotoshootBot/internal/repository"
	"github.com/digkill/PhotoshootBot/internal/texts"
	"github.com/digkill/PhotoshootBot/internal/zarinpal"
)

type VerifyStatus string

const (
	VerifyCredited        VerifyStatus = "credited"
	VerifyAlreadyVerified VerifyStatus = "already_verified"
	VerifyNotConfirmed    VerifyStatus = "not_confirmed"
	VerifyFailed          VerifyStatus = "failed"
)

// VerifyOutcome is the result of checking a payment with the gateway.
type VerifyOutcome struct {
	Status  VerifyStatus
	Payment *models.Payment
	// Reason is the gateway message for VerifyFailed.
	Reason string
}

type PaymentService struct {
	log      *slog.Logger
	payments PaymentStore
	catalog  appconfig.Source
	gateway  PaymentGateway
	notifier Notifier
}

func NewPaymentService(log *slog.Logger, payments PaymentStore, catalog appconfig.Source, gateway PaymentGateway, notifier Notifier) *PaymentService {
	return &PaymentService{
		log:      log,
		payments: payments,
		catalog:  catalog,
		gateway:  gateway,
		notifier: notifier,
	}
}

// Packages lists the credit packages on sale and the shop copy.
func (s *PaymentService) Packages() ([]appconfig.Package, string) {
	snap := s.catalog.Current()
	return snap.Packages, snap.ShopMessage
}

// Create starts a purchase of the package with the given index.
func (s *PaymentService) Create(ctx context.Context, chatID int64, pkgIdx int) (*models.Payment, error) {
	pkg, ok := s.catalog.Current().Package(pkgIdx)
	if !ok {
		return nil, ErrUnknownPackage
	}
	session, err := s.gateway.Create(ctx, pkg.Price, pkg.Label)
	if err != nil {
		return nil, fmt.Errorf("create gateway payment: %w", err)
	}
	p := &models.Payment{
		ChatID:       chatID,
		Amount:       pkg.Price,
		PackageCoins: pkg.Coins,
		Status:       models.PaymentInitiated,
		Authority:    session.Authority,
		PaymentLink:  session.PaymentLink,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.log.Info("payment initiated", "payment_id", p.ID, "chat_id", chatID, "amount", p.Amount, "coins", p.PackageCoins)
	return p, nil
}

// Verify checks a payment owned by the chat.
func (s *PaymentService) Verify(ctx context.Context, chatID int64, paymentID string) (*VerifyOutcome, error) {
	p, err := s.payments.GetForChat(ctx, paymentID, chatID)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return s.verify(ctx, p)
}

// HandleRedirect verifies the payment the gateway redirected the customer back
// for and tells the owning chat the result.
func (s *PaymentService) HandleRedirect(ctx context.Context, authority, status string) (*VerifyOutcome, error) {
	p, err := s.payments.GetByAuthority(ctx, authority)
	if err != nil {
		return nil, fmt.Errorf("get payment by authority: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}

	var outcome *VerifyOutcome
	if status != "OK" && p.Status == models.PaymentInitiated {
		outcome = &VerifyOutcome{Status: VerifyNotConfirmed, Payment: p}
	} else {
		outcome, err = s.verify(ctx, p)
		if err != nil {
			return nil, err
		}
	}

	if s.notifier != nil {
		if err := s.notifier.SendText(ctx, p.ChatID, OutcomeText(outcome)); err != nil {
			s.log.Error("notify payment result", "payment_id", p.ID, "err", err)
		}
	}
	return outcome, nil
}

// verify credits the package exactly once: only the call that moves the payment
// into completed adds coins. A failed payment is final and never reaches the
// gateway again.
func (s *PaymentService) verify(ctx context.Context, p *models.Payment) (*VerifyOutcome, error) {
	switch p.Status {
	case models.PaymentCompleted:
		return &VerifyOutcome{Status: VerifyAlreadyVerified, Payment: p}, nil
	case models.PaymentFailed:
		return &VerifyOutcome{Status: VerifyFailed, Payment: p, Reason: texts.PaymentClosed}, nil
	}

	res, err := s.gateway.Verify(ctx, p.Authority, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("verify gateway payment: %w", err)
	}

	switch res.Code {
	case zarinpal.CodeSuccess, zarinpal.CodeAlreadyVerified:
		credited, err := s.payments.Complete(ctx, p, res.RefID)
		if errors.Is(err, repository.ErrPaymentFailed) {
			p.Status = models.PaymentFailed
			return &VerifyOutcome{Status: VerifyFailed, Payment: p, Reason: texts.PaymentClosed}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("complete payment: %w", err)
		}
		if !credited {
			return &VerifyOutcome{Status: VerifyAlreadyVerified, Payment: p}, nil
		}
		s.log.Info("payment completed", "payment_id", p.ID, "chat_id", p.ChatID, "coins", p.PackageCoins, "ref_id", res.RefID)
		return &VerifyOutcome{Status: VerifyCredited, Payment: p}, nil
	case zarinpal.CodeNotConfirmed:
		return &VerifyOutcome{Status: VerifyNotConfirmed, Payment: p}, nil
	default:
		if p.Status == models.PaymentInitiated {
			if err := s.payments.MarkFailed(ctx, p.ID); err != nil {
				return nil, err
			}
			p.Status = models.PaymentFailed
		}
		reason := fmt.Sprintf("%s (code=%d)", res.Message, res.Code)
		s.log.Warn("payment verification failed", "payment_id", p.ID, "code", res.Code, "message", res.Message)
		return &VerifyOutcome{Status: VerifyFailed, Payment: p, Reason: reason}, nil
	}
}

// OutcomeText renders a verification outcome for the chat.
func OutcomeText(o *VerifyOutcome) string {
	switch o.Status {
	case VerifyCredited:
		return texts.PaymentVerified(o.Payment.PackageCoins)
	case VerifyAlreadyVerified:
		return texts.PaymentAlreadyVerified
	case VerifyNotConfirmed:
		return texts.PaymentNotConfirmed
	default:
		return texts.PaymentVerificationFailed(o.Reason)
	}
}
