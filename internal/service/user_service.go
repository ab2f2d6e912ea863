package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/digkill/PhotoshootBot/internal/config"
	"github.com/digkill/PhotoshootBot/internal/models"
	"github.com/digkill/PhotoshootBot/internal/repository"
	"github.com/digkill/PhotoshootBot/internal/texts"
)

const referralPrefix = "ref_"

type UserService struct {
	cfg      config.Config
	log      *slog.Logger
	users    UserStore
	notifier Notifier
}

func NewUserService(cfg config.Config, log *slog.Logger, users UserStore, notifier Notifier) *UserService {
	return &UserService{cfg: cfg, log: log, users: users, notifier: notifier}
}

// Ensure returns the chat's user, creating it on first contact. startPayload is the
// /start argument; a "ref_<chatID>" payload from an existing user other than the
// caller records the referral and pays the inviter's bonus.
func (s *UserService) Ensure(ctx context.Context, p repository.Profile, startPayload string) (*models.User, bool, error) {
	var referredBy *int64
	if inviter, ok := ParseReferral(startPayload); ok && inviter != p.ChatID {
		existing, err := s.users.FindByChatID(ctx, p.ChatID)
		if err != nil {
			return nil, false, fmt.Errorf("find user: %w", err)
		}
		if existing == nil {
			owner, err := s.users.FindByChatID(ctx, inviter)
			if err != nil {
				return nil, false, fmt.Errorf("find inviter: %w", err)
			}
			if owner != nil {
				referredBy = &inviter
			}
		}
	}

	user, created, err := s.users.Ensure(ctx, p, s.cfg.NewUserGiftCoins, referredBy)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	if created {
		s.log.Info("user created", "chat_id", p.ChatID, "referred_by", referredBy)
	}
	if created && user.ReferredBy != nil && s.cfg.ReferralBonusCredits > 0 {
		inviter := *user.ReferredBy
		if err := s.users.AddCredits(ctx, inviter, s.cfg.ReferralBonusCredits); err != nil {
			s.log.Error("credit referral bonus", "inviter", inviter, "err", err)
		} else if s.notifier != nil {
			if err := s.notifier.SendText(ctx, inviter, texts.ReferralJoined(s.cfg.ReferralBonusCredits)); err != nil {
				s.log.Error("notify inviter", "inviter", inviter, "err", err)
			}
		}
	}
	return user, created, nil
}

// ParseReferral extracts the inviter chat id from a "ref_<chatID>" payload.
func ParseReferral(payload string) (int64, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, referralPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, referralPrefix), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// ReferralLink is the deep link that credits chatID as inviter.
func ReferralLink(botUsername string, chatID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%d", botUsername, referralPrefix, chatID)
}

func (s *UserService) Balance(ctx context.Context, chatID int64) (int, error) {
	user, err := s.users.FindByChatID(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return 0, nil
	}
	return user.Credits, nil
}

// Referrals counts the users that joined through chatID's link.
func (s *UserService) Referrals(ctx context.Context, chatID int64) (int, error) {
	refs, err := s.users.ListReferrals(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("list referrals: %w", err)
	}
	return len(refs), nil
}

// AdjustCredits applies a manual correction and returns the new balance.
func (s *UserService) AdjustCredits(ctx context.Context, chatID int64, delta int) (int, error) {
	user, err := s.users.FindByChatID(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return 0, ErrNotFound
	}
	if err := s.users.AddCredits(ctx, chatID, delta); err != nil {
		return 0, fmt.Errorf("adjust credits: %w", err)
	}
	s.log.Info("credits adjusted", "chat_id", chatID, "delta", delta)
	return s.Balance(ctx, chatID)
}

func (s *UserService) ListChatIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListChatIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chat ids: %w", err)
	}
	return ids, nil
}
