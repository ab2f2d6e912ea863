package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/digkill/PhotoshootBot/internal/models"
	"github.com/digkill/PhotoshootBot/internal/repository"
	"github.com/digkill/PhotoshootBot/internal/zarinpal"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrQueueLimit          = errors.New("queue limit reached")
	ErrAlreadySubmitted    = errors.New("generation already submitted")
	ErrButtonExpected      = errors.New("a button choice is expected")
	ErrUnknownTemplate     = errors.New("template not found")
	ErrUnknownPackage      = errors.New("credit package not found")
	ErrNoResult            = errors.New("generation has no result")
	ErrConflict            = errors.New("generation changed concurrently")
)

// InsufficientCreditsError carries the numbers shown to the user.
type InsufficientCreditsError struct {
	Balance int
	Cost    int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, cost %d", e.Balance, e.Cost)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

type GenerationStore interface {
	Create(ctx context.Context, g *models.Generation) error
	GetForChat(ctx context.Context, id string, chatID int64) (*models.Generation, error)
	GetByJobID(ctx context.Context, jobID string) (*models.Generation, error)
	LatestOpen(ctx context.Context, chatID int64) (*models.Generation, error)
	ListByChat(ctx context.Context, chatID int64, limit int) ([]models.Generation, error)
	ListQueued(ctx context.Context, limit int) ([]models.Generation, error)
	CountByStatus(ctx context.Context, chatID int64, status models.Status, excludeID string) (int, error)
	Update(ctx context.Context, g *models.Generation, from models.Status) error
	Enqueue(ctx context.Context, g *models.Generation, from models.Status, cost int, singleQueued bool) (int, error)
	Release(ctx context.Context, g *models.Generation, from models.Status) (int, error)
}

type UserStore interface {
	Ensure(ctx context.Context, p repository.Profile, giftCredits int, referredBy *int64) (*models.User, bool, error)
	FindByChatID(ctx context.Context, chatID int64) (*models.User, error)
	AddCredits(ctx context.Context, chatID int64, delta int) error
	ListChatIDs(ctx context.Context) ([]int64, error)
	ListReferrals(ctx context.Context, chatID int64) ([]int64, error)
}

type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetForChat(ctx context.Context, id string, chatID int64) (*models.Payment, error)
	GetByAuthority(ctx context.Context, authority string) (*models.Payment, error)
	Complete(ctx context.Context, p *models.Payment, refID string) (bool, error)
	MarkFailed(ctx context.Context, id string) error
}

// PhotoFetcher downloads a chat photo by its transport file id.
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, fileID string) (data []byte, filename string, err error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

type PromptGenerator interface {
	FromText(ctx context.Context, description string) (string, error)
	FromImage(ctx context.Context, description, imageURL string) (string, error)
}

type ImageGenerator interface {
	Submit(ctx context.Context, prompt, inputURL string) (string, error)
	Model() string
}

type PaymentGateway interface {
	Create(ctx context.Context, amount int, description string) (*zarinpal.Session, error)
	Verify(ctx context.Context, authority string, amount int) (*zarinpal.VerifyResult, error)
}

// Notifier pushes messages to a chat outside of a request/response exchange.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error
}
