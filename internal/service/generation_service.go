package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/digkill/PhotoshootBot/internal/appconfig"
	"github.com/digkill/PhotoshootBot/internal/config"
	"github.com/digkill/PhotoshootBot/internal/fsm"
	"github.com/digkill/PhotoshootBot/internal/models"
	"github.com/digkill/PhotoshootBot/internal/replicate"
	"github.com/digkill/PhotoshootBot/internal/repository"
	"github.com/digkill/PhotoshootBot/internal/texts"
)

const (
	historyLimit  = 10
	maxTextLength = 1000
	storeAttempts = 3
	// productPlaceholder is replaced in template prompts.
	productPlaceholder = "{product_name}"
)

type GenerationDeps struct {
	Generations GenerationStore
	Users       UserStore
	Catalog     appconfig.Source
	Photos      PhotoFetcher
	Uploader    Uploader
	Prompts     PromptGenerator
	Images      ImageGenerator
	Notifier    Notifier
}

type GenerationService struct {
	cfg         config.Config
	log         *slog.Logger
	generations GenerationStore
	users       UserStore
	catalog     appconfig.Source
	photos      PhotoFetcher
	uploader    Uploader
	prompts     PromptGenerator
	images      ImageGenerator
	notifier    Notifier
	now         func() time.Time
	retryDelay  time.Duration
	dispatchMu  sync.Mutex
}

// AcceptResult describes a request that made it into the queue.
type AcceptResult struct {
	Generation *models.Generation
	Cost       int
	Balance    int
}

// Completion is how a webhook delivery was applied.
type Completion string

const (
	CompletionDone      Completion = "done"
	CompletionFailed    Completion = "failed"
	CompletionIgnored   Completion = "ignored"
	CompletionDuplicate Completion = "duplicate"
)

func NewGenerationService(cfg config.Config, log *slog.Logger, deps GenerationDeps) *GenerationService {
	return &GenerationService{
		cfg:         cfg,
		log:         log,
		generations: deps.Generations,
		users:       deps.Users,
		catalog:     deps.Catalog,
		photos:      deps.Photos,
		uploader:    deps.Uploader,
		prompts:     deps.Prompts,
		images:      deps.Images,
		notifier:    deps.Notifier,
		now:         time.Now,
		retryDelay:  500 * time.Millisecond,
	}
}

// Start opens a new request for the photo. Unfinished drafts of the chat are
// cancelled so typed text always reaches the newest one, and the chat is told.
func (s *GenerationService) Start(ctx context.Context, chatID int64, photoFileID string) (*models.Generation, error) {
	superseded := 0
	for i := 0; i < 5; i++ {
		open, err := s.generations.LatestOpen(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("find open generation: %w", err)
		}
		if open == nil {
			break
		}
		err = s.advance(ctx, open, fsm.EventCancel, nil)
		switch {
		case err == nil:
			superseded++
		case !errors.Is(err, ErrConflict):
			return nil, err
		}
	}
	if superseded > 0 {
		s.log.Info("drafts superseded", "chat_id", chatID, "count", superseded)
		s.notifyText(ctx, chatID, texts.DraftSuperseded)
	}

	g := &models.Generation{
		ChatID:      chatID,
		PhotoFileID: photoFileID,
		Status:      models.StatusInit,
	}
	user, err := s.users.FindByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user != nil {
		g.IsPaidUser = user.Paid
	}
	if err := s.generations.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	s.log.Info("generation started", "generation_id", g.ID, "chat_id", chatID)
	return g, nil
}

func (s *GenerationService) SelectService(ctx context.Context, chatID int64, id string, service models.Service) (*models.Generation, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	ev := fsm.EventSelectPhotoshoot
	if service == models.ServiceModeling {
		ev = fsm.EventSelectModeling
	}
	err = s.advance(ctx, g, ev, func(n *models.Generation) {
		n.Service = service
	})
	return g, err
}

func (s *GenerationService) SelectMode(ctx context.Context, chatID int64, id string, mode models.Mode) (*models.Generation, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	ev := fsm.EventChooseFreeTextMode
	if mode == models.ModeTemplate {
		ev = fsm.EventChooseTemplateMode
	}
	err = s.advance(ctx, g, ev, func(n *models.Generation) {
		n.Mode = mode
	})
	return g, err
}

// Gallery returns the templates to offer for the record. A gender passed while the
// record waits for one is taken as the gender choice.
func (s *GenerationService) Gallery(ctx context.Context, chatID int64, id string, gender models.Gender) (*models.Generation, []appconfig.Template, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, nil, err
	}
	if g.Status == models.StatusAwaitingModelGender {
		if gender == "" {
			return nil, nil, &fsm.TransitionError{From: g.Status, Event: fsm.EventChooseGender}
		}
		if err := s.advance(ctx, g, fsm.EventChooseGender, func(n *models.Generation) {
			n.ModelGender = gender
		}); err != nil {
			return nil, nil, err
		}
	}
	if g.Status != models.StatusAwaitingTemplateSelection {
		return nil, nil, &fsm.TransitionError{From: g.Status, Event: fsm.EventChooseTemplate}
	}
	return g, s.catalog.Current().Templates(g.Service, g.ModelGender), nil
}

func (s *GenerationService) ChooseTemplate(ctx context.Context, chatID int64, id, templateID string) (*models.Generation, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	if g.Status != models.StatusAwaitingTemplateSelection {
		return nil, &fsm.TransitionError{From: g.Status, Event: fsm.EventChooseTemplate}
	}
	if _, ok := s.catalog.Current().Template(g.Service, g.ModelGender, templateID); !ok {
		return nil, ErrUnknownTemplate
	}
	err = s.advance(ctx, g, fsm.EventChooseTemplate, func(n *models.Generation) {
		n.TemplateID = templateID
	})
	return g, err
}

// SubmitText stores typed input on the chat's open record.
func (s *GenerationService) SubmitText(ctx context.Context, chatID int64, text string) (*models.Generation, error) {
	g, err := s.generations.LatestOpen(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("find open generation: %w", err)
	}
	if g == nil {
		return nil, ErrNotFound
	}
	text = strings.TrimSpace(text)
	if !fsm.AcceptsText(g.Status) || text == "" {
		return g, ErrButtonExpected
	}
	text = truncate(text, maxTextLength)
	err = s.advance(ctx, g, fsm.EventSubmitText, func(n *models.Generation) {
		if n.Status == models.StatusAwaitingProductName {
			n.ProductName = text
		} else {
			n.Description = text
		}
	})
	return g, err
}

func (s *GenerationService) Edit(ctx context.Context, chatID int64, id string) (*models.Generation, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	err = s.advance(ctx, g, fsm.EventEdit, nil)
	return g, err
}

// CancelDraft abandons a record that was not queued yet.
func (s *GenerationService) CancelDraft(ctx context.Context, chatID int64, id string) (*models.Generation, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	if !fsm.Open(g.Status) {
		return nil, &fsm.TransitionError{From: g.Status, Event: fsm.EventCancel}
	}
	err = s.advance(ctx, g, fsm.EventCancel, nil)
	return g, err
}

// CancelLatest abandons the chat's newest unfinished draft.
func (s *GenerationService) CancelLatest(ctx context.Context, chatID int64) (*models.Generation, error) {
	g, err := s.generations.LatestOpen(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("find open generation: %w", err)
	}
	if g == nil {
		return nil, ErrNotFound
	}
	err = s.advance(ctx, g, fsm.EventCancel, nil)
	return g, err
}

// CancelQueued cancels a queued record and returns its cost to the owner. It
// reports the amount refunded.
func (s *GenerationService) CancelQueued(ctx context.Context, chatID int64, id string) (*models.Generation, int, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, 0, err
	}
	if g.Status != models.StatusInQueue {
		return nil, 0, &fsm.TransitionError{From: g.Status, Event: fsm.EventCancel}
	}
	next, err := s.transition(g, fsm.EventCancel, nil)
	if err != nil {
		return nil, 0, err
	}
	refunded, err := s.generations.Release(ctx, &next, g.Status)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, 0, ErrConflict
		}
		return nil, 0, fmt.Errorf("cancel queued generation: %w", err)
	}
	*g = next
	s.log.Info("queued generation cancelled", "generation_id", g.ID, "chat_id", chatID, "refunded", refunded)
	return g, refunded, nil
}

// Accept runs the submission pipeline for a confirmed record: cost, credit check,
// queue depth, photo upload, prompt, then debit and queue in one step. Nothing is
// debited unless the record reaches inqueue.
func (s *GenerationService) Accept(ctx context.Context, chatID int64, id string) (*AcceptResult, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	if g.Status != models.StatusAwaitingConfirmation {
		switch g.Status {
		case models.StatusInQueue, models.StatusProcessing, models.StatusDone:
			return nil, ErrAlreadySubmitted
		}
		return nil, &fsm.TransitionError{From: g.Status, Event: fsm.EventQueue}
	}

	cost := s.Cost(g)

	user, err := s.users.FindByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	balance := 0
	if user != nil {
		balance = user.Credits
	}
	if balance < cost {
		return nil, s.reject(ctx, g, balance, cost)
	}

	// The count here saves an upload for a request that cannot be queued. Enqueue
	// repeats it under the owner's row lock.
	paid := user != nil && user.Paid
	if !paid {
		queued, err := s.generations.CountByStatus(ctx, chatID, models.StatusInQueue, g.ID)
		if err != nil {
			return nil, fmt.Errorf("count queued generations: %w", err)
		}
		if queued > 0 {
			return nil, s.queueLimited(ctx, g)
		}
	}

	if g.InputURL == "" {
		url, err := s.uploadPhoto(ctx, g)
		if err != nil {
			return nil, s.fail(ctx, g, err)
		}
		g.InputURL = url
	}

	prompt, err := s.buildPrompt(ctx, g)
	if err != nil {
		return nil, s.fail(ctx, g, err)
	}
	g.Prompt = prompt
	g.IsPaidUser = paid
	g.ModelName = s.images.Model()

	next, err := s.transition(g, fsm.EventQueue, nil)
	if err != nil {
		return nil, err
	}
	newBalance, err := s.generations.Enqueue(ctx, &next, g.Status, cost, !paid)
	switch {
	case err == nil:
		*g = next
	case errors.Is(err, repository.ErrQueueLimit):
		return nil, s.queueLimited(ctx, g)
	case errors.Is(err, repository.ErrInsufficientCredits):
		latest, findErr := s.users.FindByChatID(ctx, chatID)
		if findErr == nil && latest != nil {
			balance = latest.Credits
		}
		return nil, s.reject(ctx, g, balance, cost)
	case errors.Is(err, repository.ErrStaleStatus):
		return nil, ErrAlreadySubmitted
	default:
		return nil, s.fail(ctx, g, fmt.Errorf("queue generation: %w", err))
	}

	s.log.Info("generation queued", "generation_id", g.ID, "chat_id", chatID, "cost", cost, "balance", newBalance)
	return &AcceptResult{Generation: g, Cost: cost, Balance: newBalance}, nil
}

// Cost resolves the price of the record from the cost table.
func (s *GenerationService) Cost(g *models.Generation) int {
	key := g.CostKey()
	if cost, ok := s.catalog.Current().Cost(g.Service, key); ok {
		return cost
	}
	s.log.Warn("generation cost not configured, using default",
		"service", g.Service, "mode", key, "default", s.cfg.DefaultGenerationCost)
	return s.cfg.DefaultGenerationCost
}

// Template returns the template the record refers to, if any.
func (s *GenerationService) Template(g *models.Generation) (appconfig.Template, bool) {
	if g.TemplateID == "" {
		return appconfig.Template{}, false
	}
	return s.catalog.Current().Template(g.Service, g.ModelGender, g.TemplateID)
}

// DispatchQueued submits the oldest queued records to the image model. Runs that
// overlap an active one return immediately.
func (s *GenerationService) DispatchQueued(ctx context.Context) (int, error) {
	if !s.dispatchMu.TryLock() {
		return 0, nil
	}
	defer s.dispatchMu.Unlock()

	queued, err := s.generations.ListQueued(ctx, s.cfg.DispatchBatch)
	if err != nil {
		return 0, fmt.Errorf("list queued generations: %w", err)
	}
	dispatched := 0
	for i := range queued {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		if s.dispatch(ctx, &queued[i]) {
			dispatched++
		}
	}
	return dispatched, nil
}

func (s *GenerationService) dispatch(ctx context.Context, g *models.Generation) bool {
	next, err := s.transition(g, fsm.EventDispatch, nil)
	if err != nil {
		s.log.Warn("skip dispatch", "generation_id", g.ID, "err", err)
		return false
	}
	jobID, err := s.images.Submit(ctx, g.Prompt, g.InputURL)
	if err != nil {
		s.log.Error("submit generation failed", "generation_id", g.ID, "err", err)
		failed, trErr := s.transition(g, fsm.EventFail, func(n *models.Generation) {
			n.Error = err.Error()
		})
		if trErr != nil {
			s.log.Error("fail generation", "generation_id", g.ID, "err", trErr)
			return false
		}
		refunded, relErr := s.generations.Release(ctx, &failed, g.Status)
		if relErr != nil {
			if errors.Is(relErr, repository.ErrStaleStatus) {
				s.log.Warn("generation left the queue during submission", "generation_id", g.ID)
				return false
			}
			s.log.Error("release failed generation", "generation_id", g.ID, "err", relErr)
			return false
		}
		s.notifyText(ctx, g.ChatID, texts.SubmissionFailed(refunded))
		return false
	}

	next.JobID = jobID
	if err := s.storeDispatched(ctx, &next, g.Status); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			s.log.Warn("generation left the queue before dispatch completed", "generation_id", g.ID, "job_id", jobID)
			return false
		}
		s.log.Error("store job id", "generation_id", g.ID, "job_id", jobID, "err", err)
		return false
	}
	*g = next
	s.log.Info("generation dispatched", "generation_id", g.ID, "job_id", jobID)
	return true
}

// storeDispatched records the job id of a submitted record. The job already
// exists upstream, so transient store errors are retried instead of leaving the
// record queued for a second submission.
func (s *GenerationService) storeDispatched(ctx context.Context, g *models.Generation, from models.Status) error {
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		err = s.generations.Update(ctx, g, from)
		if err == nil || errors.Is(err, repository.ErrStaleStatus) {
			return err
		}
		s.log.Warn("store job id failed", "generation_id", g.ID, "job_id", g.JobID, "attempt", attempt, "err", err)
		if attempt == storeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}
	return err
}

// Complete applies a webhook delivery. Lookup is by job id only; the chat comes
// from the stored record.
func (s *GenerationService) Complete(ctx context.Context, p replicate.Prediction) (Completion, error) {
	g, err := s.generations.GetByJobID(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("get generation by job: %w", err)
	}
	if g == nil {
		return "", ErrNotFound
	}
	if !p.Terminal() {
		return CompletionIgnored, nil
	}
	if g.Status != models.StatusProcessing {
		s.log.Info("webhook for settled generation", "generation_id", g.ID, "status", g.Status, "job_status", p.Status)
		return CompletionDuplicate, nil
	}

	if p.Status == replicate.StatusSucceeded && len(p.Output) > 0 {
		next, err := s.transition(g, fsm.EventSucceed, func(n *models.Generation) {
			n.ResultURL = p.Output[0]
		})
		if err != nil {
			return "", err
		}
		if err := s.generations.Update(ctx, &next, g.Status); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return CompletionDuplicate, nil
			}
			return "", fmt.Errorf("complete generation: %w", err)
		}
		s.log.Info("generation done", "generation_id", g.ID, "job_id", p.ID)
		if s.notifier != nil {
			if err := s.notifier.SendPhoto(ctx, g.ChatID, next.ResultURL, texts.Result(g.ID)); err != nil {
				s.log.Error("deliver result", "generation_id", g.ID, "err", err)
			}
		}
		return CompletionDone, nil
	}

	reason := p.Error
	if reason == "" {
		reason = texts.UnknownError
		if p.Status == replicate.StatusSucceeded {
			reason = "no output returned"
		}
	}
	next, err := s.transition(g, fsm.EventFail, func(n *models.Generation) {
		n.Error = reason
	})
	if err != nil {
		return "", err
	}
	refunded := 0
	if s.cfg.RefundOnFailedJob {
		refunded, err = s.generations.Release(ctx, &next, g.Status)
	} else {
		err = s.generations.Update(ctx, &next, g.Status)
	}
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return CompletionDuplicate, nil
		}
		return "", fmt.Errorf("fail generation: %w", err)
	}
	s.log.Info("generation failed", "generation_id", g.ID, "job_id", p.ID, "reason", reason, "refunded", refunded)
	s.notifyText(ctx, g.ChatID, texts.GenerationFailed(reason))
	return CompletionFailed, nil
}

// History returns the chat's most recent records.
func (s *GenerationService) History(ctx context.Context, chatID int64) ([]models.Generation, error) {
	items, err := s.generations.ListByChat(ctx, chatID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return items, nil
}

// Resend returns a finished record so its image can be sent again.
func (s *GenerationService) Resend(ctx context.Context, chatID int64, id string) (*models.Generation, error) {
	g, err := s.get(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	if g.Status != models.StatusDone || g.ResultURL == "" {
		return nil, ErrNoResult
	}
	return g, nil
}

func (s *GenerationService) get(ctx context.Context, chatID int64, id string) (*models.Generation, error) {
	g, err := s.generations.GetForChat(ctx, id, chatID)
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	if g == nil {
		return nil, ErrNotFound
	}
	return g, nil
}

// transition returns g after ev without persisting it. Every status change goes
// through here so the table in fsm stays the only source of moves.
func (s *GenerationService) transition(g *models.Generation, ev fsm.Event, mutate func(*models.Generation)) (models.Generation, error) {
	next := *g
	if mutate != nil {
		mutate(&next)
	}
	to, err := fsm.Next(g.Status, ev, branchOf(&next))
	if err != nil {
		return *g, err
	}
	next.Status = to
	if to.Terminal() {
		next.CompletedAt = s.stamp()
	}
	return next, nil
}

// advance applies ev to g and persists the result only if the stored status is
// still the one g was read with. g is updated on success.
func (s *GenerationService) advance(ctx context.Context, g *models.Generation, ev fsm.Event, mutate func(*models.Generation)) error {
	next, err := s.transition(g, ev, mutate)
	if err != nil {
		return err
	}
	if err := s.generations.Update(ctx, &next, g.Status); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return ErrConflict
		}
		return fmt.Errorf("update generation: %w", err)
	}
	*g = next
	return nil
}

// reject records an insufficient balance on the record. Nothing is debited.
func (s *GenerationService) reject(ctx context.Context, g *models.Generation, balance, cost int) error {
	if err := s.advance(ctx, g, fsm.EventReject, func(n *models.Generation) {
		n.Error = texts.InsufficientReason
	}); err != nil {
		return err
	}
	s.log.Info("insufficient credits", "generation_id", g.ID, "chat_id", g.ChatID, "balance", balance, "cost", cost)
	return &InsufficientCreditsError{Balance: balance, Cost: cost}
}

func (s *GenerationService) queueLimited(ctx context.Context, g *models.Generation) error {
	if err := s.advance(ctx, g, fsm.EventQueueLimit, func(n *models.Generation) {
		n.Error = texts.QueueLimitReason
	}); err != nil {
		return err
	}
	s.log.Info("queue limit reached", "generation_id", g.ID, "chat_id", g.ChatID)
	return ErrQueueLimit
}

// fail records a collaborator failure that happened before any debit.
func (s *GenerationService) fail(ctx context.Context, g *models.Generation, cause error) error {
	s.log.Error("generation pipeline failed", "generation_id", g.ID, "err", cause)
	if err := s.advance(ctx, g, fsm.EventFail, func(n *models.Generation) {
		n.Error = cause.Error()
	}); err != nil {
		s.log.Error("record pipeline failure", "generation_id", g.ID, "err", err)
	}
	return cause
}

func (s *GenerationService) uploadPhoto(ctx context.Context, g *models.Generation) (string, error) {
	data, filename, err := s.photos.FetchPhoto(ctx, g.PhotoFileID)
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}
	url, err := s.uploader.Upload(ctx, data, filename)
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return url, nil
}

func (s *GenerationService) buildPrompt(ctx context.Context, g *models.Generation) (string, error) {
	if g.Service == models.ServiceModeling || g.Mode == models.ModeTemplate {
		tpl, ok := s.Template(g)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, g.TemplateID)
		}
		name := g.ProductName
		if name == "" {
			name = "the product"
		}
		return strings.ReplaceAll(tpl.Prompt, productPlaceholder, name), nil
	}
	switch g.Mode {
	case models.ModeManual:
		return s.prompts.FromText(ctx, g.Description)
	case models.ModeAutomatic:
		return s.prompts.FromImage(ctx, g.Description, g.InputURL)
	}
	return "", fmt.Errorf("unsupported generation mode %q", g.Mode)
}

func (s *GenerationService) notifyText(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendText(ctx, chatID, text); err != nil {
		s.log.Error("notify chat", "chat_id", chatID, "err", err)
	}
}

func (s *GenerationService) stamp() *time.Time {
	t := s.now().UTC()
	return &t
}

func branchOf(g *models.Generation) fsm.Branch {
	return fsm.Branch{Service: g.Service, Mode: g.Mode}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
