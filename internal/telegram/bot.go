package telegram

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PhotoshootBot/internal/appconfig"
	"github.com/digkill/PhotoshootBot/internal/fsm"
	"github.com/digkill/PhotoshootBot/internal/models"
	"github.com/digkill/PhotoshootBot/internal/prompt"
	"github.com/digkill/PhotoshootBot/internal/repository"
	"github.com/digkill/PhotoshootBot/internal/service"
	"github.com/digkill/PhotoshootBot/internal/texts"
	"github.com/digkill/PhotoshootBot/internal/zarinpal"
)

const historyTimeLayout = "2006-01-02 15:04"

type Bot struct {
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	users      *service.UserService
	generation *service.GenerationService
	payments   *service.PaymentService
	sender     *Sender
	wg         sync.WaitGroup
}

func NewBot(api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, generation *service.GenerationService, payments *service.PaymentService, sender *Sender) *Bot {
	return &Bot{
		api:        api,
		log:        log,
		users:      users,
		generation: generation,
		payments:   payments,
		sender:     sender,
	}
}

// Run polls for updates until ctx is done. Each update is handled on its own
// goroutine; Run waits for in-flight handlers before returning.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			b.wg.Add(1)
			go b.handleUpdate(ctx, update)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("update handler panicked", "update_id", update.UpdateID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	payload := ""
	if msg.IsCommand() && msg.Command() == "start" {
		payload = msg.CommandArguments()
	}
	if _, _, err := b.users.Ensure(ctx, profileOf(msg.From, chatID), payload); err != nil {
		b.log.Error("ensure user", "chat_id", chatID, "err", err)
		b.sendText(chatID, texts.GenericError)
		return
	}

	if fileID := photoFileID(msg); fileID != "" {
		b.handlePhoto(ctx, chatID, fileID)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if strings.TrimSpace(msg.Text) != "" {
		b.handleText(ctx, chatID, msg.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		b.sendText(chatID, texts.Welcome)
	case "help":
		b.sendText(chatID, texts.Help)
	case "generate":
		b.sendText(chatID, texts.Generate)
	case "balance":
		credits, err := b.users.Balance(ctx, chatID)
		if err != nil {
			b.replyError(chatID, "balance", err)
			return
		}
		b.sendText(chatID, texts.Balance(credits))
	case "buy", "menu":
		b.showShop(chatID)
	case "myprojects":
		b.showHistory(ctx, chatID)
	case "invite":
		refs, err := b.users.Referrals(ctx, chatID)
		if err != nil {
			b.replyError(chatID, "referrals", err)
			return
		}
		b.sendText(chatID, texts.Invite(service.ReferralLink(b.api.Self.UserName, chatID), refs))
	case "cancel":
		if _, err := b.generation.CancelLatest(ctx, chatID); err != nil {
			if errors.Is(err, service.ErrNotFound) {
				b.sendText(chatID, texts.NothingToCancel)
				return
			}
			b.replyError(chatID, "cancel latest", err)
			return
		}
		b.sendText(chatID, texts.Cancelled)
	default:
		b.sendText(chatID, texts.Help)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, chatID int64, fileID string) {
	g, err := b.generation.Start(ctx, chatID, fileID)
	if err != nil {
		b.replyError(chatID, "start generation", err)
		return
	}
	b.sendKeyboard(chatID, texts.ChooseService, serviceKeyboard(g.ID))
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	g, err := b.generation.SubmitText(ctx, chatID, text)
	switch {
	case errors.Is(err, service.ErrNotFound):
		b.sendText(chatID, texts.SendPhotoFirst)
	case errors.Is(err, service.ErrButtonExpected):
		b.sendText(chatID, texts.UseButtons)
	case err != nil:
		b.replyError(chatID, "submit text", err)
	default:
		b.promptNext(ctx, chatID, g)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		b.ack(cq.ID, texts.InvalidChoice)
		return
	}
	chatID := cq.Message.Chat.ID
	cb, err := ParseCallback(cq.Data)
	if err != nil {
		b.log.Warn("malformed callback", "chat_id", chatID, "data", cq.Data)
		b.ack(cq.ID, texts.InvalidChoice)
		return
	}
	b.ack(cq.ID, "")

	switch cb.Kind {
	case KindSelectService:
		g, err := b.generation.SelectService(ctx, chatID, cb.ID, cb.Service)
		if err != nil {
			b.replyError(chatID, "select service", err)
			return
		}
		b.promptNext(ctx, chatID, g)
	case KindSelectMode:
		g, err := b.generation.SelectMode(ctx, chatID, cb.ID, cb.Mode)
		if err != nil {
			b.replyError(chatID, "select mode", err)
			return
		}
		b.promptNext(ctx, chatID, g)
	case KindGalleryPage:
		g, tpls, err := b.generation.Gallery(ctx, chatID, cb.ID, cb.Gender)
		if err != nil {
			b.replyError(chatID, "gallery", err)
			return
		}
		b.showGallery(chatID, cq.Message, g, tpls, cb.Page)
	case KindSelectTemplate:
		g, err := b.generation.ChooseTemplate(ctx, chatID, cb.ID, cb.TemplateID)
		if err != nil {
			b.replyError(chatID, "choose template", err)
			return
		}
		b.promptNext(ctx, chatID, g)
	case KindConfirm:
		b.handleConfirm(ctx, chatID, cb)
	case KindBuy:
		b.handleBuy(ctx, chatID, cb.Package)
	case KindVerify:
		b.handleVerify(ctx, chatID, cb.ID)
	case KindResend:
		g, err := b.generation.Resend(ctx, chatID, cb.ID)
		if err != nil {
			if errors.Is(err, service.ErrNoResult) {
				b.sendText(chatID, texts.NoResult)
				return
			}
			b.replyError(chatID, "resend", err)
			return
		}
		if err := b.sender.SendPhoto(ctx, chatID, g.ResultURL, texts.Result(g.ID)); err != nil {
			b.log.Error("resend result", "generation_id", g.ID, "err", err)
		}
	case KindCancelQueued:
		_, refunded, err := b.generation.CancelQueued(ctx, chatID, cb.ID)
		if err != nil {
			if errors.Is(err, fsm.ErrInvalidTransition) {
				b.sendText(chatID, texts.NotCancellable)
				return
			}
			b.replyError(chatID, "cancel queued", err)
			return
		}
		b.sendText(chatID, texts.CancelledRefund(refunded))
	}
}

func (b *Bot) handleConfirm(ctx context.Context, chatID int64, cb Callback) {
	switch cb.Action {
	case ConfirmEdit:
		g, err := b.generation.Edit(ctx, chatID, cb.ID)
		if err != nil {
			b.replyError(chatID, "edit", err)
			return
		}
		b.promptNext(ctx, chatID, g)
	case ConfirmCancel:
		if _, err := b.generation.CancelDraft(ctx, chatID, cb.ID); err != nil {
			b.replyError(chatID, "cancel draft", err)
			return
		}
		b.sendText(chatID, texts.Cancelled)
	case ConfirmAccept:
		b.handleAccept(ctx, chatID, cb.ID)
	}
}

func (b *Bot) handleAccept(ctx context.Context, chatID int64, id string) {
	if m, err := b.api.Send(tgbotapi.NewMessage(chatID, texts.Processing)); err == nil {
		defer b.deleteMessage(chatID, m.MessageID)
	} else {
		b.log.Error("send processing message", "err", err)
	}

	res, err := b.generation.Accept(ctx, chatID, id)
	if err == nil {
		b.sendText(chatID, texts.Queued(res.Generation.ID, res.Cost, res.Balance))
		return
	}

	var insufficient *service.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		b.sendText(chatID, texts.InsufficientCredits(insufficient.Balance, insufficient.Cost))
	case errors.Is(err, service.ErrQueueLimit):
		b.sendText(chatID, texts.QueueLimit)
	case errors.Is(err, service.ErrAlreadySubmitted):
		b.sendText(chatID, texts.AlreadySubmitted)
	case errors.Is(err, prompt.ErrRefused):
		b.sendText(chatID, texts.PromptRefused)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrConflict), errors.Is(err, fsm.ErrInvalidTransition):
		b.replyError(chatID, "accept", err)
	default:
		b.log.Error("accept generation", "generation_id", id, "err", err)
		b.sendText(chatID, texts.PipelineFailed)
	}
}

// promptNext asks for whatever the record's status is waiting on.
func (b *Bot) promptNext(ctx context.Context, chatID int64, g *models.Generation) {
	switch g.Status {
	case models.StatusInit:
		b.sendKeyboard(chatID, texts.ChooseService, serviceKeyboard(g.ID))
	case models.StatusAwaitingModeSelection:
		b.sendKeyboard(chatID, texts.ChooseMode, modeKeyboard(g.ID))
	case models.StatusAwaitingModelGender:
		b.sendKeyboard(chatID, texts.ChooseGender, genderKeyboard(g.ID))
	case models.StatusAwaitingTemplateSelection:
		g, tpls, err := b.generation.Gallery(ctx, chatID, g.ID, "")
		if err != nil {
			b.replyError(chatID, "gallery", err)
			return
		}
		b.showGallery(chatID, nil, g, tpls, 0)
	case models.StatusAwaitingDescription:
		if g.Mode == models.ModeAutomatic {
			b.sendText(chatID, texts.AskAutoNotes)
			return
		}
		b.sendText(chatID, texts.AskDescription)
	case models.StatusAwaitingProductName:
		b.sendText(chatID, texts.AskProductName)
	case models.StatusAwaitingConfirmation:
		b.sendKeyboard(chatID, b.confirmationText(g), confirmKeyboard(g.ID))
	default:
		b.sendText(chatID, texts.AlreadySubmitted)
	}
}

func (b *Bot) confirmationText(g *models.Generation) string {
	templateName := ""
	if tpl, ok := b.generation.Template(g); ok {
		templateName = tpl.Name
	}
	mode := string(g.Mode)
	if g.Service == models.ServiceModeling {
		mode = string(g.ModelGender)
	}
	return texts.Confirmation(string(g.Service), mode, templateName, g.ProductName, g.Description)
}

// showGallery renders one template page. Navigation inside an existing gallery
// message edits it in place.
func (b *Bot) showGallery(chatID int64, current *tgbotapi.Message, g *models.Generation, tpls []appconfig.Template, page int) {
	if len(tpls) == 0 {
		b.sendText(chatID, texts.NoTemplates)
		return
	}
	page = pageOf(page, len(tpls))
	tpl := tpls[page]
	caption := texts.TemplateCaption(tpl.Name, page, len(tpls))
	markup := galleryKeyboard(g.ID, tpl, page, len(tpls))

	if current != nil && len(current.Photo) > 0 && tpl.ImageURL != "" {
		media := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(tpl.ImageURL))
		media.Caption = caption
		media.ParseMode = tgbotapi.ModeHTML
		edit := tgbotapi.EditMessageMediaConfig{
			BaseEdit: tgbotapi.BaseEdit{ChatID: chatID, MessageID: current.MessageID, ReplyMarkup: &markup},
			Media:    media,
		}
		_, err := b.api.Request(edit)
		if err == nil {
			return
		}
		b.log.Warn("edit gallery page", "generation_id", g.ID, "err", err)
	}

	if tpl.ImageURL == "" {
		b.sendKeyboard(chatID, texts.ChooseTemplate+"\n"+caption, markup)
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(tpl.ImageURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	photo.ReplyMarkup = markup
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send gallery page", "generation_id", g.ID, "err", err)
		b.sendKeyboard(chatID, texts.ChooseTemplate+"\n"+caption, markup)
	}
}

func (b *Bot) showShop(chatID int64) {
	pkgs, message := b.payments.Packages()
	if len(pkgs) == 0 {
		b.sendText(chatID, texts.NoPackages)
		return
	}
	b.sendKeyboard(chatID, texts.ShopMenu(message), packagesKeyboard(pkgs))
}

func (b *Bot) showHistory(ctx context.Context, chatID int64) {
	items, err := b.generation.History(ctx, chatID)
	if err != nil {
		b.replyError(chatID, "history", err)
		return
	}
	if len(items) == 0 {
		b.sendText(chatID, texts.NoProjects)
		return
	}
	lines := []string{texts.HistoryHeader(len(items))}
	for _, g := range items {
		lines = append(lines, texts.HistoryLine(g.ID, string(g.Status), string(g.Service), g.CreatedAt.Format(historyTimeLayout)))
	}
	text := strings.Join(lines, "\n")
	if markup, ok := historyKeyboard(items); ok {
		b.sendKeyboard(chatID, text, markup)
		return
	}
	b.sendText(chatID, text)
}

func (b *Bot) handleBuy(ctx context.Context, chatID int64, pkgIdx int) {
	p, err := b.payments.Create(ctx, chatID, pkgIdx)
	if err != nil {
		var gatewayErr *zarinpal.GatewayError
		switch {
		case errors.Is(err, service.ErrUnknownPackage):
			b.sendText(chatID, texts.PackageNotFound)
		case errors.As(err, &gatewayErr):
			b.log.Warn("payment request rejected", "chat_id", chatID, "code", gatewayErr.Code, "message", gatewayErr.Message)
			b.sendText(chatID, texts.PaymentCreationError(gatewayErr.Message))
		default:
			b.log.Error("create payment", "chat_id", chatID, "err", err)
			b.sendText(chatID, texts.PaymentCreationError(texts.UnknownError))
		}
		return
	}
	b.sendKeyboard(chatID, texts.PurchasePrompt(p.PackageCoins, p.Amount), paymentKeyboard(p.PaymentLink, p.ID, false))
}

func (b *Bot) handleVerify(ctx context.Context, chatID int64, paymentID string) {
	out, err := b.payments.Verify(ctx, chatID, paymentID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			b.sendText(chatID, texts.PaymentRecordNotFound)
			return
		}
		b.log.Error("verify payment", "payment_id", paymentID, "err", err)
		b.sendKeyboard(chatID, texts.PaymentUnavailable, paymentKeyboard("", paymentID, true))
		return
	}
	if out.Status == service.VerifyNotConfirmed {
		b.sendKeyboard(chatID, service.OutcomeText(out), paymentKeyboard(out.Payment.PaymentLink, paymentID, true))
		return
	}
	b.sendText(chatID, service.OutcomeText(out))
}

// replyError maps service errors shared by several handlers to a reply.
func (b *Bot) replyError(chatID int64, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		b.sendText(chatID, texts.NotFound)
	case errors.Is(err, service.ErrConflict):
		b.sendText(chatID, texts.Conflict)
	case errors.Is(err, service.ErrUnknownTemplate), errors.Is(err, fsm.ErrInvalidTransition):
		b.log.Info("rejected choice", "op", op, "chat_id", chatID, "err", err)
		b.sendText(chatID, texts.InvalidChoice)
	default:
		b.log.Error(op, "chat_id", chatID, "err", err)
		b.sendText(chatID, texts.GenericError)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) sendKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.Warn("delete message", "chat_id", chatID, "message_id", messageID, "err", err)
	}
}

func profileOf(from *tgbotapi.User, chatID int64) repository.Profile {
	p := repository.Profile{ChatID: chatID}
	if from != nil {
		p.Username = from.UserName
		p.FirstName = from.FirstName
		p.LastName = from.LastName
	}
	return p
}

// photoFileID returns the largest photo size, or an image sent as a document.
func photoFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil && strings.HasPrefix(strings.ToLower(msg.Document.MimeType), "image/") {
		return msg.Document.FileID
	}
	return ""
}
