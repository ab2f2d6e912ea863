package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PhotoshootBot/internal/appconfig"
	"github.com/digkill/PhotoshootBot/internal/models"
	"github.com/digkill/PhotoshootBot/internal/texts"
)

func button(text string, cb Callback) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, cb.Data())
}

func serviceKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button(texts.ButtonPhotoshoot, Callback{Kind: KindSelectService, ID: id, Service: models.ServicePhotoshoot})),
		tgbotapi.NewInlineKeyboardRow(button(texts.ButtonModeling, Callback{Kind: KindSelectService, ID: id, Service: models.ServiceModeling})),
	)
}

func modeKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button(texts.ButtonTemplate, Callback{Kind: KindSelectMode, ID: id, Mode: models.ModeTemplate})),
		tgbotapi.NewInlineKeyboardRow(
			button(texts.ButtonManual, Callback{Kind: KindSelectMode, ID: id, Mode: models.ModeManual}),
			button(texts.ButtonAutomatic, Callback{Kind: KindSelectMode, ID: id, Mode: models.ModeAutomatic}),
		),
	)
}

// genderKeyboard opens the first gallery page for the chosen gender.
func genderKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		button(texts.ButtonMale, Callback{Kind: KindGalleryPage, ID: id, Gender: models.GenderMale}),
		button(texts.ButtonFemale, Callback{Kind: KindGalleryPage, ID: id, Gender: models.GenderFemale}),
	))
}

// galleryKeyboard shows one template with wrap-around navigation.
func galleryKeyboard(id string, tpl appconfig.Template, page, pages int) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(button("✅ "+tpl.Name, Callback{Kind: KindSelectTemplate, ID: id, TemplateID: tpl.ID})),
	}
	if pages > 1 {
		prev := (page - 1 + pages) % pages
		next := (page + 1) % pages
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(texts.ButtonPrev, Callback{Kind: KindGalleryPage, ID: id, Page: prev}),
			button(texts.ButtonNext, Callback{Kind: KindGalleryPage, ID: id, Page: next}),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func confirmKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button(texts.ButtonAccept, Callback{Kind: KindConfirm, ID: id, Action: ConfirmAccept})),
		tgbotapi.NewInlineKeyboardRow(
			button(texts.ButtonEdit, Callback{Kind: KindConfirm, ID: id, Action: ConfirmEdit}),
			button(texts.ButtonCancel, Callback{Kind: KindConfirm, ID: id, Action: ConfirmCancel}),
		),
	)
}

func packagesKeyboard(pkgs []appconfig.Package) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(pkgs))
	for _, p := range pkgs {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(texts.PackageButton(p.Label, p.Price), Callback{Kind: KindBuy, Package: p.Index}),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// paymentKeyboard links to the gateway and offers verification. retry switches
// the verification label for a repeated attempt.
func paymentKeyboard(link, paymentID string, retry bool) tgbotapi.InlineKeyboardMarkup {
	label := texts.ButtonIHavePaid
	if retry {
		label = texts.ButtonRetryVerify
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if link != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(texts.ButtonCompletePay, link)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(label, Callback{Kind: KindVerify, ID: paymentID})))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// historyKeyboard offers cancel for queued records and resend for finished ones.
func historyKeyboard(items []models.Generation) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range items {
		switch g.Status {
		case models.StatusInQueue:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				button(texts.ItemButton(texts.ButtonCancelQueued, g.ID), Callback{Kind: KindCancelQueued, ID: g.ID}),
			))
		case models.StatusDone:
			if g.ResultURL == "" {
				continue
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				button(texts.ItemButton(texts.ButtonResend, g.ID), Callback{Kind: KindResend, ID: g.ID}),
			))
		}
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// pageOf clamps a requested gallery page into range.
func pageOf(page, pages int) int {
	if pages == 0 || page < 0 {
		return 0
	}
	if page >= pages {
		return page % pages
	}
	return page
}
