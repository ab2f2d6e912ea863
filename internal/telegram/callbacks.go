package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/digkill/PhotoshootBot/internal/models"
)

// Kind identifies which button produced a callback.
type Kind int

const (
	KindSelectService Kind = iota + 1
	KindSelectMode
	KindGalleryPage
	KindSelectTemplate
	KindConfirm
	KindBuy
	KindVerify
	KindResend
	KindCancelQueued
)

type ConfirmAction string

const (
	ConfirmAccept ConfirmAction = "accept"
	ConfirmEdit   ConfirmAction = "edit"
	ConfirmCancel ConfirmAction = "cancel"
)

var ErrMalformedCallback = errors.New("malformed callback data")

// Callback is a decoded inline button payload. ID is the generation or payment id;
// the remaining fields are set according to Kind.
type Callback struct {
	Kind       Kind
	ID         string
	Service    models.Service
	Mode       models.Mode
	Gender     models.Gender
	Page       int
	TemplateID string
	Action     ConfirmAction
	Package    int
}

const (
	prefixSelectService  = "select_service_"
	prefixSelectMode     = "select_mode_"
	prefixGalleryPage    = "gallery_page_"
	prefixSelectTemplate = "select_template_"
	prefixConfirm        = "confirm_"
	prefixBuy            = "buy_"
	prefixVerify         = "verify_"
	prefixResend         = "resend_"
	prefixCancel         = "cancel_"
)

// ParseCallback decodes data produced by the keyboard builders. Anything else is
// ErrMalformedCallback.
func ParseCallback(data string) (Callback, error) {
	bad := fmt.Errorf("%w: %q", ErrMalformedCallback, data)
	switch {
	case strings.HasPrefix(data, prefixSelectService):
		id, rest, ok := splitID(strings.TrimPrefix(data, prefixSelectService))
		svc, valid := models.ParseService(rest)
		if !ok || !valid {
			return Callback{}, bad
		}
		return Callback{Kind: KindSelectService, ID: id, Service: svc}, nil
	case strings.HasPrefix(data, prefixSelectMode):
		id, rest, ok := splitID(strings.TrimPrefix(data, prefixSelectMode))
		mode, valid := models.ParseMode(rest)
		if !ok || !valid {
			return Callback{}, bad
		}
		return Callback{Kind: KindSelectMode, ID: id, Mode: mode}, nil
	case strings.HasPrefix(data, prefixGalleryPage):
		id, rest, ok := splitID(strings.TrimPrefix(data, prefixGalleryPage))
		if !ok {
			return Callback{}, bad
		}
		pageText, genderText, hasGender := strings.Cut(rest, "_")
		page, err := strconv.Atoi(pageText)
		if err != nil || page < 0 {
			return Callback{}, bad
		}
		cb := Callback{Kind: KindGalleryPage, ID: id, Page: page}
		if hasGender {
			gender, valid := models.ParseGender(genderText)
			if !valid {
				return Callback{}, bad
			}
			cb.Gender = gender
		}
		return cb, nil
	case strings.HasPrefix(data, prefixSelectTemplate):
		id, rest, ok := splitID(strings.TrimPrefix(data, prefixSelectTemplate))
		if !ok {
			return Callback{}, bad
		}
		return Callback{Kind: KindSelectTemplate, ID: id, TemplateID: rest}, nil
	case strings.HasPrefix(data, prefixConfirm):
		id, rest, ok := splitID(strings.TrimPrefix(data, prefixConfirm))
		action := ConfirmAction(rest)
		if !ok || (action != ConfirmAccept && action != ConfirmEdit && action != ConfirmCancel) {
			return Callback{}, bad
		}
		return Callback{Kind: KindConfirm, ID: id, Action: action}, nil
	case strings.HasPrefix(data, prefixBuy):
		idx, err := strconv.Atoi(strings.TrimPrefix(data, prefixBuy))
		if err != nil || idx < 0 {
			return Callback{}, bad
		}
		return Callback{Kind: KindBuy, Package: idx}, nil
	case strings.HasPrefix(data, prefixVerify):
		return singleID(KindVerify, strings.TrimPrefix(data, prefixVerify), bad)
	case strings.HasPrefix(data, prefixResend):
		return singleID(KindResend, strings.TrimPrefix(data, prefixResend), bad)
	case strings.HasPrefix(data, prefixCancel):
		return singleID(KindCancelQueued, strings.TrimPrefix(data, prefixCancel), bad)
	}
	return Callback{}, bad
}

// Data encodes the callback back into button data.
func (c Callback) Data() string {
	switch c.Kind {
	case KindSelectService:
		return prefixSelectService + c.ID + "_" + string(c.Service)
	case KindSelectMode:
		return prefixSelectMode + c.ID + "_" + string(c.Mode)
	case KindGalleryPage:
		data := prefixGalleryPage + c.ID + "_" + strconv.Itoa(c.Page)
		if c.Gender != "" {
			data += "_" + string(c.Gender)
		}
		return data
	case KindSelectTemplate:
		return prefixSelectTemplate + c.ID + "_" + c.TemplateID
	case KindConfirm:
		return prefixConfirm + c.ID + "_" + string(c.Action)
	case KindBuy:
		return prefixBuy + strconv.Itoa(c.Package)
	case KindVerify:
		return prefixVerify + c.ID
	case KindResend:
		return prefixResend + c.ID
	case KindCancelQueued:
		return prefixCancel + c.ID
	}
	return ""
}

// splitID separates the record id from the rest. Ids never contain underscores.
func splitID(s string) (id, rest string, ok bool) {
	id, rest, found := strings.Cut(s, "_")
	if !found || id == "" || rest == "" {
		return "", "", false
	}
	return id, rest, true
}

func singleID(kind Kind, id string, bad error) (Callback, error) {
	if id == "" || strings.Contains(id, "_") {
		return Callback{}, bad
	}
	return Callback{Kind: kind, ID: id}, nil
}
