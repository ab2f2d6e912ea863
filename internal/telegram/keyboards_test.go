package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PhotoshootBot/internal/appconfig"
	"github.com/digkill/PhotoshootBot/internal/models"
)

func callbacksOf(t *testing.T, markup tgbotapi.InlineKeyboardMarkup) []Callback {
	t.Helper()
	var out []Callback
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData == nil {
				continue
			}
			if len(*btn.CallbackData) > 64 {
				t.Errorf("callback data %q exceeds 64 bytes", *btn.CallbackData)
			}
			cb, err := ParseCallback(*btn.CallbackData)
			if err != nil {
				t.Errorf("button %q: %v", btn.Text, err)
				continue
			}
			out = append(out, cb)
		}
	}
	return out
}

func TestGalleryKeyboardWrapsAround(t *testing.T) {
	tpl := appconfig.Template{ID: "marble", Name: "Marble"}

	tests := []struct {
		desc      string
		page      int
		pages     int
		wantPrev  int
		wantNext  int
		wantPages bool
	}{
		{"first page", 0, 3, 2, 1, true},
		{"last page", 2, 3, 1, 0, true},
		{"single page", 0, 1, 0, 0, false},
	}

	for _, tt := range tests {
		cbs := callbacksOf(t, galleryKeyboard(genID, tpl, tt.page, tt.pages))
		if cbs[0].Kind != KindSelectTemplate || cbs[0].TemplateID != "marble" {
			t.Errorf("%s: first button = %+v", tt.desc, cbs[0])
		}
		if !tt.wantPages {
			if len(cbs) != 1 {
				t.Errorf("%s: got %d buttons, want 1", tt.desc, len(cbs))
			}
			continue
		}
		if len(cbs) != 3 || cbs[1].Page != tt.wantPrev || cbs[2].Page != tt.wantNext {
			t.Errorf("%s: got %+v, want prev %d next %d", tt.desc, cbs, tt.wantPrev, tt.wantNext)
		}
	}
}

func TestGenderKeyboardOpensFirstPage(t *testing.T) {
	cbs := callbacksOf(t, genderKeyboard(genID))
	if len(cbs) != 2 {
		t.Fatalf("got %d buttons", len(cbs))
	}
	for i, gender := range []models.Gender{models.GenderMale, models.GenderFemale} {
		if cbs[i].Kind != KindGalleryPage || cbs[i].Page != 0 || cbs[i].Gender != gender {
			t.Errorf("button %d = %+v", i, cbs[i])
		}
	}
}

func TestHistoryKeyboard(t *testing.T) {
	items := []models.Generation{
		{ID: "a1", Status: models.StatusInQueue},
		{ID: "b2", Status: models.StatusDone, ResultURL: "https://x/out.png"},
		{ID: "c3", Status: models.StatusDone},
		{ID: "d4", Status: models.StatusProcessing},
	}
	markup, ok := historyKeyboard(items)
	if !ok {
		t.Fatal("expected a keyboard")
	}
	cbs := callbacksOf(t, markup)
	want := []Callback{{Kind: KindCancelQueued, ID: "a1"}, {Kind: KindResend, ID: "b2"}}
	if len(cbs) != len(want) {
		t.Fatalf("got %+v, want %+v", cbs, want)
	}
	for i := range want {
		if cbs[i] != want[i] {
			t.Errorf("button %d: got %+v, want %+v", i, cbs[i], want[i])
		}
	}

	if _, ok := historyKeyboard([]models.Generation{{ID: "x", Status: models.StatusError}}); ok {
		t.Error("keyboard built for records without actions")
	}
}

func TestPaymentKeyboard(t *testing.T) {
	markup := paymentKeyboard("https://www.zarinpal.com/pg/StartPay/A1", genID, false)
	if len(markup.InlineKeyboard) != 2 || markup.InlineKeyboard[0][0].URL == nil {
		t.Fatalf("keyboard = %+v", markup)
	}
	cbs := callbacksOf(t, markup)
	if len(cbs) != 1 || cbs[0].Kind != KindVerify || cbs[0].ID != genID {
		t.Errorf("callbacks = %+v", cbs)
	}
	if retry := paymentKeyboard("", genID, true); len(retry.InlineKeyboard) != 1 {
		t.Errorf("retry without link has %d rows", len(retry.InlineKeyboard))
	}
}

func TestPageOf(t *testing.T) {
	tests := []struct {
		page, pages, want int
	}{
		{0, 3, 0},
		{2, 3, 2},
		{4, 3, 1},
		{-1, 3, 0},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := pageOf(tt.page, tt.pages); got != tt.want {
			t.Errorf("pageOf(%d, %d): got %d, want %d", tt.page, tt.pages, got, tt.want)
		}
	}
}
