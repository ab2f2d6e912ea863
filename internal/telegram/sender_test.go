package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeTelegram struct {
	mu    sync.Mutex
	calls map[string][]map[string]string
	fail  map[string]bool
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = r.ParseMultipartForm(1 << 20)
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	params := map[string]string{}
	for k, v := range r.Form {
		params[k] = v[0]
	}
	f.calls[method] = append(f.calls[method], params)

	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(r.URL.Path, "/file/") {
		w.Header().Set("Content-Type", "image/jpeg")
		io.WriteString(w, "jpeg-bytes")
		return
	}
	if f.fail[params["chat_id"]] {
		io.WriteString(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
		return
	}
	switch method {
	case "getMe":
		io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"ppbot"}}`)
	case "getFile":
		io.WriteString(w, `{"ok":true,"result":{"file_id":"f1","file_path":"photos/file_7.jpg"}}`)
	default:
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":%s,"type":"private"}}}`, params["chat_id"])
	}
}

func newTestSender(t *testing.T) (*Sender, *fakeTelegram) {
	t.Helper()
	fake := &fakeTelegram{calls: map[string][]map[string]string{}, fail: map[string]bool{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint("token", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("new bot api: %v", err)
	}
	s := NewSender(api, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	s.fileEndpoint = srv.URL + "/file/bot%s/%s"
	return s, fake
}

func TestSenderSendText(t *testing.T) {
	s, fake := newTestSender(t)

	if err := s.SendText(context.Background(), 42, "<b>hi</b>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := fake.calls["sendMessage"]
	if len(got) != 1 {
		t.Fatalf("got %d sendMessage calls, want 1", len(got))
	}
	if got[0]["chat_id"] != "42" || got[0]["parse_mode"] != "HTML" || got[0]["text"] != "<b>hi</b>" {
		t.Errorf("params = %v", got[0])
	}
}

func TestSenderSendPhoto(t *testing.T) {
	s, fake := newTestSender(t)

	if err := s.SendPhoto(context.Background(), 42, "https://replicate.delivery/out.png", "done"); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := fake.calls["sendPhoto"]
	if len(got) != 1 || got[0]["photo"] != "https://replicate.delivery/out.png" || got[0]["caption"] != "done" {
		t.Errorf("sendPhoto calls = %v", got)
	}
}

func TestSenderFetchPhoto(t *testing.T) {
	s, _ := newTestSender(t)

	data, name, err := s.FetchPhoto(context.Background(), "f1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "jpeg-bytes" || name != "file_7.jpg" {
		t.Errorf("got %q %q", data, name)
	}
}

func TestSenderBroadcast(t *testing.T) {
	s, fake := newTestSender(t)
	fake.fail["2"] = true

	if sent := s.Broadcast(context.Background(), []int64{1, 2, 3}, "news"); sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
}
