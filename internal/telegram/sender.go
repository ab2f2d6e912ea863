package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxPhotoSize = 20 << 20

// Sender pushes messages to chats and downloads chat files.
type Sender struct {
	api          *tgbotapi.BotAPI
	log          *slog.Logger
	httpClient   *http.Client
	fileEndpoint string
}

func NewSender(api *tgbotapi.BotAPI, log *slog.Logger, timeout time.Duration) *Sender {
	return &Sender{
		api:          api,
		log:          log,
		httpClient:   &http.Client{Timeout: timeout},
		fileEndpoint: tgbotapi.FileEndpoint,
	}
}

func (s *Sender) SendText(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func (s *Sender) SendPhoto(_ context.Context, chatID int64, photoURL, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	if _, err := s.api.Send(photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// FetchPhoto downloads a file sent to the bot.
func (s *Sender) FetchPhoto(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := s.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf(s.fileEndpoint, s.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	if len(body) > maxPhotoSize {
		return nil, "", fmt.Errorf("file larger than %d bytes", maxPhotoSize)
	}
	return body, path.Base(file.FilePath), nil
}

// Broadcast sends text to every chat and reports how many deliveries succeeded.
func (s *Sender) Broadcast(ctx context.Context, chatIDs []int64, text string) int {
	sent := 0
	for _, id := range chatIDs {
		if ctx.Err() != nil {
			break
		}
		if err := s.SendText(ctx, id, text); err != nil {
			s.log.Warn("broadcast delivery failed", "chat_id", id, "err", err)
			continue
		}
		sent++
	}
	return sent
}
