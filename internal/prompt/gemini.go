// Package prompt turns a user's product description, and optionally the product
// photo, into an image generation prompt using Gemini.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/digkill/PhotoshootBot/internal/config"
)

// ErrRefused is returned when the model answered with an apology or refusal
// instead of a prompt.
var ErrRefused = errors.New("prompt model refused the request")

const maxImageBytes = 20 << 20

const textInstruction = `You write prompts for an image editing model that places a product into a professional marketing photo.
Given the user's description, answer with a single English prompt of at most 80 words.
Describe the scene, lighting, background and camera angle. Keep the product itself unchanged.
Answer with the prompt only.`

const visionInstruction = `You write prompts for an image editing model that places a product into a professional marketing photo.
Look at the product photo and the user's notes, then answer with a single English prompt of at most 80 words
that suits this exact product. Describe the scene, lighting, background and camera angle. Keep the product itself unchanged.
Answer with the prompt only.`

// generator is the part of the Gemini model the client depends on.
type generator interface {
	generate(ctx context.Context, instruction string, temperature float32, parts ...genai.Part) (string, error)
}

type Client struct {
	gen        generator
	httpClient *http.Client
	log        *slog.Logger
	closer     io.Closer
}

// NewClient connects to Gemini with the configured API key and model.
func NewClient(ctx context.Context, cfg config.Config, log *slog.Logger) (*Client, error) {
	gc, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		gen:        &geminiModel{client: gc, model: cfg.GeminiModel},
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		closer:     gc,
	}, nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// FromText builds a prompt from the user's description alone.
func (c *Client) FromText(ctx context.Context, description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", errors.New("empty description")
	}
	out, err := c.gen.generate(ctx, textInstruction, 0.3, genai.Text(description))
	if err != nil {
		return "", fmt.Errorf("generate prompt from text: %w", err)
	}
	return c.accept(out)
}

// FromImage builds a prompt from the description and the product photo at imageURL.
func (c *Client) FromImage(ctx context.Context, description, imageURL string) (string, error) {
	data, format, err := c.fetchImage(ctx, imageURL)
	if err != nil {
		return "", err
	}
	notes := strings.TrimSpace(description)
	if notes == "" {
		notes = "No extra notes."
	}
	out, err := c.gen.generate(ctx, visionInstruction, 0.9, genai.Text(notes), genai.ImageData(format, data))
	if err != nil {
		return "", fmt.Errorf("generate prompt from image: %w", err)
	}
	return c.accept(out)
}

func (c *Client) accept(out string) (string, error) {
	out = cleanPrompt(out)
	if out == "" {
		return "", errors.New("prompt model returned an empty answer")
	}
	if IsRefusal(out) {
		if c.log != nil {
			c.log.Warn("prompt model refused", "answer", out)
		}
		return "", ErrRefused
	}
	return out, nil
}

func (c *Client) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	return data, imageFormat(resp.Header.Get("Content-Type"), data), nil
}

func imageFormat(contentType string, data []byte) string {
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpeg"
	}
}

var refusalMarkers = []string{
	"i'm sorry",
	"i am sorry",
	"sorry, i",
	"i apologize",
	"my apologies",
	"i can't",
	"i cannot",
	"i can not",
	"i'm unable",
	"i am unable",
	"i won't be able",
	"as an ai",
}

// IsRefusal reports whether the answer reads as an apology or refusal.
func IsRefusal(answer string) bool {
	head := strings.ToLower(answer)
	if len(head) > 160 {
		head = head[:160]
	}
	head = strings.ReplaceAll(head, "’", "'")
	for _, marker := range refusalMarkers {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

func cleanPrompt(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	for _, label := range []string{"Prompt:", "prompt:", "PROMPT:"} {
		s = strings.TrimPrefix(s, label)
	}
	return strings.Trim(strings.TrimSpace(s), `"`)
}

type geminiModel struct {
	client *genai.Client
	model  string
}

func (m *geminiModel) generate(ctx context.Context, instruction string, temperature float32, parts ...genai.Part) (string, error) {
	model := m.client.GenerativeModel(m.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}
	model.SetTemperature(temperature)
	model.SetMaxOutputTokens(300)

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no candidates returned")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}
