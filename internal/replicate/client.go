// Package replicate submits image generation jobs to the Replicate predictions API.
// Results are delivered later to the configured webhook.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/PhotoshootBot/internal/config"
)

type Client struct {
	token       string
	baseURL     string
	model       string
	callbackURL string
	httpClient  *http.Client
	log         *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		token:       cfg.ReplicateAPIToken,
		baseURL:     strings.TrimRight(cfg.ReplicateBaseURL, "/"),
		model:       cfg.ReplicateModel,
		callbackURL: cfg.ReplicateCallbackURL,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Model is the model identifier jobs are submitted to.
func (c *Client) Model() string {
	return c.model
}

type predictionInput struct {
	Prompt          string `json:"prompt"`
	OutputFormat    string `json:"output_format"`
	SafetyTolerance int    `json:"safety_tolerance"`
	InputImage      string `json:"input_image,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
}

type predictionRequest struct {
	Input               predictionInput `json:"input"`
	Webhook             string          `json:"webhook,omitempty"`
	WebhookEventsFilter []string        `json:"webhook_events_filter,omitempty"`
}

// Submit creates a prediction and returns its id. inputURL is optional; without
// it the job runs text-to-image.
func (c *Client) Submit(ctx context.Context, prompt, inputURL string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("empty prompt")
	}
	payload := predictionRequest{
		Input: predictionInput{
			Prompt:          prompt,
			OutputFormat:    "png",
			SafetyTolerance: 6,
		},
		Webhook:             c.callbackURL,
		WebhookEventsFilter: []string{"completed"},
	}
	if inputURL != "" {
		payload.Input.InputImage = inputURL
		payload.Input.AspectRatio = "match_input_image"
	}

	fullURL, err := c.endpoint("models/" + c.model + "/predictions")
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.log != nil {
		c.log.Info("creating replicate prediction", "url", fullURL, "model", c.model, "has_input_image", inputURL != "")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post replicate: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("replicate create prediction failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("replicate error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  any    `json:"error"`
	}
	if err := json.Unmarshal(rawBody, &created); err != nil {
		return "", fmt.Errorf("decode prediction response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if created.ID == "" {
		return "", fmt.Errorf("empty prediction id in response")
	}
	if created.Status == StatusFailed {
		return "", fmt.Errorf("prediction failed on creation: %v", created.Error)
	}

	if c.log != nil {
		c.log.Info("replicate prediction created", "job_id", created.ID, "status", created.Status)
	}
	return created.ID, nil
}

func (c *Client) endpoint(path string) (string, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
