// Package zarinpal talks to the Zarinpal v4 payment gateway.
package zarinpal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/PhotoshootBot/internal/config"
)

// Gateway result codes.
const (
	CodeSuccess         = 100
	CodeAlreadyVerified = 101
	CodeNotConfirmed    = -51
)

type Client struct {
	merchantID  string
	callbackURL string
	requestURL  string
	verifyURL   string
	paymentBase string
	mobile      string
	email       string
	client      *http.Client
	log         *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	return &Client{
		merchantID:  cfg.ZarinpalMerchantID,
		callbackURL: cfg.ZarinpalCallbackURL,
		requestURL:  cfg.ZarinpalRequestURL,
		verifyURL:   cfg.ZarinpalVerifyURL,
		paymentBase: cfg.ZarinpalPaymentBase,
		mobile:      cfg.ZarinpalMobile,
		email:       cfg.ZarinpalEmail,
		client:      &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Session is a created payment awaiting the customer.
type Session struct {
	Authority   string
	PaymentLink string
}

// VerifyResult carries the gateway code. RefID is set for 100 and 101.
type VerifyResult struct {
	Code    int
	RefID   string
	Message string
}

// GatewayError is a request the gateway answered with a non-success code.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("zarinpal: %s (code=%d)", e.Message, e.Code)
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type result struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Authority string          `json:"authority"`
	RefID     json.RawMessage `json:"ref_id"`
}

// Create requests a payment session for amount (IRR).
func (c *Client) Create(ctx context.Context, amount int, description string) (*Session, error) {
	payload := map[string]any{
		"merchant_id":  c.merchantID,
		"amount":       amount,
		"callback_url": c.callbackURL,
		"description":  description,
		"metadata": map[string]string{
			"mobile": c.mobile,
			"email":  c.email,
		},
	}
	res, err := c.post(ctx, c.requestURL, payload)
	if err != nil {
		return nil, err
	}
	if res.Code != CodeSuccess || res.Authority == "" {
		return nil, &GatewayError{Code: res.Code, Message: messageOr(res.Message, "payment request rejected")}
	}
	return &Session{
		Authority:   res.Authority,
		PaymentLink: c.paymentBase + res.Authority,
	}, nil
}

// Verify asks the gateway about a session. Gateway codes, including failures, are
// returned in the result; errors are transport or decoding problems.
func (c *Client) Verify(ctx context.Context, authority string, amount int) (*VerifyResult, error) {
	payload := map[string]any{
		"merchant_id": c.merchantID,
		"amount":      amount,
		"authority":   authority,
	}
	res, err := c.post(ctx, c.verifyURL, payload)
	if err != nil {
		return nil, err
	}
	out := &VerifyResult{Code: res.Code, Message: res.Message}
	if res.Code == CodeSuccess || res.Code == CodeAlreadyVerified {
		out.RefID = strings.Trim(string(res.RefID), `"`)
	} else if out.Message == "" {
		out.Message = fmt.Sprintf("verification failed (code=%d)", res.Code)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) (*result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal zarinpal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build zarinpal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zarinpal request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read zarinpal response: %w", err)
	}

	res, err := decode(raw)
	if err != nil {
		if c.log != nil {
			c.log.Error("zarinpal response not understood", "status", resp.StatusCode, "url", endpoint, "body", truncateBody(raw))
		}
		return nil, fmt.Errorf("decode zarinpal response (status=%d): %w", resp.StatusCode, err)
	}
	if c.log != nil {
		c.log.Info("zarinpal response", "url", endpoint, "status", resp.StatusCode, "code", res.Code)
	}
	return res, nil
}

// decode reads either the data or the errors object. The gateway sends an empty
// array for whichever one does not apply, and sometimes wraps the envelope in a list.
func decode(raw []byte) (*result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("empty response list")
		}
		trimmed = list[0]
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	for _, part := range []json.RawMessage{env.Data, env.Errors} {
		part = bytes.TrimSpace(part)
		if len(part) == 0 || part[0] != '{' {
			continue
		}
		var res result
		if err := json.Unmarshal(part, &res); err != nil {
			return nil, err
		}
		if res.Code != 0 {
			return &res, nil
		}
	}
	return nil, fmt.Errorf("response carries no result code")
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
