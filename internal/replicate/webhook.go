package replicate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction is the webhook body sent when a job changes state.
type Prediction struct {
	ID     string
	Status string
	Output []string
	Error  string
}

// Terminal reports whether the job will not change state again.
func (p Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ParsePrediction decodes a webhook body. output may be a single URL or a list of
// them; error may be a string or any JSON value.
func ParsePrediction(body []byte) (Prediction, error) {
	var raw struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Output json.RawMessage `json:"output"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	if raw.ID == "" {
		return Prediction{}, errors.New("prediction id is missing")
	}
	p := Prediction{ID: raw.ID, Status: raw.Status}

	output, err := parseOutput(raw.Output)
	if err != nil {
		return Prediction{}, err
	}
	p.Output = output
	p.Error = parseError(raw.Error)
	return p, nil
}

func parseOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode prediction output: %w", err)
	}
	out := list[:0]
	for _, u := range list {
		if u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func parseError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

var (
	ErrMissingSignature = errors.New("webhook signature headers are missing")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// SignatureTolerance bounds the accepted age of a signed delivery.
const SignatureTolerance = 5 * time.Minute

// VerifySignature checks a signed delivery: HMAC-SHA256 over "id.timestamp.body"
// keyed with the base64 part of a "whsec_" secret. The signature header may carry
// several space separated "v1,<base64>" entries.
func VerifySignature(secret, id, timestamp, signatures string, body []byte, now time.Time) error {
	if id == "" || timestamp == "" || signatures == "" {
		return ErrMissingSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("parse webhook timestamp: %w", err)
	}
	sent := time.Unix(ts, 0)
	if now.Sub(sent) > SignatureTolerance || sent.Sub(now) > SignatureTolerance {
		return ErrStaleTimestamp
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return fmt.Errorf("decode webhook secret: %w", err)
	}
	expected := Sign(key, id, timestamp, body)

	for _, entry := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign computes the base64 v1 signature of a delivery.
func Sign(key []byte, id, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(id + "." + timestamp + "."))
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
