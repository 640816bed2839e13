// Package openrouter implements the inference gateway client. One call, one
// chat completion; retry decisions belong to the classification engine.
package openrouter

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// Config identifies the gateway credentials and model.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client performs multimodal chat completions against OpenRouter.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New constructs a gateway client. Workers create one per task.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}}
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Code       int
	RetryAfter string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.Code, e.Body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

// ClassifyImage sends one chat completion with the prompt as system message
// and the observer notes plus image reference as user message, demanding a
// JSON-object response. The decoded body is returned verbatim.
func (c *Client) ClassifyImage(ctx domain.Context, imageURL, observerNotes, prompt string) (json.RawMessage, error) {
	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: "Observer notes:\n" + observerNotes},
				{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
			}},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("op=openrouter.ClassifyImage: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("op=openrouter.ClassifyImage: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=openrouter.ClassifyImage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("op=openrouter.ClassifyImage: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Code:       resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       snippet(respBody, 512),
		}
	}
	if !json.Valid(respBody) {
		return nil, fmt.Errorf("op=openrouter.ClassifyImage: invalid response body: %w", domain.ErrModelOutputInvalid)
	}
	return json.RawMessage(respBody), nil
}

// ExtractContent pulls choices[0].message.content out of a raw chat
// completion response. The content is usually a JSON-encoded string but
// some models return an object directly; callers recover either shape.
func ExtractContent(raw json.RawMessage) (json.RawMessage, error) {
	var decoded struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("op=openrouter.ExtractContent: %w: %w", domain.ErrModelOutputInvalid, err)
	}
	if len(decoded.Choices) == 0 || len(decoded.Choices[0].Message.Content) == 0 {
		return nil, fmt.Errorf("op=openrouter.ExtractContent: no choices: %w", domain.ErrModelOutputInvalid)
	}
	return decoded.Choices[0].Message.Content, nil
}

// PromptHash returns the hex SHA-256 fingerprint of the prompt text.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
