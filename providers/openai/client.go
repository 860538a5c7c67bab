package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RyszardRzepa/topicowl-sub007/config"
)

var httpClient = &http.Client{Timeout: 120 * time.Second}

// Client talks to an OpenAI-compatible chat-completions API.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	logger  *zap.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		model:   cfg.OpenAIModel,
		apiKey:  cfg.OpenAIAPIKey,
		logger:  logger,
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a system+user prompt pair and returns the raw completion text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, system, user, nil)
}

// CompleteJSON requests a JSON-mode completion and unmarshals it into out.
// The raw completion is returned alongside so callers can persist it even
// when parsing fails.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, out any) (string, error) {
	raw, err := c.complete(ctx, system, user, map[string]any{"type": "json_object"})
	if err != nil {
		return raw, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return raw, fmt.Errorf("parse completion JSON: %w", err)
	}
	return raw, nil
}

func (c *Client) complete(ctx context.Context, system, user string, format map[string]any) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("openai client misconfigured: missing API key")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending chat completion request",
		zap.String("model", c.model), zap.Int("payload_bytes", len(body)))

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat completion %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
