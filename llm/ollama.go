package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fabfab/fiscal-qa/remote"
)

const defaultOllamaHost = "http://localhost:11434"

// ollamaChat drafts answers through a local Ollama server's /api/chat.
type ollamaChat struct {
	endpoint string
	model    string
	http     *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = defaultOllamaHost
	}
	return &ollamaChat{
		endpoint: host + "/api/chat",
		model:    opts.Model,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *ollamaChat) Generate(ctx context.Context, messages []Message) (string, error) {
	payload := ollamaChatRequest{Model: c.model, Messages: make([]ollamaMessage, len(messages))}
	for i, m := range messages {
		payload.Messages[i] = ollamaMessage(m)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", remote.Permanent(fmt.Errorf("encode ollama chat request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", remote.Permanent(fmt.Errorf("build ollama chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("ollama chat: %w", remote.FromResponse("ollama", resp))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama chat response: %w", err)
	}
	if parsed.Error != "" {
		return "", remote.Permanent(fmt.Errorf("ollama chat: %s", parsed.Error))
	}
	return parsed.Message.Content, nil
}
