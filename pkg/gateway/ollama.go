package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/anima-runtime/anima/pkg/config"
)

// ollamaClient talks to an Ollama-compatible HTTP API.
type ollamaClient struct {
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client
}

func newOllamaClient(cfg *config.OllamaConfig, httpClient *http.Client) *ollamaClient {
	return &ollamaClient{
		baseURL:    cfg.BaseURL,
		chatModel:  cfg.StrategyModel,
		embedModel: cfg.EmbedModel,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *ollamaClient) chat(ctx context.Context, system, user string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	var resp chatResponse
	if err := c.post(ctx, "/api/chat", chatRequest{
		Model:    c.chatModel,
		Messages: messages,
		Stream:   false,
	}, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (c *ollamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := c.post(ctx, "/api/embed", embedRequest{
		Model: c.embedModel,
		Input: text,
	}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embed response carried no embeddings")
	}
	return resp.Embeddings[0], nil
}

func (c *ollamaClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend connection failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
