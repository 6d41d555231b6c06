// Package ollama provides a summarization provider backed by a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure Summarizer implements the interface.
var _ driven.SummarizationProvider = (*Summarizer)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 300 * time.Second

	// summaryTokens bounds the length of generated summaries.
	summaryTokens = 256

	// maxInputBytes truncates documents sent for summarization.
	maxInputBytes = 32 * 1024
)

const fallbackSummarizePrompt = "Summarize the document in at most three sentences. Answer with the summary only."

// Config holds configuration for the Ollama summarizer.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the chat model to use (default: llama3.2).
	Model string

	// Timeout is the request timeout (default: 300s; local models are slow to load).
	Timeout time.Duration

	// Prompts supplies the summarize system prompt. Optional.
	Prompts driven.PromptStore
}

// Summarizer produces summaries and generations using Ollama's /api/chat.
type Summarizer struct {
	client  *http.Client
	baseURL string
	model   string
	prompts driven.PromptStore
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *options      `json:"options,omitempty"`
}

type options struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// New creates an Ollama summarizer.
func New(cfg Config) *Summarizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Summarizer{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		prompts: cfg.Prompts,
	}
}

// Summarize returns a short summary of content. hint, when set, is passed
// as context ahead of the document.
func (s *Summarizer) Summarize(ctx context.Context, content, hint string) (string, error) {
	system := fallbackSummarizePrompt
	if s.prompts != nil {
		if p, err := s.prompts.Load(driven.PromptSummarize); err == nil && p != "" {
			system = p
		}
	}

	if len(content) > maxInputBytes {
		content = content[:maxInputBytes]
	}
	user := content
	if hint != "" {
		user = "Context: " + hint + "\n\n" + content
	}

	out, err := s.Generate(ctx, system, user, summaryTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Generate runs a single system+user exchange through /api/chat.
func (s *Summarizer) Generate(ctx context.Context, system, user string, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model:   s.model,
		Stream:  false,
		Options: &options{NumPredict: maxTokens},
	}
	if system != "" {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "system", Content: system})
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: user})

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	return out.Message.Content, nil
}

// ModelName returns the name of the model being used.
func (s *Summarizer) ModelName() string {
	return s.model
}

// Name returns "ollama".
func (s *Summarizer) Name() string {
	return string(domain.AIProviderOllama)
}

// Ping validates the service is reachable by checking the /api/tags endpoint.
func (s *Summarizer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: failed to create ping request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: API returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *Summarizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
