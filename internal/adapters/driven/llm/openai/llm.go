// Package openai provides a summarization provider using the OpenAI chat
// completions API or a compatible endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 120 * time.Second

	summaryTokens = 256
	maxInputBytes = 64 * 1024
)

const fallbackSummarizePrompt = "Summarize the document in at most three sentences. Answer with the summary only."

// ErrMissingAPIKey is returned by New without an API key.
var ErrMissingAPIKey = errors.New("openai: API key is required")

// Config holds configuration for the OpenAI summarizer.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	BaseURL string

	// Model is the chat model to use (default: gpt-4o-mini).
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration

	// Prompts supplies the summarize system prompt. Optional.
	Prompts driven.PromptStore
}

// Summarizer produces summaries and generations using /chat/completions.
type Summarizer struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	prompts driven.PromptStore
}

type chatCompletionRequest struct {
	Model     string              `json:"model"`
	Messages  []chatCompletionMsg `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates an OpenAI summarizer.
func New(cfg Config) (*Summarizer, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
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
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		prompts: cfg.Prompts,
	}, nil
}

// Summarize returns a short summary of content.
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
	if hint != "" {
		content = "Context: " + hint + "\n\n" + content
	}

	out, err := s.Generate(ctx, system, content, summaryTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Generate runs a system+user exchange. A refusal or empty choice list
// yields "".
func (s *Summarizer) Generate(ctx context.Context, system, user string, maxTokens int) (string, error) {
	reqBody := chatCompletionRequest{Model: s.model, MaxTokens: maxTokens}
	if system != "" {
		reqBody.Messages = append(reqBody.Messages, chatCompletionMsg{Role: "system", Content: system})
	}
	reqBody.Messages = append(reqBody.Messages, chatCompletionMsg{Role: "user", Content: user})

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai error (status %d): %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out.Error != nil {
		return "", fmt.Errorf("openai error: %s", out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai error (status %d)", resp.StatusCode)
	}
	if len(out.Choices) == 0 || out.Choices[0].FinishReason == "content_filter" {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

// ModelName returns the name of the model being used.
func (s *Summarizer) ModelName() string {
	return s.model
}

// Name returns "openai".
func (s *Summarizer) Name() string {
	return string(domain.AIProviderOpenAI)
}

// Ping validates the API key against the /models endpoint.
func (s *Summarizer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", http.NoBody)
	if err != nil {
		return fmt.Errorf("openai: failed to create ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai: API returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *Summarizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
