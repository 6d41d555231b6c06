package driving

import (
	"context"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// SettingsService manages engine settings.
type SettingsService interface {
	// Get returns the effective configuration: stored values over defaults,
	// plus environment tags.
	Get() (*domain.KeeperConfig, error)

	// Save persists configuration.
	Save(cfg *domain.KeeperConfig) error

	// SetEmbeddingProvider configures the embedding provider.
	SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error

	// SetSummarizerProvider configures the summarization provider.
	SetSummarizerProvider(provider domain.AIProvider, model, apiKey string) error

	// Validate checks the stored configuration for consistency.
	Validate() error

	// GetDefaults returns default settings.
	GetDefaults() domain.KeeperConfig

	// ValidateEmbeddingConfig pings the configured embedding provider.
	ValidateEmbeddingConfig(ctx context.Context) error

	// ValidateSummarizerConfig pings the configured summarization provider.
	ValidateSummarizerConfig(ctx context.Context) error
}
