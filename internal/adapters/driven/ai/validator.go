package ai

import (
	"context"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure ConfigValidator implements the interface.
var _ driven.AIConfigValidator = (*ConfigValidator)(nil)

// ConfigValidator validates provider settings by constructing and pinging them.
type ConfigValidator struct {
	registry *Registry
}

// NewConfigValidator creates a validator over registry.
func NewConfigValidator(registry *Registry) *ConfigValidator {
	return &ConfigValidator{registry: registry}
}

// ValidateEmbedding pings the configured embedding provider.
// A disabled role is valid.
func (v *ConfigValidator) ValidateEmbedding(ctx context.Context, settings domain.ProviderSettings) error {
	svc, err := v.registry.CreateAndValidateEmbedding(ctx, settings)
	if svc != nil {
		_ = svc.Close()
	}
	return err
}

// ValidateSummarizer pings the configured summarization provider.
func (v *ConfigValidator) ValidateSummarizer(ctx context.Context, settings domain.ProviderSettings) error {
	svc, err := v.registry.CreateAndValidateSummarizer(ctx, settings, nil)
	if svc != nil {
		_ = svc.Close()
	}
	return err
}
