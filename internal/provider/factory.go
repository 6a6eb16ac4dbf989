package provider

import (
	apperrors "github.com/louisbranch/worldbuild.space/internal/platform/errors"
)

// Config selects and tunes a model backend.
type Config struct {
	Provider        string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	APIKey          string
}

// New builds the backend named by cfg.Provider. The mock backend needs no
// credentials and is the default for offline runs.
func New(cfg Config) (TurnGenerator, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMock(cfg), nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxOutputTokens,
		})
	default:
		return nil, apperrors.WithMetadata(
			apperrors.CodeProviderInvalidConfig,
			"unsupported model provider",
			map[string]string{"provider": cfg.Provider},
		)
	}
}
