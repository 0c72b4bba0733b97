package provider

import (
	"fmt"

	"github.com/MagClaw/MagClaw/internal/config"
)

// Resolve builds the oracle client from config. OpenRouter wins when
// both keys are configured since it fronts multiple model families.
func Resolve(cfg *config.Config) (Oracle, error) {
	model := cfg.Model.Name

	if cfg.Providers.OpenRouter.APIKey != "" {
		base := cfg.Providers.OpenRouter.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIProvider(cfg.Providers.OpenRouter.APIKey, base, model), nil
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		return NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, model), nil
	}
	return nil, fmt.Errorf("no provider configured: set an OpenAI or OpenRouter API key")
}
