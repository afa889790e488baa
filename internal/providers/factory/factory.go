package factory

import (
	"github.com/sirupsen/logrus"

	"github.com/rolechat/rolechat-core/internal/config"
	"github.com/rolechat/rolechat-core/internal/providers"
	"github.com/rolechat/rolechat-core/internal/providers/local"
	"github.com/rolechat/rolechat-core/internal/providers/ollama"
)

// BuildRegistry assembles the provider registry from the application
// settings. Ollama is always registered (and is the default); an
// OpenAI-compatible endpoint such as LM Studio is added when configured.
func BuildRegistry(settings *config.Settings) *providers.Registry {
	registry := providers.NewRegistry()
	registry.Register("ollama", ollama.New(settings.OllamaBaseURL))

	if settings.OpenAICompatibleURL != "" {
		compat, err := local.New("OpenAI-compatible", settings.OpenAICompatibleURL, "")
		if err != nil {
			logrus.WithError(err).Warn("skipping OpenAI-compatible provider")
		} else {
			registry.Register("openai-compatible", compat)
		}
	}

	return registry
}
