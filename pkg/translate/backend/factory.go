// Package backend selects the translation provider named in the configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"moviequiz/pkg/config"
	"moviequiz/pkg/request"
	"moviequiz/pkg/translate"
	"moviequiz/pkg/translate/gemini"
	"moviequiz/pkg/translate/openai"
	"moviequiz/pkg/translate/opusmt"
)

// New returns the provider for cfg.Backend.
func New(ctx context.Context, cfg config.TranslationConfig, reqCfg config.RequestConfig, rc *request.Client, logger *slog.Logger) (translate.Provider, error) {
	switch cfg.Backend {
	case "opus-mt":
		return opusmt.NewProvider(cfg.OpusMT, cfg.TargetLanguage, rc, logger), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.TargetLanguage, rc, logger)
	case "gemini":
		return gemini.NewProvider(ctx, cfg.Gemini, reqCfg, cfg.TargetLanguage, "", rc.Tracker(), logger)
	default:
		return nil, fmt.Errorf("unknown translation backend: %s", cfg.Backend)
	}
}
