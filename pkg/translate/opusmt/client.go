// Package opusmt translates through Helsinki-NLP opus-mt models served by the
// Hugging Face Inference API.
package opusmt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"moviequiz/pkg/config"
	"moviequiz/pkg/request"
	"moviequiz/pkg/translate"
)

// Provider loads opus-mt models by source id ("de", "ROMANCE", "mul").
type Provider struct {
	rc           *request.Client
	inferenceURL string
	hubURL       string
	key          string
	target       string
	logger       *slog.Logger
}

// NewProvider creates a Provider translating into target.
func NewProvider(cfg config.OpusMTConfig, target string, rc *request.Client, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		rc:           rc,
		inferenceURL: strings.TrimSuffix(cfg.InferenceURL, "/"),
		hubURL:       strings.TrimSuffix(cfg.HubURL, "/"),
		key:          cfg.Key,
		target:       target,
		logger:       logger.With("component", "opus-mt"),
	}
}

// ModelName returns the hub name of the model translating backendID into the target.
func (p *Provider) ModelName(backendID string) string {
	return fmt.Sprintf("Helsinki-NLP/opus-mt-%s-%s", backendID, p.target)
}

// Load checks that the model exists on the hub. A missing model yields
// translate.ErrBackendUnavailable.
func (p *Provider) Load(ctx context.Context, backendID string) (translate.Translator, error) {
	model := p.ModelName(backendID)

	body, err := p.rc.GetWithHeaders(ctx, p.hubURL+"/api/models/"+model, p.headers(), "")
	if err != nil {
		var se *request.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %s: %w", translate.ErrBackendUnavailable, model, err)
		}
		return nil, fmt.Errorf("probe %s: %w", model, err)
	}

	var meta struct {
		ID       string `json:"id"`
		Disabled bool   `json:"disabled"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("probe %s: decode metadata: %w", model, err)
	}
	if meta.Disabled {
		return nil, fmt.Errorf("%w: %s is disabled", translate.ErrBackendUnavailable, model)
	}

	p.logger.Debug("Model available", "model", model)
	return &translator{p: p, model: model}, nil
}

func (p *Provider) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if p.key != "" {
		h["Authorization"] = "Bearer " + p.key
	}
	return h
}

type translator struct {
	p     *Provider
	model string
}

type inferenceRequest struct {
	Inputs  []string        `json:"inputs"`
	Options map[string]bool `json:"options,omitempty"`
}

type inferenceResult struct {
	TranslationText string `json:"translation_text"`
}

// Translate sends the whole batch in one inference call. The model is fixed per
// source id, so sourceLang is only logged.
func (t *translator) Translate(ctx context.Context, sourceLang string, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(inferenceRequest{
		Inputs:  texts,
		Options: map[string]bool{"wait_for_model": true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := t.p.rc.PostWithHeaders(ctx, t.p.inferenceURL+"/models/"+t.model, body, t.p.headers())
	if err != nil {
		return nil, fmt.Errorf("inference %s: %w", t.model, err)
	}

	var results []inferenceResult
	if err := json.Unmarshal(resp, &results); err != nil {
		return nil, fmt.Errorf("inference %s: decode response: %w", t.model, err)
	}

	out := make([]string, len(results))
	for i, r := range results {
		out[i] = strings.TrimSpace(r.TranslationText)
	}
	t.p.logger.Debug("Batch translated", "model", t.model, "lang", sourceLang, "size", len(texts))
	return out, nil
}
