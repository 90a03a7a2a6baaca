// Package openai translates through any OpenAI-compatible chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"moviequiz/pkg/config"
	"moviequiz/pkg/request"
	"moviequiz/pkg/translate"
)

// Provider serves every backend id with one chat model; the id only gates which
// languages are translated.
type Provider struct {
	rc      *request.Client
	baseURL string
	apiKey  string
	model   string
	target  string
	logger  *slog.Logger

	mu       sync.Mutex
	checked  bool
	checkErr error
}

// NewProvider creates a Provider translating into target.
func NewProvider(cfg config.OpenAIConfig, target string, rc *request.Client, logger *slog.Logger) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai: base_url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		rc:      rc,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.Key,
		model:   cfg.Model,
		target:  target,
		logger:  logger.With("component", "openai"),
	}, nil
}

// Load verifies once per Provider that the configured model is listed by the endpoint.
func (p *Provider) Load(ctx context.Context, backendID string) (translate.Translator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.checked {
		p.checkErr = p.validateModel(ctx)
		if ctx.Err() == nil {
			p.checked = true
		}
	}
	if p.checkErr != nil {
		return nil, p.checkErr
	}
	return &translator{p: p}, nil
}

func (p *Provider) validateModel(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("%w: openai api key is missing", translate.ErrBackendUnavailable)
	}
	u := p.baseURL + "/models"
	body, err := p.rc.GetWithHeaders(ctx, u, p.headers(), "")
	if err != nil {
		if request.IsStatus(err, 401) || request.IsStatus(err, 403) || request.IsStatus(err, 404) {
			return fmt.Errorf("%w: %s: %w", translate.ErrBackendUnavailable, u, err)
		}
		return fmt.Errorf("failed to fetch models from %s: %w", u, err)
	}

	var mresp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &mresp); err != nil {
		return fmt.Errorf("failed to parse models response: %w", err)
	}
	var available []string
	for _, m := range mresp.Data {
		if m.ID == p.model {
			p.logger.Debug("Model available", "model", p.model)
			return nil
		}
		available = append(available, m.ID)
	}
	return fmt.Errorf("%w: model %q not found at %s (available: %v)", translate.ErrBackendUnavailable, p.model, u, available)
}

func (p *Provider) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.apiKey,
		"Content-Type":  "application/json",
	}
}

// chatRequest follows the Chat Completions format.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float32         `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type translator struct {
	p *Provider
}

func (t *translator) Translate(ctx context.Context, sourceLang string, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	p := t.p
	body, err := json.Marshal(chatRequest{
		Model:          p.model,
		Messages:       []message{{Role: "user", Content: translate.Prompt(sourceLang, p.target, texts)}},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := p.rc.PostWithHeaders(ctx, p.baseURL+"/chat/completions", body, p.headers())
	if err != nil {
		return nil, err
	}

	var cresp chatResponse
	if err := json.Unmarshal(respBody, &cresp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if cresp.Error != nil {
		return nil, fmt.Errorf("openai api error: %s (%s)", cresp.Error.Message, cresp.Error.Type)
	}
	if len(cresp.Choices) == 0 {
		return nil, fmt.Errorf("api returned no choices")
	}
	return translate.DecodeList(cresp.Choices[0].Message.Content)
}
