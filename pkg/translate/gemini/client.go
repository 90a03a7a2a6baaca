// Package gemini translates through Google Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"moviequiz/pkg/config"
	"moviequiz/pkg/request"
	"moviequiz/pkg/tracker"
	"moviequiz/pkg/translate"
)

const trackerName = "gemini"

// Provider serves every backend id with the configured Gemini model.
type Provider struct {
	client    *genai.Client
	modelName string
	target    string
	tracker   *tracker.Tracker
	backoff   *request.ProviderBackoff
	attempts  int
	logger    *slog.Logger

	mu       sync.Mutex
	checked  bool
	checkErr error
}

// NewProvider creates a Gemini provider. Every call is bounded by rc.Timeout and retried
// like the shared request client. baseURL overrides the API endpoint and is empty
// outside tests.
func NewProvider(ctx context.Context, cfg config.GeminiConfig, rc config.RequestConfig, target, baseURL string, t *tracker.Tracker, logger *slog.Logger) (*Provider, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: gemini api key is missing", translate.ErrBackendUnavailable)
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}

	cc := &genai.ClientConfig{APIKey: cfg.Key, Backend: genai.BackendGeminiAPI}
	cc.HTTPOptions.BaseURL = baseURL
	if timeout := rc.Timeout.Std(); timeout > 0 {
		cc.HTTPOptions.Timeout = &timeout
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{
		client:    client,
		modelName: model,
		target:    target,
		tracker:   t,
		backoff:   request.NewProviderBackoff(rc.Backoff.BaseDelay.Std(), rc.Backoff.MaxDelay.Std()),
		attempts:  max(rc.Retries+1, 1),
		logger:    logger.With("component", "gemini"),
	}, nil
}

// Load validates the model once per Provider.
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

// validateModel checks the configured model with one Get call. When that fails the
// available models are listed to tell a missing model from a flaky API.
func (p *Provider) validateModel(ctx context.Context) error {
	name := p.modelName
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}

	err := p.call(ctx, "get model", func(ctx context.Context) error {
		_, err := p.client.Models.Get(ctx, name, nil)
		return err
	})
	if err == nil {
		p.logger.Debug("Gemini model validation success", "model", p.modelName)
		return nil
	}
	p.logger.Warn("Gemini model validation failed, fetching available models", "model", p.modelName, "error", err)

	it, listErr := newModelIterator(ctx, p.client)
	if listErr != nil {
		return fmt.Errorf("gemini model %s: %w", p.modelName, err)
	}
	var available []string
	for {
		m, nextErr := it.Next()
		if nextErr == iterator.Done {
			break
		}
		if nextErr != nil {
			return fmt.Errorf("gemini model %s: %w", p.modelName, err)
		}
		if m.Name == name {
			return nil
		}
		if strings.Contains(strings.ToLower(m.Name), "gemini") {
			available = append(available, m.Name)
		}
	}
	p.logger.Error("Configured model not found", "configured", p.modelName, "available", available)
	return fmt.Errorf("%w: gemini model %s not found", translate.ErrBackendUnavailable, p.modelName)
}

// modelIterator walks every page of Models.List.
type modelIterator struct {
	ctx  context.Context
	page genai.Page[genai.Model]
	idx  int
}

func newModelIterator(ctx context.Context, c *genai.Client) (*modelIterator, error) {
	page, err := c.Models.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &modelIterator{ctx: ctx, page: page}, nil
}

// Next returns the next model, or iterator.Done after the last one.
func (it *modelIterator) Next() (*genai.Model, error) {
	for it.idx >= len(it.page.Items) {
		next, err := it.page.Next(it.ctx)
		if errors.Is(err, genai.ErrPageDone) {
			return nil, iterator.Done
		}
		if err != nil {
			return nil, err
		}
		it.page, it.idx = next, 0
	}
	m := it.page.Items[it.idx]
	it.idx++
	return m, nil
}

type translator struct {
	p *Provider
}

func (t *translator) Translate(ctx context.Context, sourceLang string, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	p := t.p
	temp := float32(0.1)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temp,
	}

	prompt := genai.Text(translate.Prompt(sourceLang, p.target, texts))
	var resp *genai.GenerateContentResponse
	err := p.call(ctx, "generate content", func(ctx context.Context) error {
		var err error
		resp, err = p.client.Models.GenerateContent(ctx, p.modelName, prompt, cfg)
		return err
	})
	if err != nil {
		p.track(false)
		return nil, fmt.Errorf("generate content: %w", err)
	}
	text, err := getResponseText(resp)
	if err != nil {
		p.track(false)
		return nil, err
	}
	out, err := translate.DecodeList(text)
	if err != nil {
		p.track(false)
		return nil, err
	}
	p.track(true)
	return out, nil
}

// call runs fn up to p.attempts times, backing off after timeouts, connection
// errors, 429 and 5xx. Other API errors are returned at once.
func (p *Provider) call(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err := p.backoff.Wait(ctx, trackerName); err != nil {
			return err
		}
		if attempt > 0 && p.tracker != nil {
			p.tracker.TrackAPIRetry(trackerName)
		}

		err := fn(ctx)
		if err == nil {
			p.backoff.RecordSuccess(trackerName)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) {
			p.backoff.RecordSuccess(trackerName)
			return err
		}
		p.logger.Warn("Gemini request failed", "op", op, "attempt", attempt+1, "error", err)
		p.backoff.RecordFailure(trackerName)
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", request.ErrTransient, p.attempts, lastErr)
}

func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

func (p *Provider) track(ok bool) {
	if p.tracker == nil {
		return
	}
	if ok {
		p.tracker.TrackAPISuccess(trackerName)
	} else {
		p.tracker.TrackAPIFailure(trackerName)
	}
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates returned")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
