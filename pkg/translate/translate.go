// Package translate turns pending alternative titles into translated, scored titles.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"moviequiz/pkg/model"
	"moviequiz/pkg/similarity"
	"moviequiz/pkg/store"
)

// ErrBackendUnavailable is returned by Provider.Load when a model cannot be obtained.
var ErrBackendUnavailable = errors.New("translation backend unavailable")

// Translator translates a batch of texts from sourceLang into the provider's target
// language. The result has one entry per input, in input order.
type Translator interface {
	Translate(ctx context.Context, sourceLang string, texts []string) ([]string, error)
}

// Provider loads translators by backend identifier (a value of the language table).
type Provider interface {
	Load(ctx context.Context, backendID string) (Translator, error)
}

// TitleStore persists one translated batch.
type TitleStore interface {
	UpdateTranslations(ctx context.Context, titles []model.AlternativeTitle) error
}

// Batch is a run of consecutive pending titles of one language.
type Batch struct {
	Language string
	Titles   []model.PendingTitle
}

// Partition groups titles by language code, languages in first-seen order, and
// splits each group into consecutive batches of at most maxSize. Input order is
// kept within a language.
func Partition(titles []model.PendingTitle, maxSize int) []Batch {
	if maxSize < 1 {
		maxSize = 1
	}
	var order []string
	groups := make(map[string][]model.PendingTitle)
	for _, t := range titles {
		if _, ok := groups[t.LanguageCode]; !ok {
			order = append(order, t.LanguageCode)
		}
		groups[t.LanguageCode] = append(groups[t.LanguageCode], t)
	}

	var batches []Batch
	for _, lang := range order {
		g := groups[lang]
		for i := 0; i < len(g); i += maxSize {
			batches = append(batches, Batch{Language: lang, Titles: g[i:min(i+maxSize, len(g))]})
		}
	}
	return batches
}

// Result summarizes a translation run.
type Result struct {
	Batches          int
	FailedBatches    int
	Translated       int
	SkippedLanguages []string
	Errors           []error // per-language and per-batch failures, each already logged
}

// Batcher translates pending titles batch by batch, scores each translation and
// commits every batch on its own.
type Batcher struct {
	provider  Provider
	store     TitleStore
	languages map[string]string
	maxBatch  int
	workers   int
	logger    *slog.Logger

	mu     sync.Mutex
	loaded map[string]Translator
	failed map[string]error
}

// NewBatcher creates a Batcher. languages maps a source language code to a backend id.
func NewBatcher(p Provider, s TitleStore, languages map[string]string, maxBatch, workers int, logger *slog.Logger) *Batcher {
	if maxBatch < 1 {
		maxBatch = 1
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		provider:  p,
		store:     s,
		languages: languages,
		maxBatch:  maxBatch,
		workers:   workers,
		logger:    logger.With("component", "translate"),
		loaded:    make(map[string]Translator),
		failed:    make(map[string]error),
	}
}

// Run translates titles. A backend that cannot be loaded skips its languages and a
// failed batch is skipped; both are recorded in the result. Only a failed commit or
// cancellation stops the run and is returned.
func (b *Batcher) Run(ctx context.Context, titles []model.PendingTitle) (Result, error) {
	var res Result
	batches := Partition(titles, b.maxBatch)

	// Translators are loaded up front in language order so languages sharing a
	// backend reuse one instance.
	var langs []string
	byLang := make(map[string][]Batch)
	for _, batch := range batches {
		if _, ok := byLang[batch.Language]; !ok {
			langs = append(langs, batch.Language)
		}
		byLang[batch.Language] = append(byLang[batch.Language], batch)
	}

	type work struct {
		lang       string
		translator Translator
		batches    []Batch
	}
	var queue []work
	for _, lang := range langs {
		tr, err := b.translator(ctx, lang)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			b.logger.Error("Skipping language", "lang", lang, "titles", countTitles(byLang[lang]), "error", err)
			res.SkippedLanguages = append(res.SkippedLanguages, lang)
			res.Errors = append(res.Errors, fmt.Errorf("language %s: %w", lang, err))
			continue
		}
		queue = append(queue, work{lang: lang, translator: tr, batches: byLang[lang]})
	}

	b.logger.Info("Starting translation", "titles", len(titles), "batches", len(batches), "languages", len(queue))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, w := range queue {
		g.Go(func() error {
			for i, batch := range w.batches {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := b.runBatch(gctx, w.translator, batch)
				mu.Lock()
				res.Batches++
				res.Translated += n
				mu.Unlock()
				if err == nil {
					continue
				}
				if errors.Is(err, store.ErrCommit) || gctx.Err() != nil {
					return err
				}
				b.logger.Error("Translation batch failed", "lang", w.lang, "batch", i+1, "size", len(batch.Titles), "error", err)
				mu.Lock()
				res.FailedBatches++
				res.Errors = append(res.Errors, fmt.Errorf("language %s batch %d: %w", w.lang, i+1, err))
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	b.logger.Info("Translation finished", "batches", res.Batches, "failed_batches", res.FailedBatches,
		"translated", res.Translated, "skipped_languages", len(res.SkippedLanguages))
	return res, err
}

// translator returns the cached translator for lang's backend, loading it on first use.
// Load failures are remembered for the lifetime of the Batcher.
func (b *Batcher) translator(ctx context.Context, lang string) (Translator, error) {
	backendID, ok := b.languages[lang]
	if !ok {
		return nil, fmt.Errorf("%w: no backend for language %q", ErrBackendUnavailable, lang)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if tr, ok := b.loaded[backendID]; ok {
		return tr, nil
	}
	if err, ok := b.failed[backendID]; ok {
		return nil, err
	}

	tr, err := b.provider.Load(ctx, backendID)
	if err != nil {
		if ctx.Err() == nil {
			b.failed[backendID] = err
		}
		return nil, err
	}
	b.logger.Info("Translation backend loaded", "backend", backendID, "lang", lang)
	b.loaded[backendID] = tr
	return tr, nil
}

// runBatch translates one batch, scores every translation and commits them together.
// It returns the number of titles committed.
func (b *Batcher) runBatch(ctx context.Context, tr Translator, batch Batch) (int, error) {
	texts := make([]string, len(batch.Titles))
	for i, t := range batch.Titles {
		texts[i] = t.Title
	}

	out, err := tr.Translate(ctx, batch.Language, texts)
	if err != nil {
		return 0, err
	}
	if len(out) != len(texts) {
		return 0, fmt.Errorf("backend returned %d translations for %d titles", len(out), len(texts))
	}

	updates := make([]model.AlternativeTitle, 0, len(out))
	for i, t := range batch.Titles {
		if out[i] == "" {
			b.logger.Warn("Empty translation", "movie", t.MovieID, "lang", t.LanguageCode, "title", t.Title)
			continue
		}
		a := t.AlternativeTitle
		a.TranslatedTitle = out[i]
		a.DifferenceRatio = similarity.Score(t.MovieTitle, a.TranslatedTitle)
		updates = append(updates, a)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	if err := b.store.UpdateTranslations(ctx, updates); err != nil {
		return 0, err
	}
	return len(updates), nil
}

func countTitles(batches []Batch) int {
	n := 0
	for _, b := range batches {
		n += len(b.Titles)
	}
	return n
}
