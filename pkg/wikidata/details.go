package wikidata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"moviequiz/pkg/model"
)

var (
	releaseDateProps = []string{PropReleaseDate}
	durationProps    = []string{PropDuration}
	countryProps     = []string{PropCountry}
	directorProps    = []string{PropDirector}
	castProps        = []string{PropCastMember, PropVoiceActor}
)

const (
	directorLimit = 3
	castLimit     = 5
)

// EntityGetter fetches full records and resolves labels.
type EntityGetter interface {
	GetEntities(ctx context.Context, ids []string) (map[string]Entity, error)
	LabelFetcher
}

// DetailStore commits one resolved page.
type DetailStore interface {
	CommitDetailPage(ctx context.Context, page *model.DetailPage) error
}

// PageStats counts what happened to the ids of one page.
type PageStats struct {
	Movies  int // resolved records
	Missing int // ids absent upstream
	Skipped int // records without an English label
}

// DetailResult summarizes a detail run.
type DetailResult struct {
	Pages       int
	FailedPages int
	PageStats
	Errors []error // per-page failures, each already logged
}

// DetailFetcher fetches full records page by page and commits each page on its own.
type DetailFetcher struct {
	client   EntityGetter
	store    DetailStore
	pageSize int
	interval time.Duration
	workers  int
	logger   *slog.Logger
}

// NewDetailFetcher creates a DetailFetcher. pageSize is capped at MaxEntitiesPerRequest
// and workers defaults to 1.
func NewDetailFetcher(client EntityGetter, store DetailStore, pageSize int, interval time.Duration, workers int, logger *slog.Logger) *DetailFetcher {
	if pageSize <= 0 || pageSize > MaxEntitiesPerRequest {
		pageSize = MaxEntitiesPerRequest
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DetailFetcher{
		client:   client,
		store:    store,
		pageSize: pageSize,
		interval: interval,
		workers:  workers,
		logger:   logger.With("component", "details"),
	}
}

// Run fetches and commits details for ids. A failed page is logged and recorded in the
// result; only a failed commit or cancellation stops the run and is returned.
func (f *DetailFetcher) Run(ctx context.Context, ids []string) (DetailResult, error) {
	var (
		res DetailResult
		mu  sync.Mutex
	)
	pages := chunk(ids, f.pageSize)
	f.logger.Info("Starting detail fetch", "ids", len(ids), "pages", len(pages), "workers", f.workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, pageIDs := range pages {
		if gctx.Err() != nil {
			break
		}
		last := i == len(pages)-1
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			page, stats, err := f.FetchPage(gctx, pageIDs)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.Error("Detail page failed", "page", i+1, "first", pageIDs[0], "error", err)
				mu.Lock()
				res.Pages++
				res.FailedPages++
				res.Errors = append(res.Errors, fmt.Errorf("page %d: %w", i+1, err))
				mu.Unlock()
			} else {
				if err := f.store.CommitDetailPage(gctx, page); err != nil {
					return err
				}
				mu.Lock()
				res.Pages++
				res.Movies += stats.Movies
				res.Missing += stats.Missing
				res.Skipped += stats.Skipped
				mu.Unlock()
				f.logger.Info("Detail page committed", "page", i+1, "of", len(pages), "movies", stats.Movies,
					"missing", stats.Missing, "skipped", stats.Skipped)
			}
			if last {
				return nil
			}
			return sleepCtx(gctx, f.interval)
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	f.logger.Info("Detail fetch finished", "pages", res.Pages, "failed_pages", res.FailedPages, "movies", res.Movies)
	return res, err
}

// FetchDetails resolves ids without storing them. Ids missing upstream or lacking an
// English label are absent from the result. On a page failure the pages resolved so
// far are returned with the error.
func (f *DetailFetcher) FetchDetails(ctx context.Context, ids []string) (map[string]model.MovieDetail, error) {
	out := make(map[string]model.MovieDetail, len(ids))
	for i, pageIDs := range chunk(ids, f.pageSize) {
		if i > 0 {
			if err := sleepCtx(ctx, f.interval); err != nil {
				return out, err
			}
		}
		page, _, err := f.FetchPage(ctx, pageIDs)
		if err != nil {
			return out, err
		}
		for _, m := range page.Movies {
			out[m.ID] = m
		}
	}
	return out, nil
}

// FetchPage issues one batched entity request for ids and resolves every record.
func (f *DetailFetcher) FetchPage(ctx context.Context, ids []string) (*model.DetailPage, PageStats, error) {
	var stats PageStats
	entities, err := f.client.GetEntities(ctx, ids)
	if err != nil {
		return nil, stats, err
	}

	labels := newLabelMemo(f.client)
	labels.prefetch(ctx, f.logger, entities)
	resolver := NewClaimResolver(labels, f.logger)

	page := &model.DetailPage{}
	persons := make(map[string]int) // id -> index in page.Persons

	for _, id := range ids {
		e, ok := entities[id]
		if !ok {
			f.logger.Error("Entity not found", "qid", id, "error", ErrNotFound)
			stats.Missing++
			continue
		}

		movie, refs, titles, ok := f.buildMovie(ctx, resolver, id, &e)
		if !ok {
			stats.Skipped++
			continue
		}
		page.Movies = append(page.Movies, movie)
		page.Titles = append(page.Titles, titles...)
		for _, r := range refs {
			p := model.PersonRef{ID: r.ID, Name: r.Label}
			if idx, seen := persons[r.ID]; seen {
				page.Persons[idx] = p
				continue
			}
			persons[r.ID] = len(page.Persons)
			page.Persons = append(page.Persons, p)
		}
		stats.Movies++
	}
	return page, stats, nil
}

func (f *DetailFetcher) buildMovie(ctx context.Context, r *ClaimResolver, id string, e *Entity) (model.MovieDetail, []RefValue, []model.AlternativeTitle, bool) {
	title := e.Labels["en"].Value
	if title == "" {
		f.logger.Warn("Skipping entity without English label", "qid", id)
		return model.MovieDetail{}, nil, nil, false
	}

	directors := Refs(r.ResolveProperty(ctx, e, directorProps, directorLimit, false))
	cast := Refs(r.ResolveProperty(ctx, e, castProps, castLimit, false))

	m := model.MovieDetail{
		ID:          id,
		Title:       title,
		Description: e.Descriptions["en"],
		ReleaseDate: FirstDate(r.ResolveProperty(ctx, e, releaseDateProps, 1, true)),
		Duration:    FirstDuration(r.ResolveProperty(ctx, e, durationProps, 1, true)),
		Country:     FirstLabel(r.ResolveProperty(ctx, e, countryProps, 1, true)),
		CastIDs:     refIDs(cast),
		DirectorIDs: refIDs(directors),
	}

	return m, append(directors, cast...), alternativeTitles(id, title, e.Labels), true
}

// alternativeTitles lists every label that differs from the canonical title, skipping
// region-qualified language codes ("es-mx", "de-at"). Ordered by language code.
func alternativeTitles(movieID, canonical string, labels map[string]Label) []model.AlternativeTitle {
	langs := make([]string, 0, len(labels))
	for lang := range labels {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	var out []model.AlternativeTitle
	for _, lang := range langs {
		text := labels[lang].Value
		if strings.Contains(lang, "-") || text == "" || text == canonical {
			continue
		}
		out = append(out, model.AlternativeTitle{
			MovieID:         movieID,
			LanguageCode:    lang,
			Title:           text,
			DifferenceRatio: model.DefaultDifferenceRatio,
		})
	}
	return out
}

func refIDs(refs []RefValue) []string {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(ids); i += size {
		out = append(out, ids[i:min(i+size, len(ids))])
	}
	return out
}

// labelMemo serves label lookups for one page from a single prefetch, so records
// sharing cast or directors cost one request instead of one per record.
type labelMemo struct {
	src    LabelFetcher
	mu     sync.Mutex
	done   map[string]bool
	labels map[string]string
	err    error
}

func newLabelMemo(src LabelFetcher) *labelMemo {
	return &labelMemo{src: src, done: make(map[string]bool), labels: make(map[string]string)}
}

// prefetch looks up every item referenced under the resolved properties of the page.
func (m *labelMemo) prefetch(ctx context.Context, logger *slog.Logger, entities map[string]Entity) {
	var ids []string
	seen := make(map[string]bool)
	collect := func(e *Entity, props []string, limit int) {
		for _, prop := range props {
			claims := e.Claims[prop]
			if len(claims) > limit {
				claims = claims[:limit]
			}
			for _, c := range claims {
				if ref, ok := c.(ClaimEntity); ok && !seen[ref.ID] {
					seen[ref.ID] = true
					ids = append(ids, ref.ID)
				}
			}
		}
	}
	for _, e := range entities {
		collect(&e, countryProps, 1)
		collect(&e, directorProps, directorLimit)
		collect(&e, castProps, castLimit)
	}
	if len(ids) == 0 {
		return
	}
	if _, err := m.GetLabels(ctx, ids); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Label prefetch failed", "ids", len(ids), "error", err)
	}
}

// GetLabels implements LabelFetcher. Ids already looked up are answered from memory;
// after a failed lookup, further misses fail with the same error.
func (m *labelMemo) GetLabels(ctx context.Context, ids []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var missing []string
	for _, id := range ids {
		if !m.done[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if m.err != nil {
			return nil, m.err
		}
		got, err := m.src.GetLabels(ctx, missing)
		if err != nil {
			m.err = err
			return nil, err
		}
		for _, id := range missing {
			m.done[id] = true
			if l, ok := got[id]; ok {
				m.labels[id] = l
			}
		}
	}

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if l, ok := m.labels[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}
