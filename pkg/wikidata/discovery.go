package wikidata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"moviequiz/pkg/model"
)

// RankedQuerier returns one page of ranked items.
type RankedQuerier interface {
	QueryRanked(ctx context.Context, offset, limit int) ([]model.RankedEntity, error)
}

// RankedStore persists discovery results.
type RankedStore interface {
	CountMovies(ctx context.Context) (int, error)
	UpsertRanked(ctx context.Context, entities []model.RankedEntity) error
}

// DiscoverResult summarizes one discovery pass.
type DiscoverResult struct {
	Existing int
	Target   int
	Pages    int
	Fetched  int
}

// Discoverer pages through the ranked query until the store holds the target count.
type Discoverer struct {
	client   RankedQuerier
	store    RankedStore
	pageSize int
	interval time.Duration
	logger   *slog.Logger
}

// NewDiscoverer creates a Discoverer. pageSize is capped at the upstream maximum of 500.
func NewDiscoverer(client RankedQuerier, store RankedStore, pageSize int, interval time.Duration, logger *slog.Logger) *Discoverer {
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		client:   client,
		store:    store,
		pageSize: pageSize,
		interval: interval,
		logger:   logger.With("component", "discovery"),
	}
}

// Discover fetches count more ranked items, continuing after the ones already stored.
// Every page is committed on its own; a failed page stops discovery and is returned.
func (d *Discoverer) Discover(ctx context.Context, count int) (DiscoverResult, error) {
	existing, err := d.store.CountMovies(ctx)
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("count movies: %w", err)
	}
	res := DiscoverResult{Existing: existing, Target: existing + count}
	if count <= 0 {
		return res, nil
	}

	d.logger.Info("Starting discovery", "existing", existing, "target", res.Target, "page_size", d.pageSize)

	for offset := existing; offset < res.Target; {
		if res.Pages > 0 {
			if err := sleepCtx(ctx, d.interval); err != nil {
				return res, err
			}
		}

		limit := min(d.pageSize, res.Target-offset)
		page, err := d.client.QueryRanked(ctx, offset, limit)
		if err != nil {
			return res, fmt.Errorf("discovery page at offset %d: %w", offset, err)
		}
		res.Pages++

		if err := d.store.UpsertRanked(ctx, page); err != nil {
			return res, err
		}
		res.Fetched += len(page)
		d.logger.Info("Discovery page committed", "offset", offset, "limit", limit, "received", len(page))

		if len(page) < limit {
			d.logger.Info("Ranked query exhausted", "offset", offset, "received", len(page))
			break
		}
		offset += limit
	}

	d.logger.Info("Discovery finished", "pages", res.Pages, "fetched", res.Fetched)
	return res, nil
}

// sleepCtx pauses for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
