package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"moviequiz/pkg/db"
	"moviequiz/pkg/model"
	"moviequiz/pkg/similarity"
)

const rescoreBatchSize = 500

// TitleStore is the part of the store Rescore reads and rewrites.
type TitleStore interface {
	TranslatedTitles(ctx context.Context) ([]model.PendingTitle, error)
	UpdateTranslations(ctx context.Context, titles []model.AlternativeTitle) error
}

// Run executes the startup maintenance tasks. Failures are logged, never returned,
// so a broken cache table does not keep the pipeline from running.
func Run(ctx context.Context, d *db.DB, cacheTTL time.Duration) {
	slog.Info("Starting database maintenance...")

	if n, err := pruneCache(ctx, d, cacheTTL); err != nil {
		slog.Error("Cache pruning failed", "error", err)
	} else {
		slog.Info("Cache pruning completed", "removed", n, "ttl", cacheTTL)
	}
}

func pruneCache(ctx context.Context, d *db.DB, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, nil
	}
	return d.PruneCache(ttl)
}

// RescoreResult counts the outcome of a Rescore pass.
type RescoreResult struct {
	Checked int
	Changed int
}

// Rescore recomputes the difference ratio of every translated title and writes back
// the ones that changed, in batches.
func Rescore(ctx context.Context, s TitleStore) (RescoreResult, error) {
	var res RescoreResult
	titles, err := s.TranslatedTitles(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read translated titles: %w", err)
	}

	var batch []model.AlternativeTitle
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.UpdateTranslations(ctx, batch); err != nil {
			return err
		}
		res.Changed += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, t := range titles {
		res.Checked++
		ratio := similarity.Score(t.MovieTitle, t.TranslatedTitle)
		if ratio == t.DifferenceRatio {
			continue
		}
		a := t.AlternativeTitle
		a.DifferenceRatio = ratio
		batch = append(batch, a)
		if len(batch) >= rescoreBatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	slog.Info("Rescore completed", "checked", res.Checked, "changed", res.Changed)
	return res, nil
}
