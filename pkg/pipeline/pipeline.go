// Package pipeline sequences discovery, detail fetch and translation into one run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"moviequiz/pkg/config"
	"moviequiz/pkg/model"
	"moviequiz/pkg/store"
	"moviequiz/pkg/translate"
	"moviequiz/pkg/wikidata"
)

// Stage names one step of a run.
type Stage string

const (
	StageDiscover  Stage = "discover"
	StageDetails   Stage = "details"
	StageTranslate Stage = "translate"
)

// AllStages lists the stages in execution order.
var AllStages = []Stage{StageDiscover, StageDetails, StageTranslate}

// ErrLocked is returned when another run holds the lock file.
var ErrLocked = errors.New("another pipeline run is in progress")

// State keys written after every completed run.
const (
	StateLastRunID = "last_run_id"
	StateLastRunAt = "last_run_at"
)

// Wikidata is the upstream the stages read from.
type Wikidata interface {
	wikidata.RankedQuerier
	wikidata.EntityGetter
}

// Store is the persistence surface the stages write to.
type Store interface {
	wikidata.RankedStore
	wikidata.DetailStore
	translate.TitleStore
	PendingDetailIDs(ctx context.Context, limit int) ([]string, error)
	PendingTitles(ctx context.Context, languages []string, limit int) ([]model.PendingTitle, error)
	SetState(ctx context.Context, key, val string) error
}

// ProviderFunc builds the translation provider on first use.
type ProviderFunc func(ctx context.Context) (translate.Provider, error)

// Options selects what one run does. Zero values fall back to configuration.
type Options struct {
	Stages         []Stage // empty means AllStages
	DiscoverCount  int
	DetailLimit    int // 0 fetches every pending movie
	TranslateLimit int
}

// StageReport describes one executed stage.
type StageReport struct {
	Stage    Stage
	Duration time.Duration
	Err      error
}

// Report summarizes a run.
type Report struct {
	RunID     string
	Started   time.Time
	Duration  time.Duration
	Stages    []StageReport
	Discover  *wikidata.DiscoverResult
	Details   *wikidata.DetailResult
	Translate *translate.Result
}

// Errors returns every stage error and per-item failure of the run.
func (r *Report) Errors() []error {
	var errs []error
	for _, s := range r.Stages {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Stage, s.Err))
		}
	}
	if r.Details != nil {
		errs = append(errs, r.Details.Errors...)
	}
	if r.Translate != nil {
		errs = append(errs, r.Translate.Errors...)
	}
	return errs
}

// Pipeline runs the enrichment stages against one store.
type Pipeline struct {
	wd          Wikidata
	store       Store
	newProvider ProviderFunc
	cfg         *config.Config
	logger      *slog.Logger
}

// New creates a Pipeline. newProvider may be nil when translation is never run.
func New(wd Wikidata, st Store, newProvider ProviderFunc, cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{wd: wd, store: st, newProvider: newProvider, cfg: cfg, logger: logger}
}

// Run executes the selected stages in order. Stage failures are logged and reported
// while later stages still run; a failed commit or cancellation ends the run and is
// returned.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), Started: time.Now()}
	logger := p.logger.With("run_id", rep.RunID)

	if path := p.cfg.Pipeline.LockFile; path != "" {
		unlock, err := acquireLock(path)
		if err != nil {
			return rep, err
		}
		defer unlock()
	}

	stages := selectStages(opts.Stages)
	logger.Info("Pipeline run started", "stages", stages)

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		start := time.Now()
		err := p.runStage(ctx, logger, stage, opts, rep)
		rep.Stages = append(rep.Stages, StageReport{Stage: stage, Duration: time.Since(start), Err: err})
		if err == nil {
			continue
		}
		if isFatal(err) {
			logger.Error("Pipeline run aborted", "stage", stage, "error", err)
			rep.Duration = time.Since(rep.Started)
			return rep, err
		}
		logger.Error("Stage failed", "stage", stage, "error", err)
	}

	rep.Duration = time.Since(rep.Started)
	if err := p.store.SetState(ctx, StateLastRunID, rep.RunID); err != nil {
		return rep, err
	}
	if err := p.store.SetState(ctx, StateLastRunAt, rep.Started.UTC().Format(time.RFC3339)); err != nil {
		return rep, err
	}
	logger.Info("Pipeline run finished", "duration", rep.Duration.Round(time.Millisecond), "errors", len(rep.Errors()))
	return rep, nil
}

func (p *Pipeline) runStage(ctx context.Context, logger *slog.Logger, stage Stage, opts Options, rep *Report) error {
	wc := p.cfg.Wikidata
	switch stage {
	case StageDiscover:
		count := opts.DiscoverCount
		if count == 0 {
			count = p.cfg.Pipeline.DiscoverCount
		}
		d := wikidata.NewDiscoverer(p.wd, p.store, wc.DiscoveryPageSize, wc.PageInterval.Std(), logger)
		res, err := d.Discover(ctx, count)
		rep.Discover = &res
		return err

	case StageDetails:
		ids, err := p.store.PendingDetailIDs(ctx, opts.DetailLimit)
		if err != nil {
			return fmt.Errorf("pending details: %w", err)
		}
		f := wikidata.NewDetailFetcher(p.wd, p.store, wc.DetailPageSize, wc.PageInterval.Std(), wc.Workers, logger)
		res, err := f.Run(ctx, ids)
		rep.Details = &res
		return err

	case StageTranslate:
		tc := p.cfg.Translation
		limit := opts.TranslateLimit
		if limit == 0 {
			limit = tc.Limit
		}
		titles, err := p.store.PendingTitles(ctx, Languages(tc.Languages), limit)
		if err != nil {
			return fmt.Errorf("pending titles: %w", err)
		}
		if len(titles) == 0 {
			logger.Info("No pending titles")
			rep.Translate = &translate.Result{}
			return nil
		}
		if p.newProvider == nil {
			return fmt.Errorf("%w: no translation backend configured", translate.ErrBackendUnavailable)
		}
		prov, err := p.newProvider(ctx)
		if err != nil {
			return err
		}
		b := translate.NewBatcher(prov, p.store, tc.Languages, tc.MaxBatchSize, tc.Workers, logger)
		res, err := b.Run(ctx, titles)
		rep.Translate = &res
		return err
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// Languages returns the source languages of a language table, sorted.
func Languages(table map[string]string) []string {
	langs := make([]string, 0, len(table))
	for l := range table {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// selectStages keeps the requested stages in execution order.
func selectStages(requested []Stage) []Stage {
	if len(requested) == 0 {
		return AllStages
	}
	want := make(map[Stage]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	var out []Stage
	for _, s := range AllStages {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

func isFatal(err error) bool {
	return errors.Is(err, store.ErrCommit) || errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// acquireLock takes a non-blocking exclusive lock on path.
func acquireLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock: %s)", ErrLocked, path)
	}
	return func() { _ = fl.Unlock() }, nil
}
