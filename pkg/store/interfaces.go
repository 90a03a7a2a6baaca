package store

import (
	"context"
	"errors"

	"moviequiz/pkg/model"
)

// ErrCommit wraps every failed write. The pipeline treats it as fatal for the run:
// it means the store itself is unavailable, not that one record was bad.
var ErrCommit = errors.New("store commit failed")

// ErrUnavailable wraps a failed read of pending work. Like ErrCommit it means the
// store cannot serve the run.
var ErrUnavailable = errors.New("store unavailable")

// MovieStore handles movie persistence for the discovery and detail stages.
type MovieStore interface {
	CountMovies(ctx context.Context) (int, error)
	UpsertRanked(ctx context.Context, entities []model.RankedEntity) error
	PendingDetailIDs(ctx context.Context, limit int) ([]string, error)
	CommitDetailPage(ctx context.Context, page *model.DetailPage) error
	GetMovie(ctx context.Context, id string) (*model.MovieDetail, error)
}

// PersonStore handles cast and director lookups.
type PersonStore interface {
	GetPerson(ctx context.Context, id string) (*model.PersonRef, error)
}

// TitleStore handles alternative titles and their translations.
type TitleStore interface {
	PendingTitles(ctx context.Context, languages []string, limit int) ([]model.PendingTitle, error)
	UpdateTranslations(ctx context.Context, titles []model.AlternativeTitle) error
	TranslatedTitles(ctx context.Context) ([]model.PendingTitle, error)
	GetAlternativeTitles(ctx context.Context, movieID string) ([]model.AlternativeTitle, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	MovieStore
	PersonStore
	TitleStore
	StateStore

	// Stats counts store contents; fairMin/fairMax bound the "fair" difference ratio band.
	Stats(ctx context.Context, fairMin, fairMax float64) (model.Stats, error)

	// Close closes the store connection.
	Close() error
}
