package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviequiz/pkg/db"
	"moviequiz/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewSQLiteStore(d)
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func matrixPage() *model.DetailPage {
	return &model.DetailPage{
		Movies: []model.MovieDetail{{
			ID:          "Q83495",
			Title:       "The Matrix",
			Description: "1999 film by the Wachowskis",
			Country:     "United States of America",
			ReleaseDate: date(1999, time.March, 31),
			Duration:    136 * time.Minute,
			CastIDs:     []string{"Q43416", "Q193048"},
			DirectorIDs: []string{"Q9544977", "Q9545711"},
		}},
		Persons: []model.PersonRef{
			{ID: "Q43416", Name: "Keanu Reeves"},
			{ID: "Q193048", Name: "Laurence Fishburne"},
			{ID: "Q9544977", Name: "Lana Wachowski"},
			{ID: "Q9545711", Name: "Lilly Wachowski"},
		},
		Titles: []model.AlternativeTitle{
			{MovieID: "Q83495", LanguageCode: "de", Title: "Matrix"},
			{MovieID: "Q83495", LanguageCode: "fr", Title: "Matrix"},
		},
	}
}

func TestUpsertRanked_NeverLowersSitelinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRanked(ctx, []model.RankedEntity{{ID: "Q1", Sitelinks: 100}, {ID: "Q2", Sitelinks: 50}}))
	require.NoError(t, s.UpsertRanked(ctx, []model.RankedEntity{{ID: "Q1", Sitelinks: 80}, {ID: "Q2", Sitelinks: 70}}))

	n, err := s.CountMovies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m1, err := s.GetMovie(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, 100, m1.Sitelinks, "lower rank must not overwrite")

	m2, err := s.GetMovie(ctx, "Q2")
	require.NoError(t, err)
	assert.Equal(t, 70, m2.Sitelinks, "higher rank must be kept")

	missing, err := s.GetMovie(ctx, "Q404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPendingDetailIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRanked(ctx, []model.RankedEntity{
		{ID: "Q10", Sitelinks: 10}, {ID: "Q83495", Sitelinks: 300}, {ID: "Q30", Sitelinks: 30},
	}))

	ids, err := s.PendingDetailIDs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q83495", "Q30", "Q10"}, ids)

	ids, err = s.PendingDetailIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q83495", "Q30"}, ids)

	require.NoError(t, s.CommitDetailPage(ctx, matrixPage()))
	ids, err = s.PendingDetailIDs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q30", "Q10"}, ids)
}

func TestCommitDetailPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRanked(ctx, []model.RankedEntity{{ID: "Q83495", Sitelinks: 300}}))
	require.NoError(t, s.CommitDetailPage(ctx, matrixPage()))

	m, err := s.GetMovie(ctx, "Q83495")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "The Matrix", m.Title)
	assert.Equal(t, 300, m.Sitelinks, "detail commit keeps the discovered rank")
	assert.Equal(t, 136*time.Minute, m.Duration)
	require.NotNil(t, m.ReleaseDate)
	assert.Equal(t, "1999-03-31", m.ReleaseDate.Format("2006-01-02"))
	assert.Equal(t, []string{"Q43416", "Q193048"}, m.CastIDs)
	assert.Equal(t, []string{"Q9544977", "Q9545711"}, m.DirectorIDs)

	p, err := s.GetPerson(ctx, "Q43416")
	require.NoError(t, err)
	assert.Equal(t, "Keanu Reeves", p.Name)

	titles, err := s.GetAlternativeTitles(ctx, "Q83495")
	require.NoError(t, err)
	require.Len(t, titles, 2)
	for _, tt := range titles {
		assert.Equal(t, "", tt.TranslatedTitle)
		assert.Equal(t, model.DefaultDifferenceRatio, tt.DifferenceRatio)
	}
}

func TestCommitDetailPage_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitDetailPage(ctx, matrixPage()))
	first, _ := s.GetMovie(ctx, "Q83495")
	firstTitles, _ := s.GetAlternativeTitles(ctx, "Q83495")

	require.NoError(t, s.CommitDetailPage(ctx, matrixPage()))
	second, _ := s.GetMovie(ctx, "Q83495")
	secondTitles, _ := s.GetAlternativeTitles(ctx, "Q83495")

	assert.Equal(t, first, second)
	assert.Equal(t, firstTitles, secondTitles)

	st, err := s.Stats(ctx, 0.25, 0.75)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Persons)
	assert.Equal(t, 2, st.Titles)
}

func TestCommitDetailPage_PersonLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitDetailPage(ctx, matrixPage()))
	require.NoError(t, s.CommitDetailPage(ctx, &model.DetailPage{
		Persons: []model.PersonRef{{ID: "Q43416", Name: "Keanu Charles Reeves"}},
	}))

	p, err := s.GetPerson(ctx, "Q43416")
	require.NoError(t, err)
	assert.Equal(t, "Keanu Charles Reeves", p.Name)
}

func TestTranslations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitDetailPage(ctx, matrixPage()))

	// An untitled movie's titles are never pending
	require.NoError(t, s.CommitDetailPage(ctx, &model.DetailPage{
		Titles: []model.AlternativeTitle{{MovieID: "Q999", LanguageCode: "de", Title: "Ohne Titel"}},
	}))

	pending, err := s.PendingTitles(ctx, []string{"de", "fr"}, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "de", pending[0].LanguageCode)
	assert.Equal(t, "The Matrix", pending[0].MovieTitle)

	onlyFr, err := s.PendingTitles(ctx, []string{"fr"}, 10)
	require.NoError(t, err)
	require.Len(t, onlyFr, 1)

	none, err := s.PendingTitles(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	de := pending[0].AlternativeTitle
	de.TranslatedTitle = "Matrix"
	de.DifferenceRatio = 0.75
	require.NoError(t, s.UpdateTranslations(ctx, []model.AlternativeTitle{de}))

	pending, err = s.PendingTitles(ctx, []string{"de", "fr"}, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "fr", pending[0].LanguageCode)

	translated, err := s.TranslatedTitles(ctx)
	require.NoError(t, err)
	require.Len(t, translated, 1)
	assert.Equal(t, 0.75, translated[0].DifferenceRatio)

	// The upper bound of the fair band is exclusive
	st, err := s.Stats(ctx, 0.25, 0.75)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TranslatedTotal)
	assert.Equal(t, 0, st.TranslatedFair)
	assert.Equal(t, 2, st.PendingTitles)

	st, err = s.Stats(ctx, 0.75, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TranslatedFair)
}

func TestTitleSourceChangeResetsTranslation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitDetailPage(ctx, matrixPage()))
	require.NoError(t, s.UpdateTranslations(ctx, []model.AlternativeTitle{
		{MovieID: "Q83495", LanguageCode: "de", Title: "Matrix", TranslatedTitle: "Matrix", DifferenceRatio: 0.75},
		{MovieID: "Q83495", LanguageCode: "fr", Title: "Matrix", TranslatedTitle: "Matrix", DifferenceRatio: 0.75},
	}))

	page := matrixPage()
	page.Titles[0].Title = "Die Matrix"
	require.NoError(t, s.CommitDetailPage(ctx, page))

	titles, err := s.GetAlternativeTitles(ctx, "Q83495")
	require.NoError(t, err)
	require.Len(t, titles, 2)

	assert.Equal(t, "Die Matrix", titles[0].Title)
	assert.Equal(t, "", titles[0].TranslatedTitle, "changed source drops its translation")
	assert.Equal(t, model.DefaultDifferenceRatio, titles[0].DifferenceRatio)

	assert.Equal(t, "Matrix", titles[1].TranslatedTitle, "unchanged source keeps its translation")
	assert.Equal(t, 0.75, titles[1].DifferenceRatio)

	// A stale translation for the old source text is not applied
	require.NoError(t, s.UpdateTranslations(ctx, []model.AlternativeTitle{
		{MovieID: "Q83495", LanguageCode: "de", Title: "Matrix", TranslatedTitle: "Matrix", DifferenceRatio: 0.75},
	}))
	titles, _ = s.GetAlternativeTitles(ctx, "Q83495")
	assert.Equal(t, "", titles[0].TranslatedTitle)
}

func TestWritesWrapErrCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Close())

	err := s.UpsertRanked(ctx, []model.RankedEntity{{ID: "Q1", Sitelinks: 1}})
	assert.True(t, errors.Is(err, ErrCommit), "got %v", err)

	err = s.CommitDetailPage(ctx, matrixPage())
	assert.True(t, errors.Is(err, ErrCommit), "got %v", err)
}

func TestState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok := s.GetState(ctx, "last_run_id")
	assert.False(t, ok)

	require.NoError(t, s.SetState(ctx, "last_run_id", "a"))
	require.NoError(t, s.SetState(ctx, "last_run_id", "b"))
	v, ok := s.GetState(ctx, "last_run_id")
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	require.NoError(t, s.DeleteState(ctx, "last_run_id"))
	_, ok = s.GetState(ctx, "last_run_id")
	assert.False(t, ok)
}

func TestReads_ClosedDatabase(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	s := NewSQLiteStore(d)
	require.NoError(t, s.Close())
	ctx := context.Background()

	_, err = s.CountMovies(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.PendingDetailIDs(ctx, 10)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.PendingTitles(ctx, []string{"de"}, 10)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.TranslatedTitles(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}
