package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"moviequiz/pkg/db"
	"moviequiz/pkg/model"
)

const dateLayout = "2006-01-02"

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func commitErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCommit, op, err)
}

func readErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// withTx runs fn in one transaction; any failure rolls the whole unit back.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return commitErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return commitErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return commitErr(op, err)
	}
	return nil
}

// --- Movies ---

func (s *SQLiteStore) CountMovies(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM movie").Scan(&n)
	return n, readErr("count movies", err)
}

// UpsertRanked inserts discovered movies. Existing rows only ever gain sitelinks.
func (s *SQLiteStore) UpsertRanked(ctx context.Context, entities []model.RankedEntity) error {
	if len(entities) == 0 {
		return nil
	}
	return s.withTx(ctx, "upsert ranked", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO movie (wikidata_id, sitelinks) VALUES (?, ?)
			ON CONFLICT(wikidata_id) DO UPDATE SET sitelinks = MAX(movie.sitelinks, excluded.sitelinks)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entities {
			if _, err := stmt.ExecContext(ctx, e.ID, e.Sitelinks); err != nil {
				return fmt.Errorf("%s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// PendingDetailIDs returns movies without a canonical title, most popular first.
// A limit <= 0 returns all of them.
func (s *SQLiteStore) PendingDetailIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT wikidata_id FROM movie WHERE title = '' ORDER BY sitelinks DESC, wikidata_id LIMIT ?", limit)
	if err != nil {
		return nil, readErr("pending details", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, readErr("pending details", err)
		}
		ids = append(ids, id)
	}
	return ids, readErr("pending details", rows.Err())
}

// CommitDetailPage writes one resolved page atomically: persons, movie fields,
// cast/director links and alternative titles.
func (s *SQLiteStore) CommitDetailPage(ctx context.Context, page *model.DetailPage) error {
	if page == nil || page.Empty() {
		return nil
	}
	ts := now()
	return s.withTx(ctx, "commit detail page", func(tx *sql.Tx) error {
		if err := upsertPersons(ctx, tx, page.Persons, ts); err != nil {
			return err
		}
		for i := range page.Movies {
			if err := upsertMovie(ctx, tx, &page.Movies[i], ts); err != nil {
				return err
			}
		}
		return upsertTitles(ctx, tx, page.Titles, ts)
	})
}

func upsertPersons(ctx context.Context, tx *sql.Tx, persons []model.PersonRef, ts string) error {
	if len(persons) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO person (wikidata_id, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(wikidata_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range persons {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, ts); err != nil {
			return fmt.Errorf("person %s: %w", p.ID, err)
		}
	}
	return nil
}

func upsertMovie(ctx context.Context, tx *sql.Tx, m *model.MovieDetail, ts string) error {
	var release sql.NullString
	if m.ReleaseDate != nil {
		release = sql.NullString{String: m.ReleaseDate.Format(dateLayout), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO movie (wikidata_id, sitelinks, title, description, country, release_date, duration_min, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wikidata_id) DO UPDATE SET
			sitelinks = MAX(movie.sitelinks, excluded.sitelinks),
			title = excluded.title,
			description = excluded.description,
			country = excluded.country,
			release_date = excluded.release_date,
			duration_min = excluded.duration_min,
			updated_at = excluded.updated_at`,
		m.ID, m.Sitelinks, m.Title, m.Description, m.Country, release, int64(m.Duration/time.Minute), ts)
	if err != nil {
		return fmt.Errorf("movie %s: %w", m.ID, err)
	}

	if err := replaceLinks(ctx, tx, "movie_cast", m.ID, m.CastIDs); err != nil {
		return fmt.Errorf("movie %s cast: %w", m.ID, err)
	}
	if err := replaceLinks(ctx, tx, "movie_director", m.ID, m.DirectorIDs); err != nil {
		return fmt.Errorf("movie %s directors: %w", m.ID, err)
	}
	return nil
}

// replaceLinks rewrites a movie's ordered person links. table is one of the two link tables.
func replaceLinks(ctx context.Context, tx *sql.Tx, table, movieID string, personIDs []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE movie_id = ?", movieID); err != nil {
		return err
	}
	seen := make(map[string]bool, len(personIDs))
	pos := 0
	for _, pid := range personIDs {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (movie_id, person_id, position) VALUES (?, ?, ?)", movieID, pid, pos); err != nil {
			return err
		}
		pos++
	}
	return nil
}

// upsertTitles writes source title text. An unchanged source keeps its translation;
// a changed source drops it so the title is translated again.
func upsertTitles(ctx context.Context, tx *sql.Tx, titles []model.AlternativeTitle, ts string) error {
	if len(titles) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alternative_title (movie_id, language_code, title, translated_title, difference_ratio, updated_at)
		VALUES (?, ?, ?, '', ?, ?)
		ON CONFLICT(movie_id, language_code) DO UPDATE SET
			title = excluded.title,
			translated_title = CASE WHEN alternative_title.title = excluded.title
				THEN alternative_title.translated_title ELSE '' END,
			difference_ratio = CASE WHEN alternative_title.title = excluded.title
				THEN alternative_title.difference_ratio ELSE excluded.difference_ratio END,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range titles {
		if _, err := stmt.ExecContext(ctx, t.MovieID, t.LanguageCode, t.Title, model.DefaultDifferenceRatio, ts); err != nil {
			return fmt.Errorf("title %s/%s: %w", t.MovieID, t.LanguageCode, err)
		}
	}
	return nil
}

// GetMovie returns the movie with its ordered cast and directors, or nil if unknown.
func (s *SQLiteStore) GetMovie(ctx context.Context, id string) (*model.MovieDetail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT wikidata_id, sitelinks, title, description, country, release_date, duration_min
		 FROM movie WHERE wikidata_id = ?`, id)

	var m model.MovieDetail
	var release sql.NullString
	var minutes int64
	err := row.Scan(&m.ID, &m.Sitelinks, &m.Title, &m.Description, &m.Country, &release, &minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Duration = time.Duration(minutes) * time.Minute
	if release.Valid {
		if t, err := time.Parse(dateLayout, release.String); err == nil {
			m.ReleaseDate = &t
		}
	}

	if m.CastIDs, err = s.links(ctx, "movie_cast", id); err != nil {
		return nil, err
	}
	if m.DirectorIDs, err = s.links(ctx, "movie_director", id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) links(ctx context.Context, table, movieID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT person_id FROM "+table+" WHERE movie_id = ? ORDER BY position", movieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Persons ---

func (s *SQLiteStore) GetPerson(ctx context.Context, id string) (*model.PersonRef, error) {
	var p model.PersonRef
	err := s.db.QueryRowContext(ctx, "SELECT wikidata_id, name FROM person WHERE wikidata_id = ?", id).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Alternative titles ---

// PendingTitles returns untranslated titles in the given languages whose movie already
// has a canonical title, in insertion order.
func (s *SQLiteStore) PendingTitles(ctx context.Context, languages []string, limit int) ([]model.PendingTitle, error) {
	if len(languages) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(languages)), ",")
	args := make([]any, 0, len(languages)+1)
	for _, l := range languages {
		args = append(args, l)
	}
	args = append(args, limit)

	query := `SELECT t.movie_id, t.language_code, t.title, t.translated_title, t.difference_ratio, m.title
		FROM alternative_title t JOIN movie m ON m.wikidata_id = t.movie_id
		WHERE t.translated_title = '' AND m.title != '' AND t.language_code IN (` + placeholders + `)
		ORDER BY t.id LIMIT ?`

	return s.queryTitles(ctx, query, args...)
}

// TranslatedTitles returns every translated title with its movie's canonical title.
func (s *SQLiteStore) TranslatedTitles(ctx context.Context) ([]model.PendingTitle, error) {
	return s.queryTitles(ctx, `SELECT t.movie_id, t.language_code, t.title, t.translated_title, t.difference_ratio, m.title
		FROM alternative_title t JOIN movie m ON m.wikidata_id = t.movie_id
		WHERE t.translated_title != '' ORDER BY t.id`)
}

func (s *SQLiteStore) queryTitles(ctx context.Context, query string, args ...any) ([]model.PendingTitle, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, readErr("query titles", err)
	}
	defer rows.Close()

	var out []model.PendingTitle
	for rows.Next() {
		var p model.PendingTitle
		if err := rows.Scan(&p.MovieID, &p.LanguageCode, &p.Title, &p.TranslatedTitle, &p.DifferenceRatio, &p.MovieTitle); err != nil {
			return nil, readErr("query titles", err)
		}
		out = append(out, p)
	}
	return out, readErr("query titles", rows.Err())
}

// UpdateTranslations writes translated text and ratio for a batch in one transaction.
// Rows whose source title changed since it was read are left alone.
func (s *SQLiteStore) UpdateTranslations(ctx context.Context, titles []model.AlternativeTitle) error {
	if len(titles) == 0 {
		return nil
	}
	ts := now()
	return s.withTx(ctx, "update translations", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE alternative_title SET translated_title = ?, difference_ratio = ?, updated_at = ?
			WHERE movie_id = ? AND language_code = ? AND title = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range titles {
			if _, err := stmt.ExecContext(ctx, t.TranslatedTitle, t.DifferenceRatio, ts, t.MovieID, t.LanguageCode, t.Title); err != nil {
				return fmt.Errorf("title %s/%s: %w", t.MovieID, t.LanguageCode, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetAlternativeTitles(ctx context.Context, movieID string) ([]model.AlternativeTitle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT movie_id, language_code, title, translated_title, difference_ratio
		 FROM alternative_title WHERE movie_id = ? ORDER BY language_code`, movieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AlternativeTitle
	for rows.Next() {
		var t model.AlternativeTitle
		if err := rows.Scan(&t.MovieID, &t.LanguageCode, &t.Title, &t.TranslatedTitle, &t.DifferenceRatio); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Stats ---

func (s *SQLiteStore) Stats(ctx context.Context, fairMin, fairMax float64) (model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM movie),
		(SELECT count(*) FROM movie WHERE title = ''),
		(SELECT count(*) FROM person),
		(SELECT count(*) FROM alternative_title),
		(SELECT count(*) FROM alternative_title WHERE translated_title = ''),
		(SELECT count(*) FROM alternative_title WHERE translated_title != ''),
		(SELECT count(*) FROM alternative_title WHERE translated_title != '' AND difference_ratio >= ? AND difference_ratio < ?)`,
		fairMin, fairMax).Scan(&st.Movies, &st.PendingDetails, &st.Persons, &st.Titles,
		&st.PendingTitles, &st.TranslatedTotal, &st.TranslatedFair)
	return st, err
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`, key, val, now())
	if err != nil {
		return commitErr("set state", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key); err != nil {
		return commitErr("delete state", err)
	}
	return nil
}
