package model

import (
	"time"
)

// DefaultDifferenceRatio marks a title whose ratio has not been computed yet.
// It is treated as "identical to the canonical title".
const DefaultDifferenceRatio = 1.0

// RankedEntity is a discovery result: a Wikidata item and its sitelink count.
type RankedEntity struct {
	ID        string `json:"wikidata_id"`
	Sitelinks int    `json:"sitelinks"`
}

// MovieDetail holds the enriched fields of a movie.
type MovieDetail struct {
	ID          string        `json:"wikidata_id"` // Primary Key
	Sitelinks   int           `json:"sitelinks"`
	Title       string        `json:"title"` // Canonical English label
	Description string        `json:"description"`
	Country     string        `json:"country,omitempty"`
	ReleaseDate *time.Time    `json:"release_date,omitempty"` // nil when unknown or unparsable
	Duration    time.Duration `json:"duration"`
	CastIDs     []string      `json:"cast_ids"`
	DirectorIDs []string      `json:"director_ids"`
}

// PersonRef is a cast member or director.
type PersonRef struct {
	ID   string `json:"wikidata_id"`
	Name string `json:"name"`
}

// AlternativeTitle is a movie label in another language, plus its English translation.
type AlternativeTitle struct {
	MovieID         string  `json:"movie_id"`
	LanguageCode    string  `json:"language_code"`
	Title           string  `json:"title"`
	TranslatedTitle string  `json:"translated_title"`
	DifferenceRatio float64 `json:"difference_ratio"`
}

// Translated reports whether the title already carries a translation.
func (t *AlternativeTitle) Translated() bool {
	return t.TranslatedTitle != ""
}

// PendingTitle is an alternative title joined with its movie's canonical title.
type PendingTitle struct {
	AlternativeTitle
	MovieTitle string `json:"movie_title"`
}

// DetailPage is the unit of commit for the detail stage.
type DetailPage struct {
	Movies  []MovieDetail
	Persons []PersonRef
	Titles  []AlternativeTitle
}

// Empty reports whether the page carries nothing to write.
func (p *DetailPage) Empty() bool {
	return len(p.Movies) == 0 && len(p.Persons) == 0 && len(p.Titles) == 0
}

// Stats summarizes store contents for the status command.
type Stats struct {
	Movies          int
	PendingDetails  int
	Persons         int
	Titles          int
	PendingTitles   int
	TranslatedFair  int
	TranslatedTotal int
}
