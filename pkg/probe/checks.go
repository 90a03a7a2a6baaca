package probe

import (
	"context"
	"fmt"
	"sort"

	"moviequiz/pkg/model"
	"moviequiz/pkg/translate"
)

// Pinger is satisfied by *db.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RankedQuerier is satisfied by *wikidata.Client.
type RankedQuerier interface {
	QueryRanked(ctx context.Context, offset, limit int) ([]model.RankedEntity, error)
}

// Database checks that the store answers.
func Database(p Pinger) Probe {
	return Probe{
		Name:     "Database",
		Critical: true,
		Check:    p.PingContext,
	}
}

// Wikidata checks that the ranked query returns at least one item.
func Wikidata(q RankedQuerier) Probe {
	return Probe{
		Name:     "Wikidata SPARQL",
		Critical: true,
		Timeout:  DefaultTimeout * 3,
		Check: func(ctx context.Context) error {
			items, err := q.QueryRanked(ctx, 0, 1)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return fmt.Errorf("ranked query returned no items")
			}
			return nil
		},
	}
}

// Translation checks that the provider can be built and loads the backend of the
// first language in the table. A failure only disables the translate stage.
func Translation(newProvider func(ctx context.Context) (translate.Provider, error), languages map[string]string) Probe {
	return Probe{
		Name:    "Translation backend",
		Timeout: DefaultTimeout * 3,
		Check: func(ctx context.Context) error {
			if len(languages) == 0 {
				return fmt.Errorf("language table is empty")
			}
			langs := make([]string, 0, len(languages))
			for l := range languages {
				langs = append(langs, l)
			}
			sort.Strings(langs)

			p, err := newProvider(ctx)
			if err != nil {
				return err
			}
			_, err = p.Load(ctx, languages[langs[0]])
			return err
		},
	}
}
