package wikidata

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"moviequiz/pkg/model"
)

type pageCall struct{ offset, limit int }

type fakeRanked struct {
	total int
	calls []pageCall
	err   error
}

func (f *fakeRanked) QueryRanked(_ context.Context, offset, limit int) ([]model.RankedEntity, error) {
	f.calls = append(f.calls, pageCall{offset, limit})
	if f.err != nil {
		return nil, f.err
	}
	var out []model.RankedEntity
	for i := offset; i < offset+limit && i < f.total; i++ {
		out = append(out, model.RankedEntity{ID: "Q" + strconv.Itoa(i+1), Sitelinks: 100000 - i})
	}
	return out, nil
}

type fakeRankedStore struct {
	movies map[string]int
	err    error
}

func (s *fakeRankedStore) CountMovies(context.Context) (int, error) { return len(s.movies), nil }

func (s *fakeRankedStore) UpsertRanked(_ context.Context, es []model.RankedEntity) error {
	if s.err != nil {
		return s.err
	}
	for _, e := range es {
		s.movies[e.ID] = max(s.movies[e.ID], e.Sitelinks)
	}
	return nil
}

func TestDiscover_PageCount(t *testing.T) {
	tests := []struct {
		name      string
		existing  int
		count     int
		wantCalls []pageCall
	}{
		{"500 from empty", 0, 500, []pageCall{{0, 500}}},
		{"1500 from empty", 0, 1500, []pageCall{{0, 500}, {500, 500}, {1000, 500}}},
		{"partial last page", 0, 700, []pageCall{{0, 500}, {500, 200}}},
		{"continues after existing", 200, 300, []pageCall{{200, 300}}},
		{"nothing requested", 10, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeRanked{total: 10000}
			s := &fakeRankedStore{movies: map[string]int{}}
			for i := 0; i < tt.existing; i++ {
				s.movies["Q"+strconv.Itoa(i+1)] = 100000 - i
			}
			d := NewDiscoverer(q, s, 500, 0, discardLogger())

			res, err := d.Discover(context.Background(), tt.count)
			if err != nil {
				t.Fatalf("Discover failed: %v", err)
			}
			if len(q.calls) != len(tt.wantCalls) {
				t.Fatalf("expected %d page requests, got %d: %v", len(tt.wantCalls), len(q.calls), q.calls)
			}
			for i, c := range tt.wantCalls {
				if q.calls[i] != c {
					t.Errorf("call %d = %+v, want %+v", i, q.calls[i], c)
				}
			}
			if res.Target != tt.existing+tt.count {
				t.Errorf("target = %d, want %d", res.Target, tt.existing+tt.count)
			}
			if len(s.movies) != tt.existing+tt.count {
				t.Errorf("store holds %d movies, want %d", len(s.movies), tt.existing+tt.count)
			}
		})
	}
}

func TestDiscover_StopsWhenExhausted(t *testing.T) {
	q := &fakeRanked{total: 600}
	s := &fakeRankedStore{movies: map[string]int{}}
	d := NewDiscoverer(q, s, 500, 0, discardLogger())

	res, err := d.Discover(context.Background(), 1500)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pages != 2 || res.Fetched != 600 {
		t.Errorf("expected 2 pages and 600 items, got %+v", res)
	}
}

func TestDiscover_Errors(t *testing.T) {
	queryErr := &fakeRanked{total: 1000, err: ErrProtocol}
	d := NewDiscoverer(queryErr, &fakeRankedStore{movies: map[string]int{}}, 500, 0, discardLogger())
	if _, err := d.Discover(context.Background(), 500); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected query error to surface, got %v", err)
	}

	commitErr := errors.New("disk full")
	d = NewDiscoverer(&fakeRanked{total: 1000}, &fakeRankedStore{movies: map[string]int{}, err: commitErr}, 500, 0, discardLogger())
	if _, err := d.Discover(context.Background(), 500); !errors.Is(err, commitErr) {
		t.Errorf("expected commit error to surface, got %v", err)
	}
}

func TestDiscover_OverHTTP(t *testing.T) {
	fake := &fakeWikidata{ranked: 1200}
	c := newFakeClient(t, fake)
	s := &fakeRankedStore{movies: map[string]int{}}

	res, err := NewDiscoverer(c, s, 500, 0, discardLogger()).Discover(context.Background(), 1500)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, sparql := fake.counts(); sparql != 3 {
		t.Errorf("expected 3 SPARQL requests, got %d", sparql)
	}
	if res.Fetched != 1200 || len(s.movies) != 1200 {
		t.Errorf("unexpected result %+v, stored %d", res, len(s.movies))
	}
}
