package wikidata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"moviequiz/pkg/config"
	"moviequiz/pkg/request"
	"moviequiz/pkg/tracker"
)

// fixtures are raw wbgetentities records keyed by id.
var fixtures = map[string]string{
	"Q83495": `{
		"id": "Q83495",
		"labels": {
			"en": {"language": "en", "value": "The Matrix"},
			"de": {"language": "de", "value": "Matrix"},
			"fr": {"language": "fr", "value": "Matrix"},
			"it": {"language": "it", "value": "The Matrix"},
			"es-mx": {"language": "es-mx", "value": "Matrix (MX)"},
			"de-at": {"language": "de-at", "value": "Die Matrix"}
		},
		"descriptions": {"en": {"language": "en", "value": "1999 film by the Wachowskis"}},
		"claims": {
			"P577": [{"mainsnak": {"datavalue": {"type": "time", "value": {"time": "+1999-03-31T00:00:00Z", "precision": 11}}}}],
			"P2047": [{"mainsnak": {"datavalue": {"type": "quantity", "value": {"amount": "+136", "unit": "http://www.wikidata.org/entity/Q7727"}}}}],
			"P57": [
				{"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"entity-type": "item", "id": "Q9544977"}}}},
				{"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"entity-type": "item", "id": "Q9545711"}}}}
			],
			"P161": [
				{"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"entity-type": "item", "id": "Q43416"}}}},
				{"mainsnak": {"snaktype": "somevalue"}},
				{"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"entity-type": "item", "id": "Q193048"}}}}
			],
			"P495": [{"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"entity-type": "item", "id": "Q30"}}}}]
		}
	}`,
	"Q1000": `{
		"id": "Q1000",
		"labels": {"de": {"language": "de", "value": "Nur Deutsch"}},
		"descriptions": {},
		"claims": {}
	}`,
	"Q2000": `{
		"id": "Q2000",
		"labels": {"en": {"language": "en", "value": "Toy Story"}, "de": {"language": "de", "value": "Toy Story"}},
		"descriptions": {},
		"claims": {
			"P577": [{"mainsnak": {"datavalue": {"type": "time", "value": {"time": "+1995-00-00T00:00:00Z", "precision": 9}}}}],
			"P2047": [{"mainsnak": {"datavalue": {"type": "quantity", "value": {"amount": "abc"}}}}],
			"P161": [{"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"id": "Q2263"}}}}],
			"P725": [{"mainsnak": {"datavalue": {"type": "wikibase-entityid", "value": {"id": "Q2263"}}}}]
		}
	}`,
	"Q9544977": `{"id": "Q9544977", "labels": {"en": {"language": "en", "value": "Lana Wachowski"}}}`,
	"Q9545711": `{"id": "Q9545711", "labels": {"en": {"language": "en", "value": "Lilly Wachowski"}}}`,
	"Q43416":   `{"id": "Q43416", "labels": {"en": {"language": "en", "value": "Keanu Reeves"}}}`,
	"Q193048":  `{"id": "Q193048", "labels": {"en": {"language": "en", "value": "Laurence Fishburne"}}}`,
	"Q30":      `{"id": "Q30", "labels": {"en": {"language": "en", "value": "United States of America"}}}`,
	"Q2263":    `{"id": "Q2263", "labels": {"en": {"language": "en", "value": "Tom Hanks"}}}`,
}

var (
	limitRe  = regexp.MustCompile(`LIMIT (\d+)`)
	offsetRe = regexp.MustCompile(`OFFSET (\d+)`)
)

// fakeWikidata serves api.php from fixtures and /sparql from a synthetic ranking.
type fakeWikidata struct {
	mu           sync.Mutex
	ranked       int // total items the ranked query knows
	entityCalls  int
	labelCalls   int
	sparqlCalls  int
	lastSPARQL   string
	failIDs      map[string]int // ids whose entity request answers with this status
	errorPayload bool
}

func (f *fakeWikidata) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/sparql":
		f.sparqlCalls++
		query := r.URL.Query().Get("query")
		f.lastSPARQL = query
		limit, _ := strconv.Atoi(limitRe.FindStringSubmatch(query)[1])
		offset, _ := strconv.Atoi(offsetRe.FindStringSubmatch(query)[1])
		var bindings []string
		for i := offset; i < offset+limit && i < f.ranked; i++ {
			bindings = append(bindings, fmt.Sprintf(
				`{"q":{"type":"uri","value":"http://www.wikidata.org/entity/Q%d"},"sitelinks":{"type":"literal","value":"%d"}}`,
				i+1, 100000-i))
		}
		fmt.Fprintf(w, `{"results":{"bindings":[%s]}}`, strings.Join(bindings, ","))

	case "/w/api.php":
		q := r.URL.Query()
		ids := strings.Split(q.Get("ids"), "|")
		if q.Get("props") == "labels" {
			f.labelCalls++
		} else {
			f.entityCalls++
		}
		for _, id := range ids {
			if code, ok := f.failIDs[id]; ok {
				w.WriteHeader(code)
				return
			}
		}
		if f.errorPayload {
			_, _ = w.Write([]byte(`{"error":{"code":"no-such-entity","info":"Could not find an entity"}}`))
			return
		}
		entities := make(map[string]json.RawMessage, len(ids))
		for _, id := range ids {
			if raw, ok := fixtures[id]; ok {
				entities[id] = json.RawMessage(raw)
			} else {
				entities[id] = json.RawMessage(fmt.Sprintf(`{"id":%q,"missing":""}`, id))
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"entities": entities})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeWikidata) counts() (entity, label, sparql int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entityCalls, f.labelCalls, f.sparqlCalls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a log sink safe for concurrent handlers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func newFakeClient(t *testing.T, fake *fakeWikidata) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	rc := request.New(nil, tracker.New(), config.RequestConfig{
		Retries: 1,
		Timeout: config.Duration(5 * time.Second),
		Backoff: config.BackoffConfig{
			BaseDelay: config.Duration(time.Millisecond),
			MaxDelay:  config.Duration(2 * time.Millisecond),
		},
	})
	return NewClient(rc, config.WikidataConfig{
		APIEndpoint:    srv.URL + "/w/api.php",
		SPARQLEndpoint: srv.URL + "/sparql",
		EntityClass:    "Q11424",
	}, discardLogger())
}
