package wikidata

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"moviequiz/pkg/config"
	"moviequiz/pkg/model"
	"moviequiz/pkg/request"
)

var qidRe = regexp.MustCompile(`^Q[0-9]+$`)

// ValidQID reports whether id is a Wikidata item id.
func ValidQID(id string) bool {
	return qidRe.MatchString(id)
}

// Client talks to the SPARQL endpoint and the wbgetentities API.
type Client struct {
	request        *request.Client
	APIEndpoint    string
	SPARQLEndpoint string
	EntityClass    string
	Logger         *slog.Logger
}

// NewClient creates a new Wikidata client.
func NewClient(r *request.Client, cfg config.WikidataConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		request:        r,
		APIEndpoint:    cfg.APIEndpoint,
		SPARQLEndpoint: cfg.SPARQLEndpoint,
		EntityClass:    cfg.EntityClass,
		Logger:         logger.With("component", "wikidata"),
	}
}

// QueryRanked returns one page of items of the configured class, ordered by sitelinks descending.
func (c *Client) QueryRanked(ctx context.Context, offset, limit int) ([]model.RankedEntity, error) {
	query := fmt.Sprintf(`SELECT ?q ?sitelinks WHERE { ?q wdt:P31 wd:%s. ?q wikibase:sitelinks ?sitelinks. }
ORDER BY DESC(?sitelinks) ?q
LIMIT %d
OFFSET %d`, c.EntityClass, limit, offset)

	u, err := url.Parse(c.SPARQLEndpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("query", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	headers := map[string]string{
		"Accept": "application/sparql-results+json",
	}

	body, err := c.request.GetWithHeaders(ctx, u.String(), headers, "")
	if err != nil {
		return nil, classify(err)
	}

	var result sparqlResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return c.parseBindings(result), nil
}

// GetEntities fetches up to MaxEntitiesPerRequest records in one call. Ids that
// do not exist upstream are absent from the result.
func (c *Client) GetEntities(ctx context.Context, ids []string) (map[string]Entity, error) {
	return c.getEntities(ctx, ids, []string{"labels", "descriptions", "claims"}, "", "")
}

// GetLabels returns the English label (with language fallback) for each id that has one.
// Responses are cached by id set.
func (c *Client) GetLabels(ctx context.Context, ids []string) (map[string]string, error) {
	labels := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return labels, nil
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	for i := 0; i < len(sorted); i += MaxEntitiesPerRequest {
		end := min(i+MaxEntitiesPerRequest, len(sorted))
		chunk := sorted[i:end]

		hash := md5.Sum([]byte(strings.Join(chunk, "|")))
		cacheKey := "wd_labels_" + hex.EncodeToString(hash[:])

		entities, err := c.getEntities(ctx, chunk, []string{"labels"}, "en", cacheKey)
		if err != nil {
			return nil, err
		}
		for id, ent := range entities {
			if lbl, ok := ent.Labels["en"]; ok && lbl.Value != "" {
				labels[id] = lbl.Value
			}
		}
	}
	return labels, nil
}

func (c *Client) getEntities(ctx context.Context, ids, props []string, language, cacheKey string) (map[string]Entity, error) {
	if len(ids) == 0 {
		return map[string]Entity{}, nil
	}
	if len(ids) > MaxEntitiesPerRequest {
		return nil, fmt.Errorf("%w: %d ids exceed the limit of %d", ErrProtocol, len(ids), MaxEntitiesPerRequest)
	}
	for _, id := range ids {
		if !ValidQID(id) {
			return nil, fmt.Errorf("%w: invalid item id %q", ErrProtocol, id)
		}
	}

	u, err := url.Parse(c.APIEndpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("action", "wbgetentities")
	q.Set("format", "json")
	q.Set("ids", strings.Join(ids, "|"))
	q.Set("props", strings.Join(props, "|"))
	if language != "" {
		q.Set("languages", language)
		q.Set("languagefallback", "true")
	}
	u.RawQuery = q.Encode()

	body, err := c.request.Get(ctx, u.String(), cacheKey)
	if err != nil {
		return nil, classify(err)
	}

	var result entitiesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrProtocol, result.Error.Code, result.Error.Info)
	}
	if result.Entities == nil {
		return nil, fmt.Errorf("%w: response has no entities", ErrProtocol)
	}

	out := make(map[string]Entity, len(result.Entities))
	// Keyed by the requested id; a redirected item keeps its target id in Entity.ID
	for key, raw := range result.Entities {
		if raw.Missing != nil {
			continue
		}
		id := raw.ID
		if id == "" {
			id = key
		}
		out[key] = raw.decode(id)
	}
	return out, nil
}

// classify maps transport failures onto the package's error kinds.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *request.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// -- Internal parsing structs --

type entitiesResponse struct {
	Entities map[string]rawEntity `json:"entities"`
	Error    *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

type rawEntity struct {
	ID      string  `json:"id"`
	Missing *string `json:"missing"`
	Labels  map[string]struct {
		Language string `json:"language"`
		Value    string `json:"value"`
	} `json:"labels"`
	Descriptions map[string]struct {
		Value string `json:"value"`
	} `json:"descriptions"`
	Claims map[string][]struct {
		Mainsnak struct {
			Datavalue *struct {
				Type  string          `json:"type"`
				Value json.RawMessage `json:"value"`
			} `json:"datavalue"`
		} `json:"mainsnak"`
	} `json:"claims"`
}

func (r *rawEntity) decode(id string) Entity {
	e := Entity{
		ID:           id,
		Labels:       make(map[string]Label, len(r.Labels)),
		Descriptions: make(map[string]string, len(r.Descriptions)),
		Claims:       make(map[string][]Claim, len(r.Claims)),
	}
	for lang, l := range r.Labels {
		language := l.Language
		if language == "" {
			language = lang
		}
		e.Labels[lang] = Label{Language: language, Value: l.Value}
	}
	for lang, d := range r.Descriptions {
		e.Descriptions[lang] = d.Value
	}
	for prop, statements := range r.Claims {
		claims := make([]Claim, 0, len(statements))
		for _, st := range statements {
			var claim Claim
			if dv := st.Mainsnak.Datavalue; dv != nil {
				claim = decodeClaim(dv.Type, dv.Value)
			}
			claims = append(claims, claim)
		}
		e.Claims[prop] = claims
	}
	return e
}

// decodeClaim dispatches on the datavalue type. Unsupported types and
// malformed values decode to nil.
func decodeClaim(kind string, raw json.RawMessage) Claim {
	switch kind {
	case "quantity":
		var v struct {
			Amount string `json:"amount"`
			Unit   string `json:"unit"`
		}
		if json.Unmarshal(raw, &v) != nil {
			return nil
		}
		return ClaimAmount{Amount: v.Amount, Unit: v.Unit}
	case "time":
		var v struct {
			Time      string `json:"time"`
			Precision int    `json:"precision"`
		}
		if json.Unmarshal(raw, &v) != nil {
			return nil
		}
		return ClaimTime{Time: v.Time, Precision: v.Precision}
	case "wikibase-entityid":
		var v struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &v) != nil || v.ID == "" {
			return nil
		}
		return ClaimEntity{ID: v.ID}
	default:
		return nil
	}
}

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]sparqlValue `json:"bindings"`
	} `json:"results"`
}

type sparqlValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (c *Client) parseBindings(resp sparqlResponse) []model.RankedEntity {
	out := make([]model.RankedEntity, 0, len(resp.Results.Bindings))
	for _, b := range resp.Results.Bindings {
		itemURI := val(b, "q")
		qid := itemURI[strings.LastIndex(itemURI, "/")+1:]
		if !ValidQID(qid) {
			c.Logger.Warn("Skipping binding with invalid item", "item", itemURI)
			continue
		}
		sitelinks, err := strconv.Atoi(val(b, "sitelinks"))
		if err != nil || sitelinks < 0 {
			c.Logger.Warn("Skipping binding with invalid sitelinks", "qid", qid, "sitelinks", val(b, "sitelinks"))
			continue
		}
		out = append(out, model.RankedEntity{ID: qid, Sitelinks: sitelinks})
	}
	return out
}

func val(binding map[string]sparqlValue, key string) string {
	if v, ok := binding[key]; ok {
		return v.Value
	}
	return ""
}
