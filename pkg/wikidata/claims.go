package wikidata

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"moviequiz/pkg/logging"
)

// Value is one resolved claim: DurationValue, DateValue, LabelValue or RefValue.
type Value interface {
	isValue()
}

// DurationValue is a quantity read as whole minutes.
type DurationValue struct {
	Duration time.Duration
}

// DateValue is a point in time read as a calendar date. Date is nil when unparsable.
type DateValue struct {
	Date *time.Time
}

// LabelValue is a referenced item's label (labelOnly resolution).
type LabelValue struct {
	Label string
}

// RefValue is a referenced item's id and label.
type RefValue struct {
	ID    string
	Label string
}

func (DurationValue) isValue() {}
func (DateValue) isValue()     {}
func (LabelValue) isValue()    {}
func (RefValue) isValue()      {}

// LabelFetcher resolves item ids to English labels.
type LabelFetcher interface {
	GetLabels(ctx context.Context, ids []string) (map[string]string, error)
}

// ClaimResolver turns raw claims into typed values.
type ClaimResolver struct {
	labels LabelFetcher
	logger *slog.Logger
}

// NewClaimResolver creates a resolver that looks up referenced labels through labels.
func NewClaimResolver(labels LabelFetcher, logger *slog.Logger) *ClaimResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimResolver{labels: labels, logger: logger}
}

// ResolveProperty reads at most limit statements of each property, in the given
// property order. Literal values come first in statement order, followed by the
// referenced items in the order they were first seen. All references of one call
// are resolved with a single label lookup; a failed lookup leaves them out.
func (r *ClaimResolver) ResolveProperty(ctx context.Context, e *Entity, props []string, limit int, labelOnly bool) []Value {
	var values []Value
	var deferred []string
	seen := make(map[string]bool)

	for _, prop := range props {
		claims := e.Claims[prop]
		if limit >= 0 && len(claims) > limit {
			claims = claims[:limit]
		}
		for _, claim := range claims {
			switch v := claim.(type) {
			case ClaimAmount:
				values = append(values, DurationValue{Duration: r.parseDuration(e.ID, prop, v.Amount)})
			case ClaimTime:
				values = append(values, DateValue{Date: r.parseDate(e.ID, prop, v.Time)})
			case ClaimEntity:
				if !seen[v.ID] {
					seen[v.ID] = true
					deferred = append(deferred, v.ID)
				}
			case nil:
				logging.Trace(r.logger, "Statement without value", "qid", e.ID, "property", prop)
			}
		}
	}

	if len(deferred) == 0 {
		return values
	}

	labels, err := r.labels.GetLabels(ctx, deferred)
	if err != nil {
		r.logger.Error("Label lookup failed", "qid", e.ID, "properties", strings.Join(props, "|"), "ids", len(deferred), "error", err)
		return values
	}
	for _, id := range deferred {
		label, ok := labels[id]
		if !ok {
			r.logger.Warn("Referenced item has no label", "qid", e.ID, "ref", id)
			continue
		}
		if labelOnly {
			values = append(values, LabelValue{Label: label})
		} else {
			values = append(values, RefValue{ID: id, Label: label})
		}
	}
	return values
}

// parseDuration reads a quantity amount as minutes, rounding half to even.
// Unparsable or negative amounts yield zero.
func (r *ClaimResolver) parseDuration(qid, prop, amount string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimPrefix(amount, "+"), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		r.logger.Warn("Invalid duration", "qid", qid, "property", prop, "amount", amount)
		return 0
	}
	minutes := math.RoundToEven(f)
	if minutes < 0 {
		r.logger.Warn("Negative duration", "qid", qid, "property", prop, "amount", amount)
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// parseDate reads a Wikidata timestamp as a UTC date. Partial dates such as
// "+1999-00-00T00:00:00Z" (year precision) do not parse and yield nil.
func (r *ClaimResolver) parseDate(qid, prop, ts string) *time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimPrefix(ts, "+"))
	if err != nil {
		r.logger.Warn("Invalid release date", "qid", qid, "property", prop, "time", ts)
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// FirstDuration returns the first duration in values, or zero.
func FirstDuration(values []Value) time.Duration {
	for _, v := range values {
		if d, ok := v.(DurationValue); ok {
			return d.Duration
		}
	}
	return 0
}

// FirstDate returns the first date in values, or nil.
func FirstDate(values []Value) *time.Time {
	for _, v := range values {
		if d, ok := v.(DateValue); ok {
			return d.Date
		}
	}
	return nil
}

// FirstLabel returns the first resolved label in values, or "".
func FirstLabel(values []Value) string {
	for _, v := range values {
		switch l := v.(type) {
		case LabelValue:
			return l.Label
		case RefValue:
			return l.Label
		}
	}
	return ""
}

// Refs returns the id/label pairs in values, in order.
func Refs(values []Value) []RefValue {
	var refs []RefValue
	for _, v := range values {
		if r, ok := v.(RefValue); ok {
			refs = append(refs, r)
		}
	}
	return refs
}
