package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/observability"
)

var ErrNotConfigured = errors.New("facts url not configured")

// FactSink receives normalised facts. Upsert must replace a fact with the
// same date and dimensions so reloading a feed is idempotent.
type FactSink interface {
	Upsert(models.Fact)
}

// Loader pulls daily ad facts from an upstream JSON feed: an array of flat
// objects with a "date", the metric fields and one field per dimension
// column.
type Loader struct {
	c       HTTPClient
	sink    FactSink
	url     string
	columns []string
	log     *slog.Logger
	metrics *observability.Metrics
}

func NewLoader(c HTTPClient, sink FactSink, url string, columns []string, log *slog.Logger, m *observability.Metrics) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{c: c, sink: sink, url: url, columns: columns, log: log, metrics: m}
}

type Result struct {
	Fetched int `json:"fetched"`
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
}

// Run loads every fact dated on or after since (all of them when since is nil).
// Rows with an unreadable date or no dimensions are skipped.
func (l *Loader) Run(ctx context.Context, since *time.Time) (Result, error) {
	if l.url == "" {
		return Result{}, ErrNotConfigured
	}
	var raw []map[string]any
	if err := GetJSONWithRetry(ctx, l.c, l.url, &raw); err != nil {
		return Result{}, &models.DataSourceError{Op: "fetch facts", Err: err}
	}

	res := Result{Fetched: len(raw)}
	for _, r := range raw {
		f, ok := l.normalize(r)
		if !ok {
			res.Skipped++
			continue
		}
		if since != nil && f.Date.Before(models.Day(*since)) {
			res.Skipped++
			continue
		}
		l.sink.Upsert(f)
		res.Loaded++
	}
	l.metrics.Ingested(res.Loaded)
	l.log.Info("ingest complete",
		slog.Int("fetched", res.Fetched),
		slog.Int("loaded", res.Loaded),
		slog.Int("skipped", res.Skipped))
	return res, nil
}

func (l *Loader) normalize(r map[string]any) (models.Fact, bool) {
	ds, _ := r["date"].(string)
	d, err := time.Parse(models.DateLayout, strings.TrimSpace(ds))
	if err != nil {
		return models.Fact{}, false
	}
	dims := make(map[string]string, len(l.columns))
	for _, col := range l.columns {
		if v := strings.TrimSpace(text(r[col])); v != "" {
			dims[col] = v
		}
	}
	if len(dims) == 0 {
		return models.Fact{}, false
	}
	return models.Fact{
		Date:     d,
		Dims:     dims,
		Requests: count(r["requests"]),
		Paid:     count(r["paid"]),
		Revenue:  maxf(number(r["revenue"])),
		CPM:      maxf(number(r["cpm"])),
	}, true
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		f, _ = t.Float64()
	case float64:
		f = t
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// count converts a feed number to a non-negative int64, saturating at
// math.MaxInt64 instead of overflowing.
func count(v any) int64 {
	f := number(v)
	switch {
	case f <= 0:
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(f)
}

func maxf(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
