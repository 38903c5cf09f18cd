package cache

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
)

// Key identifies a comparison:
//
//	{perspective}_{JSON(filters)}_{p1.start}_{p1.end}_{p2.start}_{p2.end}
//
// Filters are the parent scope by grouping key, user selections under
// "selection.<key>" and the advanced filter tree under "where". JSON object
// keys are emitted sorted and id lists are canonicalised, so equivalent
// filters in any insertion order map to the same key.
func Key(perspectiveID string, scope, selection filter.Scope, where *filter.Node, p1, p2 models.PeriodRange) string {
	filters := map[string]any{}
	for k, v := range scope.Canonical() {
		filters[string(k)] = v
	}
	for k, v := range selection.Canonical() {
		filters["selection."+string(k)] = v
	}
	if w := where.Canonical(); w != "" {
		filters["where"] = w
	}
	b, _ := json.Marshal(filters)

	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(perspectiveID)),
		string(b),
		day(p1.Start), day(p1.End),
		day(p2.Start), day(p2.End),
	}, "_")
}

func day(t time.Time) string { return t.Format(models.DateLayout) }
