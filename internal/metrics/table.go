package metrics

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/AngelCh415/deepdive/internal/models"
)

// TableQuery shapes the comparison table for display: tier filter, sort
// order and a page window.
type TableQuery struct {
	Sort   string
	Tiers  map[models.Tier]struct{}
	Status map[models.Lifecycle]struct{}
	Limit  int
	Offset int
}

const (
	SortRevenueDesc = "revenue_desc"
	SortRevenueAsc  = "revenue_asc"
	SortDeltaDesc   = "delta_desc"
	SortDeltaAsc    = "delta_asc"
	SortNameAsc     = "name_asc"
)

func norm(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func csvSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range strings.Split(s, ",") {
		p = norm(p)
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

// ParseTableQuery reads sort, tier, status, limit and offset.
// tier=A matches A, NEW-A and LOST-A; tier=NEW-A matches only NEW-A.
func ParseTableQuery(v url.Values) TableQuery {
	q := TableQuery{
		Sort:   strings.ToLower(strings.TrimSpace(v.Get("sort"))),
		Limit:  atoiDef(v.Get("limit"), 0),
		Offset: atoiDef(v.Get("offset"), 0),
	}
	if q.Sort == "" {
		q.Sort = SortRevenueDesc
	}
	if set := csvSet(v.Get("tier")); len(set) > 0 {
		q.Tiers = map[models.Tier]struct{}{}
		for t := range set {
			q.Tiers[models.Tier(t)] = struct{}{}
		}
	}
	if set := csvSet(v.Get("status")); len(set) > 0 {
		q.Status = map[models.Lifecycle]struct{}{}
		for s := range set {
			q.Status[models.Lifecycle(strings.ToLower(s))] = struct{}{}
		}
	}
	return q
}

// Page is one window over the shaped table.
type Page struct {
	Total   int                       `json:"total"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
	Records []models.ComparisonRecord `json:"records"`
}

// Apply filters, sorts and paginates a copy of records.
func (q TableQuery) Apply(records []models.ComparisonRecord) Page {
	rows := make([]models.ComparisonRecord, 0, len(records))
	for _, r := range records {
		if q.Tiers != nil && !q.matchTier(r.Tier) {
			continue
		}
		if q.Status != nil {
			if _, ok := q.Status[r.Lifecycle]; !ok {
				continue
			}
		}
		rows = append(rows, r)
	}
	sortRecords(rows, q.Sort)
	limit, offset := clampLimitOffset(q.Limit, q.Offset, len(rows))
	return Page{Total: len(rows), Limit: limit, Offset: offset, Records: paginate(rows, limit, offset)}
}

func (q TableQuery) matchTier(t models.Tier) bool {
	if _, ok := q.Tiers[t]; ok {
		return true
	}
	_, ok := q.Tiers[t.Base()]
	return ok
}

// sortRecords is deterministic: every order falls back to entity id.
func sortRecords(rows []models.ComparisonRecord, mode string) {
	less := func(i, j int) bool { return rows[i].EntityID < rows[j].EntityID }
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch mode {
		case SortRevenueAsc:
			if a.RankingRevenue() != b.RankingRevenue() {
				return a.RankingRevenue() < b.RankingRevenue()
			}
		case SortDeltaDesc, SortDeltaAsc:
			da, db := deltaKey(a), deltaKey(b)
			if da != db {
				if mode == SortDeltaAsc {
					return da < db
				}
				return da > db
			}
		case SortNameAsc:
			na, nb := strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)
			if na != nb {
				return na < nb
			}
		default:
			if a.RankingRevenue() != b.RankingRevenue() {
				return a.RankingRevenue() > b.RankingRevenue()
			}
		}
		return less(i, j)
	})
}

// deltaKey ranks new spikes above any finite change.
func deltaKey(r models.ComparisonRecord) float64 {
	if r.Deltas.RevenuePct == nil {
		return 1e18
	}
	return *r.Deltas.RevenuePct
}

func paginate[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func atoiDef(s string, d int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func clampLimitOffset(limit, offset, n int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset > n {
		offset = n
	}
	return limit, offset
}
