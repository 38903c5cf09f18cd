package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AngelCh415/deepdive/internal/filter"
)

// querier is the slice of pgxpool.Pool used here.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Postgres struct {
	db      querier
	builder *filter.Builder
}

// NewPostgres wraps a pool. columns is the dimension whitelist for filters.
func NewPostgres(pool *pgxpool.Pool, columns []string) *Postgres {
	return &Postgres{db: pool, builder: filter.NewBuilder(columns)}
}

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse warehouse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open warehouse pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return pool, nil
}

func (p *Postgres) QueryAggregates(ctx context.Context, q Query) ([]Row, error) {
	sql, args, err := p.buildSQL(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.EntityID, &r.DisplayName, &r.Requests, &r.Paid, &r.Revenue, &r.CPM, &r.Matched); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) buildSQL(q Query) (string, []any, error) {
	if q.Table == "" || q.GroupingKey == "" {
		return "", nil, fmt.Errorf("warehouse query needs a table and a grouping key")
	}
	pred, err := p.builder.Build(q.Filter, 3)
	if err != nil {
		return "", nil, err
	}
	key := pgx.Identifier{q.GroupingKey}.Sanitize()
	name := pgx.Identifier{q.NameExpression}.Sanitize()
	if q.NameExpression == "" {
		name = key
	}
	table := pgx.Identifier(strings.Split(q.Table, ".")).Sanitize()

	sql := `SELECT ` + key + `::text AS entity_id,
	COALESCE(MAX(` + name + `::text), '') AS display_name,
	COALESCE(SUM(` + ColRequests + `), 0)::bigint AS requests,
	COALESCE(SUM(` + ColPaid + `), 0)::bigint AS paid,
	COALESCE(SUM(` + ColRevenue + `), 0)::float8 AS revenue,
	COALESCE(AVG(` + ColCPM + `), 0)::float8 AS avg_cpm,
	COUNT(*) AS matched
FROM ` + table + `
WHERE "` + ColDate + `" BETWEEN $1 AND $2
	AND ` + key + ` IS NOT NULL
	AND ` + pred.SQL + `
GROUP BY 1`
	args := append([]any{q.Range.Start, q.Range.End}, pred.Args...)
	return sql, args, nil
}
