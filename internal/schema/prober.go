package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/bosai-one/shelter-search/internal/db"
)

// ErrNotFound marks catalog lookups that came back empty. Callers distinguish
// it from transient probe failures with eris.Is.
var ErrNotFound = eris.New("schema: not found")

// Relation identifies a discovered relation.
type Relation struct {
	Schema string
	Name   string
}

// ResolveRelation finds the shelter relation by probing pg_catalog for any
// table, view, or materialized view whose name matches one of the candidate
// names. The 'public' schema wins over others holding the same name;
// candidate-list order wins over everything else.
func ResolveRelation(ctx context.Context, pool db.Pool) (Relation, error) {
	const q = `
		SELECT n.nspname, c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'v', 'm')
		  AND c.relname = ANY($1)
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY array_position($1::text[], c.relname),
		         (n.nspname <> 'public'),
		         n.nspname
		LIMIT 1
	`
	var rel Relation
	err := pool.QueryRow(ctx, q, relationCandidates).Scan(&rel.Schema, &rel.Name)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return Relation{}, eris.Wrapf(ErrNotFound,
				"schema: no shelter relation among candidates %v", relationCandidates)
		}
		return Relation{}, eris.Wrap(err, "schema: resolve relation")
	}
	return rel, nil
}

// ListColumns returns the relation's visible column names in physical order.
// An empty result (wrong permissions, dropped relation) is ErrNotFound.
func ListColumns(ctx context.Context, pool db.Pool, schema, relation string) ([]string, error) {
	const q = `
		SELECT a.attname
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum
	`
	rows, err := pool.Query(ctx, q, schema, relation)
	if err != nil {
		return nil, eris.Wrap(err, "schema: list columns")
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "schema: scan column name")
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "schema: iterate columns")
	}
	if len(cols) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "schema: relation %s.%s has no visible columns", schema, relation)
	}
	return cols, nil
}

// PickColumn returns the first candidate that matches a column name,
// case-insensitively. The candidate list is ordered by precedence.
func PickColumn(columns, candidates []string) (string, bool) {
	for _, cand := range candidates {
		for _, col := range columns {
			if strings.EqualFold(col, cand) {
				return col, true
			}
		}
	}
	return "", false
}

// Sample is one raw coordinate pair read through the discovered columns.
type Sample struct {
	Lat float64
	Lon float64
}

// SampleCoordinates reads up to limit rows with non-null coordinates through
// the discovered columns. Values are converted at the boundary because the
// column types are unknown (numeric, integer, even text in old imports).
func SampleCoordinates(ctx context.Context, pool db.Pool, rel Relation, latCol, lonCol string, limit int) ([]Sample, error) {
	q := fmt.Sprintf(
		`SELECT %s, %s FROM %s.%s WHERE %s IS NOT NULL AND %s IS NOT NULL LIMIT %d`,
		QuoteIdent(latCol), QuoteIdent(lonCol),
		QuoteIdent(rel.Schema), QuoteIdent(rel.Name),
		QuoteIdent(latCol), QuoteIdent(lonCol),
		limit,
	)
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "schema: sample coordinates")
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "schema: read sample row")
		}
		if len(vals) != 2 {
			continue
		}
		lat, okLat := db.ToFloat64(vals[0])
		lon, okLon := db.ToFloat64(vals[1])
		if !okLat || !okLon {
			continue
		}
		samples = append(samples, Sample{Lat: lat, Lon: lon})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "schema: iterate samples")
	}
	return samples, nil
}

// QuoteIdent double-quotes a SQL identifier, doubling any embedded quotes.
// Identifiers discovered from the catalog are never interpolated raw.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
