package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bosai-one/shelter-search/internal/db"
	"github.com/bosai-one/shelter-search/internal/schema"
)

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

// HazardCapabilityMap maps shelter identifier to per-hazard capability.
type HazardCapabilityMap map[string]map[string]bool

// LoadHazardFlags bulk-loads hazard-capability flags for exactly the given
// identifiers. A missing capability table is not an error: the deployment
// simply has no hazard data, and every requested hazard counts as missing.
func LoadHazardFlags(ctx context.Context, pool db.Pool, table string, ids []string) (HazardCapabilityMap, error) {
	flags := make(HazardCapabilityMap, len(ids))
	if len(ids) == 0 || table == "" {
		return flags, nil
	}

	q := fmt.Sprintf(
		"SELECT shelter_id::text, hazard_key, supported FROM %s WHERE shelter_id::text = ANY($1)",
		quoteTable(table),
	)
	rows, err := pool.Query(ctx, q, ids)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
			zap.L().Debug("search: hazard table absent", zap.String("table", table))
			return flags, nil
		}
		return nil, eris.Wrap(err, "search: load hazard flags")
	}
	defer rows.Close()

	for rows.Next() {
		var id, key string
		var supported bool
		if err := rows.Scan(&id, &key, &supported); err != nil {
			return nil, eris.Wrap(err, "search: scan hazard flag")
		}
		m := flags[id]
		if m == nil {
			m = make(map[string]bool)
			flags[id] = m
		}
		m[key] = supported
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "search: iterate hazard flags")
	}
	return flags, nil
}

// quoteTable quotes a possibly schema-qualified table name part by part.
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = schema.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// Enrich attaches hazard capabilities and eligibility to each candidate.
// With hideIneligible set, shelters failing the filter are removed entirely;
// otherwise they stay annotated so callers can render partial matches.
func Enrich(cands []candidate, flags HazardCapabilityMap, hazardFilter []string, hideIneligible bool) []NearbyResult {
	results := make([]NearbyResult, 0, len(cands))
	for _, c := range cands {
		caps := flags[c.rec.ID]

		matches := true
		var missing []string
		for _, key := range hazardFilter {
			if !caps[key] {
				matches = false
				missing = append(missing, key)
			}
		}
		if hideIneligible && !matches {
			continue
		}

		rec := c.rec
		if len(caps) > 0 {
			rec.Hazards = caps
		}
		results = append(results, NearbyResult{
			ShelterRecord:  rec,
			DistanceKm:     c.distanceKm,
			MatchesHazards: matches,
			MissingHazards: missing,
		})
	}
	return results
}
