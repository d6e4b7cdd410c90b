package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bosai-one/shelter-search/internal/config"
	"github.com/bosai-one/shelter-search/internal/db"
	"github.com/bosai-one/shelter-search/internal/observability"
	"github.com/bosai-one/shelter-search/internal/schema"
)

// connStringPattern matches embedded database connection strings so they
// never leak into surfaced error messages.
var connStringPattern = regexp.MustCompile(`postgres(?:ql)?://\S+`)

// Engine is the schema-adaptive nearby-search engine. It owns no background
// work: every operation runs synchronously in the caller's request lifecycle
// and respects the caller's context deadline.
type Engine struct {
	pool    db.Pool // nil when no database is configured
	cache   *schema.Cache
	cfg     config.SearchConfig
	metrics *observability.Metrics
}

// NewEngine builds the engine. pool may be nil (degraded from the start);
// metrics may be nil.
func NewEngine(pool db.Pool, cache *schema.Cache, cfg config.SearchConfig, metrics *observability.Metrics) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &Engine{pool: pool, cache: cache, cfg: cfg, metrics: metrics}
}

// NearbySearch returns the closest eligible shelters around a point. Schema
// resolution failures yield a degraded response, not an error; only query
// execution failures (transient by definition) propagate as errors.
func (e *Engine) NearbySearch(ctx context.Context, q NearbyQuery) (*SearchResponse, error) {
	start := time.Now()
	if err := e.normalizeNearby(&q); err != nil {
		return nil, err
	}

	desc, err := e.cache.Get(ctx)
	if err != nil {
		return e.degraded("nearby", err), nil
	}

	cands, dropped, err := executeNearby(ctx, e.pool, desc, q)
	if err != nil {
		e.observe("nearby", "error", start, 0)
		return nil, err
	}

	cands = dedupe(cands)
	sortCandidates(cands)

	flags, err := e.loadFlags(ctx, cands)
	if err != nil {
		e.observe("nearby", "error", start, 0)
		return nil, err
	}

	results := Enrich(cands, flags, q.Hazards, q.HideIneligible)

	resp := &SearchResponse{
		OK:          true,
		FetchStatus: StatusOK,
		Sites:       truncate(results, q.Limit),
	}
	if q.Diagnostics {
		resp.Diagnostics = computeDiagnostics(results)
	}
	e.observe("nearby", "ok", start, dropped)
	zap.L().Debug("search: nearby complete",
		zap.Int("candidates", len(cands)),
		zap.Int("returned", len(resp.Sites)),
		zap.Int("dropped", dropped),
	)
	return resp, nil
}

// AreaSearch returns shelters filtered by administrative area and optional
// keyword, reusing the same schema cache and hazard enrichment. Results are
// ordered by identifier; no distance is computed.
func (e *Engine) AreaSearch(ctx context.Context, q AreaQuery) (*SearchResponse, error) {
	start := time.Now()
	q.Limit = e.clampLimit(q.Limit)

	desc, err := e.cache.Get(ctx)
	if err != nil {
		return e.degraded("area", err), nil
	}

	cands, err := e.executeArea(ctx, desc, q)
	if err != nil {
		e.observe("area", "error", start, 0)
		return nil, err
	}

	cands = dedupe(cands)
	sort.Slice(cands, func(i, j int) bool { return cands[i].rec.ID < cands[j].rec.ID })

	flags, err := e.loadFlags(ctx, cands)
	if err != nil {
		e.observe("area", "error", start, 0)
		return nil, err
	}

	results := Enrich(cands, flags, q.Hazards, false)
	e.observe("area", "ok", start, 0)
	return &SearchResponse{
		OK:          true,
		FetchStatus: StatusOK,
		Sites:       truncate(results, q.Limit),
	}, nil
}

// executeArea issues a text/area-filtered query decoded with the primary
// encoding only; without a bounding box there is no per-row factor vote.
func (e *Engine) executeArea(ctx context.Context, desc *schema.Descriptor, q AreaQuery) ([]candidate, error) {
	factor := desc.Encoding.Factor()
	latExpr := schema.QuoteIdent(desc.LatCol) + "::float8"
	lonExpr := schema.QuoteIdent(desc.LonCol) + "::float8"

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where,
		schema.QuoteIdent(desc.LatCol)+" IS NOT NULL",
		schema.QuoteIdent(desc.LonCol)+" IS NOT NULL",
	)
	if q.PrefCode != "" && desc.PrefCol != "" {
		where = append(where, fmt.Sprintf("%s::text = %s", schema.QuoteIdent(desc.PrefCol), arg(q.PrefCode)))
	}
	if q.MuniCode != "" && desc.MuniCol != "" {
		where = append(where, fmt.Sprintf("%s::text = %s", schema.QuoteIdent(desc.MuniCol), arg(q.MuniCode)))
	}
	if q.Keyword != "" {
		var fields []string
		if desc.NameCol != "" {
			fields = append(fields, schema.QuoteIdent(desc.NameCol)+"::text")
		}
		if desc.AddressCol != "" {
			fields = append(fields, schema.QuoteIdent(desc.AddressCol)+"::text")
		}
		if len(fields) > 0 {
			p := arg("%" + q.Keyword + "%")
			var likes []string
			for _, f := range fields {
				likes = append(likes, fmt.Sprintf("%s ILIKE %s", f, p))
			}
			where = append(where, "("+strings.Join(likes, " OR ")+")")
		}
	}
	if desc.ActiveCol != "" {
		where = append(where, fmt.Sprintf("COALESCE(%s::boolean, TRUE)", schema.QuoteIdent(desc.ActiveCol)))
	}

	lit := factorLiteral(factor)
	sql := fmt.Sprintf(
		"SELECT %s AS id, %s AS name, %s AS address, %s AS notes, %s AS updated_at, "+
			"%s / %s AS lat_deg, %s / %s AS lon_deg, 0.0 AS distance_km "+
			"FROM %s.%s WHERE %s ORDER BY id ASC LIMIT %d",
		idExpr(desc),
		optionalExpr(desc.NameCol),
		optionalExpr(desc.AddressCol),
		optionalExpr(desc.NotesCol),
		timestampExpr(desc.UpdatedCol),
		latExpr, lit, lonExpr, lit,
		schema.QuoteIdent(desc.Schema), schema.QuoteIdent(desc.Relation),
		strings.Join(where, " AND "),
		fetchBuffer(q.Limit),
	)

	rows, err := e.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "search: area query")
	}
	defer rows.Close()

	var cands []candidate
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "search: read area row")
		}
		cand, ok := normalizeRow(vals)
		if !ok {
			continue
		}
		cands = append(cands, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "search: iterate area rows")
	}
	return cands, nil
}

// SchemaStatus reports the current resolution outcome, forcing a probe if
// nothing is cached.
func (e *Engine) SchemaStatus(ctx context.Context) *SchemaStatus {
	desc, err := e.cache.Get(ctx)
	if err != nil {
		status := &SchemaStatus{OK: false, LastError: Redact(err.Error())}
		var unavailable *schema.Unavailable
		if errors.As(err, &unavailable) {
			status.Reason = string(unavailable.Reason)
			status.Diagnostics = schemaDiagnostics(unavailable)
		}
		return status
	}
	return &SchemaStatus{
		OK:        true,
		Relation:  desc.Schema + "." + desc.Relation,
		LatColumn: desc.LatCol,
		LonColumn: desc.LonCol,
		Encoding:  desc.Encoding.String(),
	}
}

func (e *Engine) loadFlags(ctx context.Context, cands []candidate) (HazardCapabilityMap, error) {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.rec.ID)
	}
	return LoadHazardFlags(ctx, e.pool, e.cfg.HazardTable, ids)
}

func (e *Engine) normalizeNearby(q *NearbyQuery) error {
	if q.Lat < -90 || q.Lat > 90 || q.Lon < -180 || q.Lon > 180 {
		return eris.Errorf("search: center out of range: (%v, %v)", q.Lat, q.Lon)
	}
	if q.RadiusKm <= 0 {
		return eris.Errorf("search: radius must be positive, got %v", q.RadiusKm)
	}
	q.Limit = e.clampLimit(q.Limit)
	return nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		return e.cfg.MaxLimit
	}
	return limit
}

// degraded wraps a resolution failure into the structured down payload.
func (e *Engine) degraded(kind string, err error) *SearchResponse {
	resp := &SearchResponse{
		OK:          false,
		FetchStatus: StatusDown,
		Sites:       []NearbyResult{},
		LastError:   Redact(err.Error()),
	}
	var unavailable *schema.Unavailable
	if errors.As(err, &unavailable) {
		resp.Schema = schemaDiagnostics(unavailable)
	}
	if e.metrics != nil {
		e.metrics.SearchesTotal.WithLabelValues(kind, "degraded").Inc()
	}
	return resp
}

func schemaDiagnostics(u *schema.Unavailable) *SchemaDiagnostics {
	return &SchemaDiagnostics{
		DiscoveredColumns:  u.Columns,
		RelationCandidates: u.RelationCandidates,
		LatCandidates:      u.LatCandidates,
		LonCandidates:      u.LonCandidates,
	}
}

func (e *Engine) observe(kind, outcome string, start time.Time, dropped int) {
	if e.metrics == nil {
		return
	}
	e.metrics.SearchesTotal.WithLabelValues(kind, outcome).Inc()
	e.metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if dropped > 0 {
		e.metrics.RowsDropped.Add(float64(dropped))
	}
}

// Redact strips embedded database connection strings from a message before
// it is surfaced to callers or logs.
func Redact(msg string) string {
	return connStringPattern.ReplaceAllString(msg, "postgres://[redacted]")
}
