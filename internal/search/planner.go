package search

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bosai-one/shelter-search/internal/db"
	"github.com/bosai-one/shelter-search/internal/schema"
)

const (
	// kmPerDegree is the approximate latitude degree length used for
	// bounding-box deltas.
	kmPerDegree = 111.32
	// minCosLat floors the longitude cosine correction so deltas stay
	// bounded near the poles.
	minCosLat = 0.2
	// minFetchBuffer is the floor on the over-fetch applied before in-memory
	// filtering (hazard eligibility, radius re-check) so the final result
	// set is not starved.
	minFetchBuffer = 200
)

// fallbackFactors is the fixed set of scale hypotheses evaluated alongside
// the statistically resolved primary encoding. Historical datasets have been
// seen with several of these simultaneously, so every query tries them all
// and trusts whichever bounding box actually contains the row.
var fallbackFactors = []float64{1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7}

// candidate is a normalized row plus its computed distance, pre-enrichment.
type candidate struct {
	rec        ShelterRecord
	distanceKm float64
}

// scaleFactors returns the candidate factors for a primary encoding:
// primary first, then the fallback set, de-duplicated.
func scaleFactors(enc schema.Encoding) []float64 {
	factors := make([]float64, 0, len(fallbackFactors)+1)
	if f := enc.Factor(); f > 0 {
		factors = append(factors, f)
	}
	for _, f := range fallbackFactors {
		seen := false
		for _, have := range factors {
			if have == f {
				seen = true
				break
			}
		}
		if !seen {
			factors = append(factors, f)
		}
	}
	return factors
}

// fetchBuffer returns the row buffer fetched ahead of in-memory filtering.
func fetchBuffer(limit int) int {
	if b := limit * 20; b > minFetchBuffer {
		return b
	}
	return minFetchBuffer
}

func factorLiteral(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// optionalExpr returns the quoted, text-cast column expression or a NULL
// literal when the relation does not carry the column.
func optionalExpr(col string) string {
	if col == "" {
		return "NULL"
	}
	return schema.QuoteIdent(col) + "::text"
}

// timestampExpr is optionalExpr without the text cast, so timestamp columns
// come back as time.Time from the driver.
func timestampExpr(col string) string {
	if col == "" {
		return "NULL"
	}
	return schema.QuoteIdent(col)
}

// idExpr returns the identifier expression. Relations without an id column
// get a synthetic identifier from the raw coordinate text, which is stable
// for a given row.
func idExpr(desc *schema.Descriptor) string {
	if desc.IDCol != "" {
		return schema.QuoteIdent(desc.IDCol) + "::text"
	}
	return fmt.Sprintf("(%s::text || ',' || %s::text)",
		schema.QuoteIdent(desc.LatCol), schema.QuoteIdent(desc.LonCol))
}

// haversineSQL renders the great-circle distance in km between the query
// point ($1, $2 in degrees) and the stored coordinates divided back to
// degrees by the given scale factor.
func haversineSQL(latExpr, lonExpr, factor string) string {
	lat := fmt.Sprintf("(%s / %s)", latExpr, factor)
	lon := fmt.Sprintf("(%s / %s)", lonExpr, factor)
	return fmt.Sprintf(
		"6371.0 * 2 * asin(sqrt("+
			"power(sin(radians(($1 - %s) / 2)), 2) + "+
			"cos(radians($1)) * cos(radians(%s)) * "+
			"power(sin(radians(($2 - %s) / 2)), 2)))",
		lat, lat, lon,
	)
}

// buildNearbySQL emits one union query over every scale-factor hypothesis.
// Each factor contributes a bounding-box predicate; the predicates are OR-ed
// in the WHERE clause, and decoded coordinates plus distance are computed as
// a CASE over the same predicates in candidate order, so a row satisfying
// several hypotheses is only ever attributed one interpretation.
//
// Identifiers are double-quoted with embedded quotes doubled; only literal
// values travel through placeholders.
func buildNearbySQL(desc *schema.Descriptor, q NearbyQuery, buffer int) (string, []any) {
	latExpr := schema.QuoteIdent(desc.LatCol) + "::float8"
	lonExpr := schema.QuoteIdent(desc.LonCol) + "::float8"

	latDelta := q.RadiusKm / kmPerDegree
	cosLat := math.Cos(toRadians(q.Lat))
	if cosLat < minCosLat {
		cosLat = minCosLat
	}
	lonDelta := q.RadiusKm / (kmPerDegree * cosLat)

	args := []any{q.Lat, q.Lon}
	var bboxes, latCases, lonCases, distCases []string
	for _, f := range scaleFactors(desc.Encoding) {
		lit := factorLiteral(f)
		n := len(args)
		args = append(args,
			(q.Lat-latDelta)*f, (q.Lat+latDelta)*f,
			(q.Lon-lonDelta)*f, (q.Lon+lonDelta)*f,
		)
		bbox := fmt.Sprintf("(%s BETWEEN $%d AND $%d AND %s BETWEEN $%d AND $%d)",
			latExpr, n+1, n+2, lonExpr, n+3, n+4)
		bboxes = append(bboxes, bbox)
		latCases = append(latCases, fmt.Sprintf("WHEN %s THEN %s / %s", bbox, latExpr, lit))
		lonCases = append(lonCases, fmt.Sprintf("WHEN %s THEN %s / %s", bbox, lonExpr, lit))
		distCases = append(distCases, fmt.Sprintf("WHEN %s THEN %s", bbox, haversineSQL(latExpr, lonExpr, lit)))
	}

	where := []string{
		schema.QuoteIdent(desc.LatCol) + " IS NOT NULL",
		schema.QuoteIdent(desc.LonCol) + " IS NOT NULL",
		"(" + strings.Join(bboxes, " OR ") + ")",
	}
	if desc.ActiveCol != "" {
		where = append(where, fmt.Sprintf("COALESCE(%s::boolean, TRUE)", schema.QuoteIdent(desc.ActiveCol)))
	}

	sql := fmt.Sprintf(
		"SELECT %s AS id, %s AS name, %s AS address, %s AS notes, %s AS updated_at, "+
			"CASE %s END AS lat_deg, CASE %s END AS lon_deg, CASE %s END AS distance_km "+
			"FROM %s.%s WHERE %s ORDER BY distance_km ASC NULLS LAST LIMIT %d",
		idExpr(desc),
		optionalExpr(desc.NameCol),
		optionalExpr(desc.AddressCol),
		optionalExpr(desc.NotesCol),
		timestampExpr(desc.UpdatedCol),
		strings.Join(latCases, " "),
		strings.Join(lonCases, " "),
		strings.Join(distCases, " "),
		schema.QuoteIdent(desc.Schema), schema.QuoteIdent(desc.Relation),
		strings.Join(where, " AND "),
		buffer,
	)
	return sql, args
}

// executeNearby plans and runs the nearby query, normalizing rows into
// candidates. Rows failing coordinate-range validation or the distance
// re-check are dropped individually; they never fail the request.
func executeNearby(ctx context.Context, pool db.Pool, desc *schema.Descriptor, q NearbyQuery) ([]candidate, int, error) {
	sql, args := buildNearbySQL(desc, q, fetchBuffer(q.Limit))

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "search: nearby query")
	}
	defer rows.Close()

	var cands []candidate
	dropped := 0
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, dropped, eris.Wrap(err, "search: read nearby row")
		}
		cand, ok := normalizeRow(vals)
		if !ok {
			dropped++
			continue
		}
		// The in-process haversine is authoritative for the surfaced
		// distance; rows outside the radius after re-check are dropped.
		d := Haversine(q.Lat, q.Lon, cand.rec.Latitude, cand.rec.Longitude)
		if math.IsNaN(d) || math.IsInf(d, 0) || d > q.RadiusKm+1e-9 {
			dropped++
			continue
		}
		cand.distanceKm = d
		cands = append(cands, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, dropped, eris.Wrap(err, "search: iterate nearby rows")
	}
	return cands, dropped, nil
}

// normalizeRow converts one raw row (id, name, address, notes, updated_at,
// lat_deg, lon_deg, distance_km) into a candidate. Returns false when the
// row is unusable: missing identifier, unparseable or out-of-range
// coordinates, or a non-finite distance.
func normalizeRow(vals []any) (candidate, bool) {
	if len(vals) != 8 {
		return candidate{}, false
	}
	id := db.ToString(vals[0])
	if id == "" {
		return candidate{}, false
	}
	lat, okLat := db.ToFloat64(vals[5])
	lon, okLon := db.ToFloat64(vals[6])
	if !okLat || !okLon || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return candidate{}, false
	}
	if _, ok := db.ToFloat64(vals[7]); !ok {
		return candidate{}, false
	}

	rec := ShelterRecord{
		ID:        id,
		Name:      db.ToString(vals[1]),
		Address:   db.ToString(vals[2]),
		Notes:     db.ToString(vals[3]),
		Latitude:  lat,
		Longitude: lon,
	}
	if ts, ok := vals[4].(time.Time); ok {
		rec.UpdatedAt = &ts
	}
	return candidate{rec: rec}, true
}
