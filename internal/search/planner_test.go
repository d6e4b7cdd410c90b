package search

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosai-one/shelter-search/internal/schema"
)

func e7Descriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Schema:     "public",
		Relation:   "shelters",
		LatCol:     "lat_e7",
		LonCol:     "lon_e7",
		Encoding:   schema.EncodingScaled1e7,
		IDCol:      "id",
		NameCol:    "name",
		AddressCol: "address",
		ActiveCol:  "is_active",
	}
}

func TestScaleFactors(t *testing.T) {
	got := scaleFactors(schema.EncodingScaled1e7)
	// Primary first, then the fallback set minus the duplicate.
	assert.Equal(t, []float64{1e7, 1, 1e2, 1e3, 1e4, 1e5, 1e6}, got)

	got = scaleFactors(schema.EncodingDegrees)
	assert.Equal(t, []float64{1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7}, got)

	got = scaleFactors(schema.EncodingUnknown)
	assert.Equal(t, []float64{1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7}, got)
}

func TestFetchBuffer(t *testing.T) {
	assert.Equal(t, 200, fetchBuffer(1))
	assert.Equal(t, 200, fetchBuffer(10))
	assert.Equal(t, 400, fetchBuffer(20))
	assert.Equal(t, 2000, fetchBuffer(100))
}

func TestBuildNearbySQL(t *testing.T) {
	desc := e7Descriptor()
	q := NearbyQuery{Lat: 35.681236, Lon: 139.767125, RadiusKm: 1, Limit: 10}

	sql, args := buildNearbySQL(desc, q, fetchBuffer(q.Limit))

	// Two center args plus four bbox bounds per factor.
	assert.Len(t, args, 2+4*7)
	assert.Equal(t, 35.681236, args[0])
	assert.Equal(t, 139.767125, args[1])

	// Primary factor's bbox comes first and is scaled by 1e7.
	latDelta := 1.0 / kmPerDegree
	assert.InDelta(t, (35.681236-latDelta)*1e7, args[2].(float64), 1)
	assert.InDelta(t, (35.681236+latDelta)*1e7, args[3].(float64), 1)

	assert.Contains(t, sql, `FROM "public"."shelters"`)
	assert.Contains(t, sql, `"lat_e7"::float8 BETWEEN $3 AND $4`)
	assert.Contains(t, sql, `"lon_e7"::float8 BETWEEN $5 AND $6`)
	assert.Contains(t, sql, `COALESCE("is_active"::boolean, TRUE)`)
	assert.Contains(t, sql, "ORDER BY distance_km ASC NULLS LAST")
	assert.Contains(t, sql, "LIMIT 200")
	// One decode CASE arm per factor for lat, lon, and distance.
	assert.Equal(t, 3*7, strings.Count(sql, "WHEN ("))
	// Stored values are divided back to degrees by the primary factor.
	assert.Contains(t, sql, `"lat_e7"::float8 / 10000000`)
}

func TestBuildNearbySQL_NoOptionalColumns(t *testing.T) {
	desc := &schema.Descriptor{
		Schema:   "public",
		Relation: "hinanjo",
		LatCol:   "y",
		LonCol:   "x",
		Encoding: schema.EncodingDegrees,
	}
	sql, _ := buildNearbySQL(desc, NearbyQuery{Lat: 35, Lon: 139, RadiusKm: 2, Limit: 5}, 200)

	assert.Contains(t, sql, "NULL AS name")
	assert.Contains(t, sql, "NULL AS updated_at")
	assert.NotContains(t, sql, "is_active")
	// Synthetic identifier from raw coordinate text.
	assert.Contains(t, sql, `("y"::text || ',' || "x"::text) AS id`)
}

func TestBuildNearbySQL_QuotesHostileIdentifiers(t *testing.T) {
	desc := e7Descriptor()
	desc.Relation = `shel"ters`
	sql, _ := buildNearbySQL(desc, NearbyQuery{Lat: 35, Lon: 139, RadiusKm: 1, Limit: 5}, 200)
	assert.Contains(t, sql, `"shel""ters"`)
}

func TestBuildNearbySQL_LongitudeCosineFloor(t *testing.T) {
	desc := e7Descriptor()
	// Near the pole cos(lat) is tiny; the floor keeps deltas bounded.
	q := NearbyQuery{Lat: 89.5, Lon: 0, RadiusKm: 10, Limit: 5}
	_, args := buildNearbySQL(desc, q, 200)

	lonDelta := 10.0 / (kmPerDegree * minCosLat)
	assert.InDelta(t, (0-lonDelta)*1e7, args[4].(float64), 1)
	assert.InDelta(t, (0+lonDelta)*1e7, args[5].(float64), 1)
}

func TestNormalizeRow(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		vals []any
		ok   bool
	}{
		{"valid", []any{"1", "Chiyoda Gym", "1-1 Chiyoda", "", now, 35.68, 139.77, 0.1}, true},
		{"missing id", []any{nil, "x", "", "", nil, 35.68, 139.77, 0.1}, false},
		{"lat out of range", []any{"1", "", "", "", nil, 91.0, 139.77, 0.1}, false},
		{"lon out of range", []any{"1", "", "", "", nil, 35.68, 181.0, 0.1}, false},
		{"unparseable lat", []any{"1", "", "", "", nil, "abc", 139.77, 0.1}, false},
		{"null distance", []any{"1", "", "", "", nil, 35.68, 139.77, nil}, false},
		{"wrong arity", []any{"1", 35.68}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand, ok := normalizeRow(tt.vals)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, "1", cand.rec.ID)
				assert.Equal(t, "Chiyoda Gym", cand.rec.Name)
				require.NotNil(t, cand.rec.UpdatedAt)
				assert.Equal(t, now, *cand.rec.UpdatedAt)
			}
		})
	}
}

func TestExecuteNearby_DropsOutOfRadiusRows(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	q := NearbyQuery{Lat: 35.681236, Lon: 139.767125, RadiusKm: 1, Limit: 10}

	rows := pgxmock.NewRows([]string{"id", "name", "address", "notes", "updated_at", "lat_deg", "lon_deg", "distance_km"}).
		AddRow("1", "Near", "", "", nil, 35.681236, 139.767125, 0.0).
		// SQL claimed in-radius but the re-check disagrees: ~2km north.
		AddRow("2", "Far", "", "", nil, 35.699236, 139.767125, 0.9).
		// Range-invalid decode.
		AddRow("3", "Bad", "", "", nil, 95.0, 139.767125, 0.1)

	pool.ExpectQuery(`FROM "public"\."shelters"`).WillReturnRows(rows)

	cands, dropped, err := executeNearby(context.Background(), pool, e7Descriptor(), q)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "1", cands[0].rec.ID)
	assert.InDelta(t, 0.0, cands[0].distanceKm, 1e-6)
	assert.Equal(t, 2, dropped)
	assert.NoError(t, pool.ExpectationsWereMet())
}
