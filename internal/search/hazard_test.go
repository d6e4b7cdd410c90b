package search

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHazardFlags(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery(`FROM "shelter_hazards"`).
		WithArgs([]string{"1", "2"}).
		WillReturnRows(pgxmock.NewRows([]string{"shelter_id", "hazard_key", "supported"}).
			AddRow("1", "flood", true).
			AddRow("1", "tsunami", false).
			AddRow("2", "flood", true))

	flags, err := LoadHazardFlags(context.Background(), pool, "shelter_hazards", []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, HazardCapabilityMap{
		"1": {"flood": true, "tsunami": false},
		"2": {"flood": true},
	}, flags)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestLoadHazardFlags_NoIDs(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	flags, err := LoadHazardFlags(context.Background(), pool, "shelter_hazards", nil)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestLoadHazardFlags_TableAbsent(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery(`FROM "shelter_hazards"`).
		WillReturnError(&pgconn.PgError{Code: "42P01"})

	flags, err := LoadHazardFlags(context.Background(), pool, "shelter_hazards", []string{"1"})
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestLoadHazardFlags_QueryError(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery(`FROM "shelter_hazards"`).
		WillReturnError(errors.New("connection reset"))

	_, err = LoadHazardFlags(context.Background(), pool, "shelter_hazards", []string{"1"})
	assert.Error(t, err)
}

func TestQuoteTable(t *testing.T) {
	assert.Equal(t, `"shelter_hazards"`, quoteTable("shelter_hazards"))
	assert.Equal(t, `"public"."shelter_hazards"`, quoteTable("public.shelter_hazards"))
}

func TestEnrich_NoFilter(t *testing.T) {
	cands := []candidate{
		{rec: ShelterRecord{ID: "1"}, distanceKm: 0.5},
		{rec: ShelterRecord{ID: "2"}, distanceKm: 1.5},
	}
	flags := HazardCapabilityMap{"1": {"flood": true}}

	results := Enrich(cands, flags, nil, false)
	require.Len(t, results, 2)
	// An empty filter matches everything.
	assert.True(t, results[0].MatchesHazards)
	assert.Empty(t, results[0].MissingHazards)
	assert.True(t, results[1].MatchesHazards)
	assert.Equal(t, map[string]bool{"flood": true}, results[0].Hazards)
	assert.Nil(t, results[1].Hazards)
}

func TestEnrich_PartialMatchAnnotated(t *testing.T) {
	cands := []candidate{{rec: ShelterRecord{ID: "1"}, distanceKm: 0.2}}
	flags := HazardCapabilityMap{"1": {"flood": true}}

	results := Enrich(cands, flags, []string{"flood", "tsunami"}, false)
	require.Len(t, results, 1)
	assert.False(t, results[0].MatchesHazards)
	assert.Equal(t, []string{"tsunami"}, results[0].MissingHazards)
}

func TestEnrich_HideIneligible(t *testing.T) {
	cands := []candidate{
		{rec: ShelterRecord{ID: "1"}, distanceKm: 0.2},
		{rec: ShelterRecord{ID: "2"}, distanceKm: 0.3},
	}
	flags := HazardCapabilityMap{
		"1": {"flood": true, "tsunami": true},
		"2": {"flood": true},
	}

	results := Enrich(cands, flags, []string{"flood", "tsunami"}, true)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
	assert.True(t, results[0].MatchesHazards)
}

func TestEnrich_UnknownShelterMissesEverything(t *testing.T) {
	cands := []candidate{{rec: ShelterRecord{ID: "9"}, distanceKm: 0.2}}

	results := Enrich(cands, HazardCapabilityMap{}, []string{"flood"}, false)
	require.Len(t, results, 1)
	assert.False(t, results[0].MatchesHazards)
	assert.Equal(t, []string{"flood"}, results[0].MissingHazards)
}
