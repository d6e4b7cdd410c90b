package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosai-one/shelter-search/internal/search"
)

// stubSearcher returns canned responses and records the last queries.
type stubSearcher struct {
	nearbyResp *search.SearchResponse
	areaResp   *search.SearchResponse
	status     *search.SchemaStatus
	err        error

	lastNearby search.NearbyQuery
	lastArea   search.AreaQuery
}

func (s *stubSearcher) NearbySearch(_ context.Context, q search.NearbyQuery) (*search.SearchResponse, error) {
	s.lastNearby = q
	return s.nearbyResp, s.err
}

func (s *stubSearcher) AreaSearch(_ context.Context, q search.AreaQuery) (*search.SearchResponse, error) {
	s.lastArea = q
	return s.areaResp, s.err
}

func (s *stubSearcher) SchemaStatus(context.Context) *search.SchemaStatus {
	return s.status
}

func okResponse() *search.SearchResponse {
	return &search.SearchResponse{
		OK:          true,
		FetchStatus: search.StatusOK,
		Sites: []search.NearbyResult{
			{ShelterRecord: search.ShelterRecord{ID: "s1", Name: "Gym"}, DistanceKm: 0.4, MatchesHazards: true},
		},
	}
}

func doRequest(t *testing.T, stub *stubSearcher, url string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewHandler(stub).Router(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestNearbyEndpoint(t *testing.T) {
	stub := &stubSearcher{nearbyResp: okResponse()}

	rec := doRequest(t, stub,
		"/api/shelters/nearby?lat=35.68&lon=139.77&radius_km=2&hazards=flood,tsunami&limit=5&hide_ineligible=true&diagnostics=true")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 35.68, stub.lastNearby.Lat)
	assert.Equal(t, 139.77, stub.lastNearby.Lon)
	assert.Equal(t, 2.0, stub.lastNearby.RadiusKm)
	assert.Equal(t, 5, stub.lastNearby.Limit)
	assert.Equal(t, []string{"flood", "tsunami"}, stub.lastNearby.Hazards)
	assert.True(t, stub.lastNearby.HideIneligible)
	assert.True(t, stub.lastNearby.Diagnostics)

	var body search.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	require.Len(t, body.Sites, 1)
	assert.Equal(t, "s1", body.Sites[0].ID)
}

func TestNearbyEndpoint_MissingCoordinates(t *testing.T) {
	rec := doRequest(t, &stubSearcher{}, "/api/shelters/nearby?lat=abc&lon=139.77")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, &stubSearcher{}, "/api/shelters/nearby?lon=139.77")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNearbyEndpoint_BadRadius(t *testing.T) {
	rec := doRequest(t, &stubSearcher{}, "/api/shelters/nearby?lat=35&lon=139&radius_km=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNearbyEndpoint_DegradedPayloadPassesThrough(t *testing.T) {
	stub := &stubSearcher{nearbyResp: &search.SearchResponse{
		OK:          false,
		FetchStatus: search.StatusDown,
		Sites:       []search.NearbyResult{},
		LastError:   "schema unavailable (RELATION_NOT_FOUND)",
	}}

	rec := doRequest(t, stub, "/api/shelters/nearby?lat=35&lon=139")
	// Degraded is still a well-formed 200; callers read fetch_status.
	require.Equal(t, http.StatusOK, rec.Code)

	var body search.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.OK)
	assert.Equal(t, search.StatusDown, body.FetchStatus)
	assert.NotNil(t, body.Sites)
}

func TestNearbyEndpoint_TransientFailure(t *testing.T) {
	stub := &stubSearcher{err: errors.New("dial postgres://u:p@db/x: refused")}

	rec := doRequest(t, stub, "/api/shelters/nearby?lat=35&lon=139")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "u:p@db")
	assert.Contains(t, rec.Body.String(), "postgres://[redacted]")
}

func TestAreaEndpoint(t *testing.T) {
	stub := &stubSearcher{areaResp: okResponse()}

	rec := doRequest(t, stub, "/api/shelters/search?pref=13&muni=13101&q=gym&hazards=flood&limit=3")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "13", stub.lastArea.PrefCode)
	assert.Equal(t, "13101", stub.lastArea.MuniCode)
	assert.Equal(t, "gym", stub.lastArea.Keyword)
	assert.Equal(t, []string{"flood"}, stub.lastArea.Hazards)
	assert.Equal(t, 3, stub.lastArea.Limit)
}

func TestAreaEndpoint_RequiresFilter(t *testing.T) {
	rec := doRequest(t, &stubSearcher{}, "/api/shelters/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchemaStatusEndpoint(t *testing.T) {
	stub := &stubSearcher{status: &search.SchemaStatus{
		OK: true, Relation: "public.shelters", Encoding: "SCALED_1E7",
	}}

	rec := doRequest(t, stub, "/api/schema/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body search.SchemaStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, "public.shelters", body.Relation)
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, &stubSearcher{}, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestParseList(t *testing.T) {
	assert.Nil(t, parseList(""))
	assert.Equal(t, []string{"flood"}, parseList("flood"))
	assert.Equal(t, []string{"flood", "tsunami"}, parseList("flood, tsunami,"))
}
