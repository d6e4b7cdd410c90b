// Package search implements the schema-adaptive nearby-search engine: it
// plans multi-encoding bounding-box queries against the resolved shelter
// relation, enriches hits with hazard capabilities, and assembles
// deterministic result lists.
package search

import "time"

// ShelterRecord is the canonical in-memory shape of one shelter, decoded
// from whatever physical layout the deployment uses. Coordinates are always
// plain degrees here.
type ShelterRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Address   string          `json:"address,omitempty"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Hazards   map[string]bool `json:"hazards,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// NearbyQuery is the caller's intent for a point search.
type NearbyQuery struct {
	Lat            float64
	Lon            float64
	RadiusKm       float64
	Limit          int
	Hazards        []string
	HideIneligible bool
	Diagnostics    bool
}

// AreaQuery is the caller's intent for an administrative-area search.
type AreaQuery struct {
	PrefCode string
	MuniCode string
	Keyword  string
	Hazards  []string
	Limit    int
}

// NearbyResult is a shelter plus per-request computed fields. Never persisted.
type NearbyResult struct {
	ShelterRecord
	DistanceKm     float64  `json:"distance_km"`
	MatchesHazards bool     `json:"matches_hazards"`
	MissingHazards []string `json:"missing_hazards"`
}

// Diagnostics carries observational distance-distribution figures. They never
// influence query results.
type Diagnostics struct {
	MinDistanceKm  *float64 `json:"min_distance_km"`
	CountWithin1Km int      `json:"count_within_1km"`
	CountWithin5Km int      `json:"count_within_5km"`
}

// SchemaDiagnostics describes a failed resolution for operators.
type SchemaDiagnostics struct {
	DiscoveredColumns  []string `json:"discovered_columns,omitempty"`
	RelationCandidates []string `json:"relation_candidates,omitempty"`
	LatCandidates      []string `json:"lat_candidates,omitempty"`
	LonCandidates      []string `json:"lon_candidates,omitempty"`
}

// FetchStatus values surfaced to UI collaborators.
const (
	StatusOK   = "OK"
	StatusDown = "DOWN"
)

// SearchResponse is the well-formed payload returned for every search, even
// in degraded mode, so callers render an explicit state instead of handling
// an exception.
type SearchResponse struct {
	OK          bool               `json:"ok"`
	FetchStatus string             `json:"fetch_status"`
	Sites       []NearbyResult     `json:"sites"`
	Diagnostics *Diagnostics       `json:"diagnostics,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	Schema      *SchemaDiagnostics `json:"schema_diagnostics,omitempty"`
}

// SchemaStatus reports the currently resolved physical mapping.
type SchemaStatus struct {
	OK          bool               `json:"ok"`
	Relation    string             `json:"relation,omitempty"`
	LatColumn   string             `json:"lat_column,omitempty"`
	LonColumn   string             `json:"lon_column,omitempty"`
	Encoding    string             `json:"encoding,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	Diagnostics *SchemaDiagnostics `json:"diagnostics,omitempty"`
}
