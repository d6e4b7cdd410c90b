// Package schema discovers the physical layout of the shelter relation at
// runtime: which relation holds the data, which columns carry coordinates,
// and how those coordinates are numerically encoded. Independently maintained
// shelter datasets disagree on all three, so nothing here is assumed ahead
// of time.
package schema

// Encoding identifies the numeric convention used to store coordinates.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	// EncodingDegrees stores plain decimal degrees.
	EncodingDegrees
	// EncodingScaled1e6 stores degrees multiplied by 1e6 (fixed-point).
	EncodingScaled1e6
	// EncodingScaled1e7 stores degrees multiplied by 1e7 (fixed-point).
	EncodingScaled1e7
)

// String returns the wire name for the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingDegrees:
		return "DEGREES"
	case EncodingScaled1e6:
		return "SCALED_1E6"
	case EncodingScaled1e7:
		return "SCALED_1E7"
	default:
		return "UNKNOWN"
	}
}

// Factor returns the divisor that converts a stored value back to degrees.
// Returns 0 for EncodingUnknown.
func (e Encoding) Factor() float64 {
	switch e {
	case EncodingDegrees:
		return 1
	case EncodingScaled1e6:
		return 1e6
	case EncodingScaled1e7:
		return 1e7
	default:
		return 0
	}
}

// Descriptor is the resolved physical mapping for the shelter relation.
// It is immutable once resolved; the cache replaces it wholesale on expiry.
type Descriptor struct {
	Schema   string
	Relation string
	LatCol   string
	LonCol   string
	Encoding Encoding

	// Optional columns; empty when the relation does not carry them.
	IDCol      string
	NameCol    string
	AddressCol string
	NotesCol   string
	UpdatedCol string
	ActiveCol  string
	PrefCol    string
	MuniCol    string

	// Columns is the full discovered column list, kept for diagnostics.
	Columns []string
}

// Candidate column and relation names, ordered by precedence. These cover
// the naming conventions observed across historical shelter dataset imports.
// Matching is exact (case-insensitive for columns); no fuzzy matching.
var (
	relationCandidates = []string{
		"shelters",
		"evacuation_shelters",
		"evacuation_sites",
		"shelter",
		"hinanjo",
		"refuge_sites",
	}
	latCandidates = []string{
		"latitude", "lat", "y", "lat_e7", "latitude_e7", "lat_e6", "latitude_e6",
	}
	lonCandidates = []string{
		"longitude", "lon", "lng", "x", "lon_e7", "lng_e7", "longitude_e7", "lon_e6", "lng_e6",
	}
	idCandidates      = []string{"id", "shelter_id", "site_id", "code", "site_code"}
	nameCandidates    = []string{"name", "shelter_name", "site_name", "title"}
	addressCandidates = []string{"address", "addr", "location", "address_text"}
	notesCandidates   = []string{"notes", "remarks", "memo", "description"}
	updatedCandidates = []string{"updated_at", "modified_at", "last_updated"}
	activeCandidates  = []string{"is_active", "active", "enabled", "is_public"}
	prefCandidates    = []string{"pref_code", "prefecture_code", "pref"}
	muniCandidates    = []string{"muni_code", "municipality_code", "city_code", "muni"}
)

// RelationCandidates returns the ordered relation-name candidate list,
// exposed for diagnostics payloads.
func RelationCandidates() []string {
	out := make([]string, len(relationCandidates))
	copy(out, relationCandidates)
	return out
}

// LatCandidates returns the ordered latitude column candidate list.
func LatCandidates() []string {
	out := make([]string, len(latCandidates))
	copy(out, latCandidates)
	return out
}

// LonCandidates returns the ordered longitude column candidate list.
func LonCandidates() []string {
	out := make([]string, len(lonCandidates))
	copy(out, lonCandidates)
	return out
}
