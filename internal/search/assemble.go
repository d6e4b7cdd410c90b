package search

import "sort"

// dedupe keeps the nearest candidate per identifier. The planner's CASE
// ordering already attributes one interpretation per row; identifier
// uniqueness is still enforced here.
func dedupe(cands []candidate) []candidate {
	best := make(map[string]int, len(cands))
	out := cands[:0]
	for _, c := range cands {
		if i, ok := best[c.rec.ID]; ok {
			if c.distanceKm < out[i].distanceKm {
				out[i] = c
			}
			continue
		}
		best[c.rec.ID] = len(out)
		out = append(out, c)
	}
	return out
}

// sortCandidates orders by (distance asc, identifier asc) for a fully
// deterministic order, including under distance ties.
func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].distanceKm != cands[j].distanceKm {
			return cands[i].distanceKm < cands[j].distanceKm
		}
		return cands[i].rec.ID < cands[j].rec.ID
	})
}

// truncate caps results at limit.
func truncate(results []NearbyResult, limit int) []NearbyResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

// computeDiagnostics derives distance-distribution figures from the sorted,
// pre-truncation result list: minimum distance among the top 50 candidates
// and counts within 1 km and 5 km. MinDistanceKm is nil when nothing matched.
func computeDiagnostics(results []NearbyResult) *Diagnostics {
	d := &Diagnostics{}

	top := results
	if len(top) > 50 {
		top = top[:50]
	}
	for i, r := range top {
		if i == 0 || r.DistanceKm < *d.MinDistanceKm {
			v := r.DistanceKm
			d.MinDistanceKm = &v
		}
	}
	for _, r := range results {
		if r.DistanceKm <= 1 {
			d.CountWithin1Km++
		}
		if r.DistanceKm <= 5 {
			d.CountWithin5Km++
		}
	}
	return d
}
