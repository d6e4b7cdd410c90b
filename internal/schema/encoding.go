package schema

import "math"

// classify buckets a sample into the tightest encoding whose plausible range
// contains it. The ranges nest (degrees inside 1e6-scaled inside 1e7-scaled),
// so each sample counts toward exactly one class.
func classify(s Sample) Encoding {
	absLat, absLon := math.Abs(s.Lat), math.Abs(s.Lon)
	switch {
	case absLat <= 90 && absLon <= 180:
		return EncodingDegrees
	case absLat <= 90*1e6 && absLon <= 180*1e6:
		return EncodingScaled1e6
	case absLat <= 90*1e7 && absLon <= 180*1e7:
		return EncodingScaled1e7
	default:
		return EncodingUnknown
	}
}

// DecideEncoding votes on the coordinate encoding from real sampled rows.
// A class must win a strict majority of all samples; ties and no-majority
// outcomes fail closed rather than guess. Column names and metadata comments
// are deliberately ignored here because they are frequently wrong or absent
// in independently maintained datasets.
func DecideEncoding(samples []Sample) (Encoding, bool) {
	if len(samples) == 0 {
		return EncodingUnknown, false
	}

	counts := map[Encoding]int{}
	for _, s := range samples {
		counts[classify(s)]++
	}

	half := len(samples) / 2
	for _, enc := range []Encoding{EncodingDegrees, EncodingScaled1e6, EncodingScaled1e7} {
		if counts[enc] > half {
			return enc, true
		}
	}
	return EncodingUnknown, false
}
