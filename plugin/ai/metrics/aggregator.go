package metrics

import (
	"math"
	"sort"
	"time"
)

// aggregate summarizes records, which must belong to one persona.
func aggregate(personaID string, records []SessionRecord, now time.Time, halfLife time.Duration) *PersonaSummary {
	s := &PersonaSummary{PersonaID: personaID, Sessions: len(records)}
	if len(records) == 0 {
		return s
	}

	durations := make([]int64, 0, len(records))
	var quality, efficiency float64
	for _, r := range records {
		quality += r.Quality
		efficiency += r.TokenEfficiency
		durations = append(durations, r.Duration.Milliseconds())
		if r.RecordedAt.After(s.LastRecordedAt) {
			s.LastRecordedAt = r.RecordedAt
		}
	}

	n := float64(len(records))
	s.AvgQuality = quality / n
	s.AvgTokenEfficiency = efficiency / n
	s.DurationP50 = time.Duration(percentile(durations, 50)) * time.Millisecond
	s.DurationP95 = time.Duration(percentile(durations, 95)) * time.Millisecond
	s.Effectiveness = effectiveness(records, now, halfLife)
	return s
}

// effectiveness is the recency-weighted mean quality. A record loses half
// its weight every halfLife.
func effectiveness(records []SessionRecord, now time.Time, halfLife time.Duration) float64 {
	var sum, weights float64
	for _, r := range records {
		age := now.Sub(r.RecordedAt)
		if age < 0 {
			age = 0
		}
		w := math.Pow(0.5, float64(age)/float64(halfLife))
		sum += w * r.Quality
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func percentile(values []int64, p int) int64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
