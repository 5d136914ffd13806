package usage

import (
	"math"
	"strconv"
	"strings"
)

// Direction is the overall movement of a series.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// StableBand is the relative change below which a series counts as stable.
const StableBand = 0.05

// MaxWindow caps the moving-average window.
const MaxWindow = 5

// TrendResult describes a series. When Sufficient is false the remaining
// fields are zero and Reason explains why.
type TrendResult struct {
	Sufficient          bool      `json:"sufficient"`
	Reason              string    `json:"reason,omitempty"`
	Direction           Direction `json:"direction,omitempty"`
	ChangeRatio         float64   `json:"change_ratio"`
	ChangePercentage    string    `json:"change_percentage,omitempty"`
	Window              int       `json:"window,omitempty"`
	MovingAverages      []float64 `json:"moving_averages,omitempty"`
	PredictionAvailable bool      `json:"prediction_available"`
	Prediction          float64   `json:"prediction"`
}

// Trend computes moving averages over a window of max(1, min(5, n/3)),
// the direction and change between the first and last average, and a
// linear extrapolation of the next value from the last three averages.
// At least two values are required for a trend and three for a prediction.
func Trend(values []float64) TrendResult {
	n := len(values)
	if n < 2 {
		return TrendResult{Reason: "at least 2 records are required"}
	}

	w := max(1, min(MaxWindow, n/3))
	averages := make([]float64, 0, n-w+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= w {
			sum -= values[i-w]
		}
		if i >= w-1 {
			averages = append(averages, sum/float64(w))
		}
	}

	first, last := averages[0], averages[len(averages)-1]
	var ratio float64
	switch {
	case first != 0:
		ratio = (last - first) / math.Abs(first)
	case last > 0:
		ratio = 1
	case last < 0:
		ratio = -1
	}

	r := TrendResult{
		Sufficient:       true,
		Direction:        Stable,
		ChangeRatio:      ratio,
		ChangePercentage: formatPercent(ratio),
		Window:           w,
		MovingAverages:   averages,
	}
	switch {
	case ratio > StableBand:
		r.Direction = Increasing
	case ratio < -StableBand:
		r.Direction = Decreasing
	}

	if n >= 3 && len(averages) >= 3 {
		a, c := averages[len(averages)-3], averages[len(averages)-1]
		r.PredictionAvailable = true
		r.Prediction = math.Max(0, c+(c-a)/2)
	}
	return r
}

func formatPercent(ratio float64) string {
	s := strconv.FormatFloat(ratio*100, 'f', 1, 64)
	s = strings.TrimSuffix(s, ".0")
	if s == "-0" {
		s = "0"
	}
	return s + "%"
}
