package ranking

import (
	"math"

	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/stattest"
)

// PScores returns, for every treatment, the mean over all other treatments of
// the normal-approximation probability of being better. Effects are treated as
// independent. The result is the analytic counterpart of SUCRA/100.
func PScores(effects []model.RelativeEffect, higherIsBetter bool) []float64 {
	n := len(effects)
	scores := make([]float64, n)
	if n < 2 {
		return scores
	}
	for t := range effects {
		var sum float64
		for s := range effects {
			if s != t {
				sum += probBetter(effects[t], effects[s], higherIsBetter)
			}
		}
		scores[t] = sum / float64(n-1)
	}
	return scores
}

func probBetter(t, s model.RelativeEffect, higherIsBetter bool) float64 {
	diff := s.Mean - t.Mean
	if higherIsBetter {
		diff = -diff
	}
	sd := math.Sqrt(t.SE*t.SE + s.SE*s.SE)
	if sd == 0 {
		switch {
		case diff > 0:
			return 1
		case diff < 0:
			return 0
		default:
			return 0.5
		}
	}
	return stattest.NormalCDF(diff / sd)
}
