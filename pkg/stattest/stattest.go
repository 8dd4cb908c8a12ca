// Package stattest holds the small set of frequentist tests shared by the
// consistency, pooling and ranking analyzers.
package stattest

import (
	"math"

	"github.com/ritzau/nma-engine/pkg/model"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultMinVariance is the variance below which an estimate is treated as degenerate
const DefaultMinVariance = 1e-12

// Alphas holds the p-value cut-offs for severity grading
type Alphas struct {
	Severe   float64
	Moderate float64
	Mild     float64
}

// DefaultAlphas returns the conventional 0.01 / 0.05 / 0.10 cut-offs
func DefaultAlphas() Alphas {
	return Alphas{Severe: 0.01, Moderate: 0.05, Mild: 0.10}
}

// Classify grades a p-value
func (a Alphas) Classify(p float64) model.Severity {
	switch {
	case math.IsNaN(p):
		return model.SeverityNone
	case p < a.Severe:
		return model.SeveritySevere
	case p < a.Moderate:
		return model.SeverityModerate
	case p < a.Mild:
		return model.SeverityMild
	default:
		return model.SeverityNone
	}
}

// WaldResult is the outcome of a Wald test of estimate == 0
type WaldResult struct {
	Estimate float64
	SE       float64
	Z        float64
	PValue   float64
}

// Wald tests estimate against zero with the given variance. ok is false when the
// variance is not a finite number above minVariance; no statistic is produced then.
func Wald(estimate, variance, minVariance float64) (WaldResult, bool) {
	if !ValidVariance(variance, minVariance) || math.IsNaN(estimate) || math.IsInf(estimate, 0) {
		return WaldResult{}, false
	}
	se := math.Sqrt(variance)
	z := estimate / se
	return WaldResult{
		Estimate: estimate,
		SE:       se,
		Z:        z,
		PValue:   TwoSidedP(z),
	}, true
}

// TwoSidedP returns the two-sided standard normal p-value of z
func TwoSidedP(z float64) float64 {
	p := 2 * distuv.UnitNormal.Survival(math.Abs(z))
	return math.Min(1, math.Max(0, p))
}

// NormalCDF evaluates the standard normal CDF
func NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// ChiSquareP returns the upper-tail p-value of a chi-square statistic
func ChiSquareP(statistic float64, df int) float64 {
	if df <= 0 || math.IsNaN(statistic) {
		return 1.0
	}
	chi := distuv.ChiSquared{K: float64(df)}
	return math.Min(1, math.Max(0, chi.Survival(statistic)))
}

// ValidVariance reports whether v is usable as an inverse-variance weight
func ValidVariance(v, minVariance float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > minVariance
}

// Pool combines independent estimates by inverse-variance weighting. Estimates
// with an unusable variance are skipped; ok is false if none remain.
func Pool(estimates []model.Estimate, minVariance float64) (model.Estimate, bool) {
	var sumW, sumWE float64
	studies := 0
	for _, e := range estimates {
		if !ValidVariance(e.Variance, minVariance) || math.IsNaN(e.Effect) || math.IsInf(e.Effect, 0) {
			continue
		}
		w := 1 / e.Variance
		sumW += w
		sumWE += w * e.Effect
		studies += max(e.Studies, 1)
	}
	if sumW == 0 {
		return model.Estimate{}, false
	}
	return model.Estimate{
		Effect:   sumWE / sumW,
		Variance: 1 / sumW,
		Studies:  studies,
	}, true
}

// Chain adds estimates along a path (A→B then B→C gives A→C), summing variances
// under the independence assumption
func Chain(steps ...model.Estimate) model.Estimate {
	var out model.Estimate
	for _, s := range steps {
		out.Effect += s.Effect
		out.Variance += s.Variance
		out.Studies += s.Studies
	}
	return out
}
