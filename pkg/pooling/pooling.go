// Package pooling fits a fixed-effect network meta-analysis by weighted least
// squares and reports every treatment's effect against a common reference.
package pooling

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/network"
	"github.com/ritzau/nma-engine/pkg/stattest"
	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when the usable comparisons do not identify every
// treatment effect
var ErrSingular = errors.New("singular pooling system")

// Options selects the reference treatment. Empty means the first treatment.
type Options struct {
	Reference string
}

// Estimate solves (XᵀWX)β = XᵀWy over the reference's connected component.
// Design rows carry +1 for treatment_b and −1 for treatment_a with the
// reference column dropped; weights are 1/SE².
func Estimate(g *network.Graph, opts Options) (*model.PoolingReport, error) {
	reference := opts.Reference
	if reference == "" {
		reference = g.Treatments()[0]
	}
	if !g.HasTreatment(reference) {
		return nil, model.NewInvalidNetworkError("reference treatment %q is not in the network", reference)
	}

	report := &model.PoolingReport{
		Reference: reference,
		Effects:   make([]model.RelativeEffect, 0),
		League:    make([]model.PairwiseEstimate, 0),
		Warnings:  make([]model.Warning, 0),
	}

	component := componentOf(g, reference)
	for _, t := range g.Treatments() {
		if !slices.Contains(component, t) {
			report.Warnings = append(report.Warnings, model.Warning{
				Kind:       model.KindDataQuality,
				Code:       model.CodeExcludedTreatment,
				Message:    fmt.Sprintf("treatment %q is not connected to reference %q and was excluded from pooling", t, reference),
				Treatments: []string{t},
			})
		}
	}
	if len(component) < 2 {
		return nil, fmt.Errorf("reference %q has no connected treatments: %w", reference, ErrSingular)
	}

	columns := make(map[string]int, len(component)-1)
	for _, t := range component {
		if t != reference {
			columns[t] = len(columns)
		}
	}

	rows := usableRows(g, component)
	if err := checkIdentified(rows, g.Comparisons(), component); err != nil {
		return nil, err
	}

	fit, err := solve(g.Comparisons(), rows, columns)
	if err != nil {
		return nil, fmt.Errorf("pool %d comparisons: %w", len(rows), err)
	}

	report.ComparisonsUsed = len(rows)
	report.Q = fit.q
	report.DF = len(rows) - len(columns)
	report.PValue = stattest.ChiSquareP(fit.q, report.DF)

	means := make(map[string]float64, len(component))
	for _, t := range component {
		if t == reference {
			report.Effects = append(report.Effects, model.RelativeEffect{Treatment: t})
			continue
		}
		j := columns[t]
		means[t] = fit.beta.AtVec(j)
		report.Effects = append(report.Effects, model.RelativeEffect{
			Treatment: t,
			Mean:      means[t],
			SE:        math.Sqrt(math.Max(0, fit.cov.At(j, j))),
		})
	}

	covariance := func(a, b string) float64 {
		i, okA := columns[a]
		j, okB := columns[b]
		if !okA || !okB {
			return 0
		}
		return fit.cov.At(i, j)
	}
	for i, a := range component {
		for _, b := range component[i+1:] {
			v := covariance(a, a) + covariance(b, b) - 2*covariance(a, b)
			report.League = append(report.League, model.PairwiseEstimate{
				TreatmentA: a,
				TreatmentB: b,
				Mean:       means[b] - means[a],
				SE:         math.Sqrt(math.Max(0, v)),
			})
		}
	}

	if hasMultiArm(g) {
		report.Warnings = append(report.Warnings, model.Warning{
			Kind:    model.KindMethod,
			Code:    model.CodeMultiArm,
			Message: "multi-arm trials are pooled as independent pairwise comparisons",
		})
	}
	return report, nil
}

func componentOf(g *network.Graph, t string) []string {
	for _, c := range g.Components() {
		if slices.Contains(c, t) {
			return c
		}
	}
	return []string{t}
}

func usableRows(g *network.Graph, component []string) []int {
	rows := make([]int, 0)
	for i, c := range g.Comparisons() {
		if !g.UsableComparison(i) {
			continue
		}
		if slices.Contains(component, c.TreatmentA) && slices.Contains(component, c.TreatmentB) {
			rows = append(rows, i)
		}
	}
	return rows
}

// checkIdentified names treatments that have no usable comparison at all, the
// common cause of a singular system
func checkIdentified(rows []int, comparisons []model.Comparison, component []string) error {
	seen := make(map[string]bool)
	for _, i := range rows {
		seen[comparisons[i].TreatmentA] = true
		seen[comparisons[i].TreatmentB] = true
	}
	for _, t := range component {
		if !seen[t] {
			return fmt.Errorf("treatment %q has no comparison with a usable standard error: %w", t, ErrSingular)
		}
	}
	return nil
}

type wlsFit struct {
	beta *mat.VecDense
	cov  *mat.SymDense
	q    float64
}

func solve(comparisons []model.Comparison, rows []int, columns map[string]int) (*wlsFit, error) {
	n, p := len(rows), len(columns)
	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	w := make([]float64, n)
	for r, i := range rows {
		c := comparisons[i]
		if j, ok := columns[c.TreatmentB]; ok {
			x.Set(r, j, 1)
		}
		if j, ok := columns[c.TreatmentA]; ok {
			x.Set(r, j, -1)
		}
		y.SetVec(r, c.EffectEstimate)
		w[r] = 1 / c.Variance()
	}

	var wx mat.Dense
	wx.Apply(func(i, _ int, v float64) float64 { return v * w[i] }, x)

	var xtwx mat.Dense
	xtwx.Mul(x.T(), &wx)
	info := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			info.SetSym(i, j, xtwx.At(i, j))
		}
	}

	var xtwy mat.VecDense
	xtwy.MulVec(wx.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok {
		return nil, fmt.Errorf("usable comparisons do not connect every treatment: %w", ErrSingular)
	}

	beta := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(beta, &xtwy); err != nil {
		return nil, fmt.Errorf("solve normal equations: %w", err)
	}
	cov := mat.NewSymDense(p, nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, fmt.Errorf("invert information matrix: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, beta)
	var q float64
	for r := 0; r < n; r++ {
		res := y.AtVec(r) - fitted.AtVec(r)
		q += w[r] * res * res
	}
	return &wlsFit{beta: beta, cov: cov, q: q}, nil
}

func hasMultiArm(g *network.Graph) bool {
	for _, s := range g.Studies() {
		if s.IsMultiArm() {
			return true
		}
	}
	return false
}
