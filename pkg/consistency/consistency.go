// Package consistency checks whether direct and indirect evidence in a
// comparison network agree.
//
// Three checks are run over the network built by package network:
//   - a Wald test of the inconsistency factor of every closed triangle,
//   - node-splitting of selected edges (direct vs. two-step indirect evidence),
//   - a global chi-square test over all loop statistics.
//
// A network without testable loops is reported as not assessed. It is never
// reported as consistent.
package consistency

import (
	"fmt"
	"strings"

	"github.com/ritzau/nma-engine/pkg/loops"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/network"
	"github.com/ritzau/nma-engine/pkg/stattest"
)

// Options controls severity grading and edge selection
type Options struct {
	Alphas      stattest.Alphas
	GlobalAlpha float64
	// NodeSplit lists the edges to split. Empty means every edge with at least
	// one indirect path.
	NodeSplit [][2]string
}

// DefaultOptions returns the conventional cut-offs with automatic edge selection
func DefaultOptions() Options {
	return Options{
		Alphas:      stattest.DefaultAlphas(),
		GlobalAlpha: 0.05,
	}
}

// Analyze runs every consistency check and returns the report
func Analyze(g *network.Graph, opts Options) *model.ConsistencyReport {
	report := &model.ConsistencyReport{
		Loops:           make([]model.LoopResult, 0),
		NodeSplits:      make([]model.NodeSplitResult, 0),
		Severity:        model.SeverityNone,
		Recommendations: make([]string, 0),
		Warnings:        g.Warnings(),
		Notices:         make([]model.Notice, 0),
	}

	triangles := loops.FindTriangles(g)
	report.NumLoops = len(triangles)
	report.IndependentLoops = loops.IndependentLoops(g)

	tested := make([]model.LoopResult, 0, len(triangles))
	for _, tr := range triangles {
		res, warn := CheckLoop(g, tr, opts.Alphas)
		report.Loops = append(report.Loops, res)
		if warn != nil {
			report.Warnings = append(report.Warnings, *warn)
			continue
		}
		tested = append(tested, res)
		report.Severity = report.Severity.Max(res.Severity)
		if res.PValue < opts.Alphas.Moderate {
			report.NumInconsistentLoops++
		}
	}

	for _, pair := range splitTargets(g, opts) {
		res, warn := SplitNode(g, pair[0], pair[1], opts.Alphas)
		report.NodeSplits = append(report.NodeSplits, res)
		if warn != nil {
			report.Warnings = append(report.Warnings, *warn)
			continue
		}
		report.Severity = report.Severity.Max(res.Severity)
	}

	report.Assessed = len(tested) > 0
	switch {
	case report.NumLoops == 0:
		report.Notices = append(report.Notices, model.Notice{
			Property: "consistency",
			Reason:   "network has no closed loops; direct and indirect evidence cannot be compared",
		})
	case !report.Assessed:
		report.Notices = append(report.Notices, model.Notice{
			Property: "consistency",
			Reason:   "no loop has usable variances on all three edges",
		})
	default:
		report.GlobalTest = GlobalTest(tested, report.IndependentLoops, opts.GlobalAlpha)
	}

	report.InconsistencyDetected = report.Severity != model.SeverityNone
	addRecommendations(g, report)
	return report
}

// CheckLoop computes the inconsistency factor IF = d(A→B) + d(B→C) − d(A→C)
// with Var(IF) as the sum of the three edge variances. A non-nil warning means
// the loop could not be tested.
func CheckLoop(g *network.Graph, tr loops.Triangle, alphas stattest.Alphas) (model.LoopResult, *model.Warning) {
	res := model.LoopResult{
		Treatments: tr.Treatments(),
		Severity:   model.SeverityNone,
	}

	ab, okAB := g.DirectEstimate(tr.A, tr.B)
	bc, okBC := g.DirectEstimate(tr.B, tr.C)
	ac, okAC := g.DirectEstimate(tr.A, tr.C)
	if !okAB || !okBC || !okAC {
		return res, &model.Warning{
			Kind:       model.KindDataQuality,
			Code:       model.CodeUntestableLoop,
			Message:    fmt.Sprintf("loop %s has an edge without a usable variance and was not tested", loopName(tr)),
			Treatments: res.Treatments[:],
		}
	}

	inconsistency := ab.Effect + bc.Effect - ac.Effect
	wald, ok := stattest.Wald(inconsistency, ab.Variance+bc.Variance+ac.Variance, g.MinVariance())
	if !ok {
		return res, &model.Warning{
			Kind:       model.KindDataQuality,
			Code:       model.CodeUntestableLoop,
			Message:    fmt.Sprintf("loop %s has a degenerate inconsistency variance and was not tested", loopName(tr)),
			Treatments: res.Treatments[:],
		}
	}

	res.InconsistencyFactor = inconsistency
	res.SE = wald.SE
	res.ZScore = wald.Z
	res.PValue = wald.PValue
	res.Severity = alphas.Classify(wald.PValue)
	res.Tested = true
	return res, nil
}

// GlobalTest sums the squared loop z-statistics into a chi-square statistic
// with df equal to the number of independent loops. Triangles sharing edges
// are correlated, so when there are more tested loops than independent ones
// (e.g. a complete graph on four treatments: four triangles, df 3) the
// statistic is inflated and the test is anti-conservative.
func GlobalTest(tested []model.LoopResult, independentLoops int, alpha float64) *model.GlobalTest {
	if len(tested) == 0 || independentLoops <= 0 {
		return nil
	}
	var q float64
	for _, l := range tested {
		q += l.ZScore * l.ZScore
	}
	p := stattest.ChiSquareP(q, independentLoops)
	return &model.GlobalTest{
		ChiSquare:      q,
		DF:             independentLoops,
		PValue:         p,
		IsInconsistent: p < alpha,
		LoopsTested:    len(tested),
	}
}

func loopName(tr loops.Triangle) string {
	return strings.Join([]string{tr.A, tr.B, tr.C}, "-")
}

func addRecommendations(g *network.Graph, r *model.ConsistencyReport) {
	if !r.Assessed {
		r.Recommendations = append(r.Recommendations,
			"Consistency could not be assessed. Treat indirect comparisons as resting on an untested assumption.")
		return
	}

	for _, s := range g.Studies() {
		if s.IsMultiArm() {
			r.Warnings = append(r.Warnings, model.Warning{
				Kind:    model.KindMethod,
				Code:    model.CodeMultiArm,
				Message: "multi-arm trials are treated as independent pairwise comparisons; loop variances ignore within-trial correlation",
			})
			break
		}
	}

	if r.InconsistencyDetected {
		flagged := make([]string, 0)
		for _, l := range r.Loops {
			if l.Tested && l.Severity != model.SeverityNone {
				flagged = append(flagged, strings.Join(l.Treatments[:], "-"))
			}
		}
		for _, s := range r.NodeSplits {
			if s.Tested && s.Severity != model.SeverityNone {
				flagged = append(flagged, s.TreatmentA+" vs "+s.TreatmentB)
			}
		}
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("%s inconsistency in %s. Check these comparisons for differences in populations, doses or outcome definitions before pooling.",
				capitalize(string(r.Severity)), strings.Join(flagged, ", ")))
	} else {
		r.Recommendations = append(r.Recommendations,
			"No inconsistency detected in the tested loops. Absence of evidence is not proof of consistency when loops are few.")
	}

	if r.GlobalTest != nil && r.GlobalTest.IsInconsistent {
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("Global test rejects consistency (chi-square %.2f, df %d, p %.4f); consider an inconsistency model or excluding the offending studies.",
				r.GlobalTest.ChiSquare, r.GlobalTest.DF, r.GlobalTest.PValue))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
