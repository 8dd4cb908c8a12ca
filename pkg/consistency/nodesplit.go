package consistency

import (
	"fmt"

	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/network"
	"github.com/ritzau/nma-engine/pkg/stattest"
)

// SplitNode separates the evidence on edge a–b. The direct estimate pools the
// studies comparing a and b; the indirect estimate pools every two-step path
// a→c→b through a common neighbour c. Both are oriented as b versus a.
func SplitNode(g *network.Graph, a, b string, alphas stattest.Alphas) (model.NodeSplitResult, *model.Warning) {
	res := model.NodeSplitResult{
		TreatmentA:    a,
		TreatmentB:    b,
		IndirectPaths: make([]string, 0),
		Severity:      model.SeverityNone,
	}

	untested := func(reason string) (model.NodeSplitResult, *model.Warning) {
		return res, &model.Warning{
			Kind:       model.KindDataQuality,
			Code:       model.CodeUntestableSplit,
			Message:    fmt.Sprintf("node-split %s vs %s not tested: %s", a, b, reason),
			Treatments: []string{a, b},
		}
	}

	if !g.HasEdge(a, b) {
		return untested("treatments are not directly compared")
	}

	direct, ok := g.DirectEstimate(a, b)
	if !ok {
		return untested("no direct comparison has a usable variance")
	}
	res.Direct = direct.Effect
	res.DirectSE = direct.SE()

	paths := make([]model.Estimate, 0)
	for _, c := range commonNeighbors(g, a, b) {
		ac, okAC := g.DirectEstimate(a, c)
		cb, okCB := g.DirectEstimate(c, b)
		if !okAC || !okCB {
			continue
		}
		paths = append(paths, stattest.Chain(ac, cb))
		res.IndirectPaths = append(res.IndirectPaths, c)
	}
	if len(paths) == 0 {
		return untested("no indirect path with usable variances")
	}

	indirect, ok := stattest.Pool(paths, g.MinVariance())
	if !ok {
		return untested("indirect paths have degenerate variances")
	}
	res.Indirect = indirect.Effect
	res.IndirectSE = indirect.SE()

	wald, ok := stattest.Wald(direct.Effect-indirect.Effect, direct.Variance+indirect.Variance, g.MinVariance())
	if !ok {
		return untested("degenerate variance of the difference")
	}
	res.Difference = wald.Estimate
	res.SE = wald.SE
	res.ZScore = wald.Z
	res.PValue = wald.PValue
	res.Severity = alphas.Classify(wald.PValue)
	res.Tested = true
	return res, nil
}

func commonNeighbors(g *network.Graph, a, b string) []string {
	ofB := make(map[string]bool)
	for _, n := range g.Neighbors(b) {
		ofB[n] = true
	}
	out := make([]string, 0)
	for _, n := range g.Neighbors(a) {
		if n != b && ofB[n] {
			out = append(out, n)
		}
	}
	return out
}

// splitTargets resolves which edges to split: the configured pairs, or every
// edge that closes at least one triangle
func splitTargets(g *network.Graph, opts Options) [][2]string {
	if len(opts.NodeSplit) > 0 {
		return opts.NodeSplit
	}
	targets := make([][2]string, 0)
	for _, e := range g.Edges() {
		if len(commonNeighbors(g, e.A, e.B)) > 0 {
			targets = append(targets, [2]string{e.A, e.B})
		}
	}
	return targets
}
