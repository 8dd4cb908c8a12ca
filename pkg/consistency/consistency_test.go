package consistency

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comparison(a, b string, effect, se float64, study string) model.Comparison {
	return model.Comparison{TreatmentA: a, TreatmentB: b, EffectEstimate: effect, StandardError: se, StudyID: study}
}

func analyze(t *testing.T, comparisons ...model.Comparison) *model.ConsistencyReport {
	t.Helper()
	g, err := network.Build(comparisons)
	require.NoError(t, err)
	return Analyze(g, DefaultOptions())
}

func TestAnalyze_ConsistentTriangle(t *testing.T) {
	r := analyze(t,
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("B", "C", 1.0, 0.1, "s2"),
		comparison("A", "C", 2.0, 0.15, "s3"),
	)

	assert.True(t, r.Assessed)
	assert.Equal(t, 1, r.NumLoops)
	require.NotNil(t, r.GlobalTest)
	assert.False(t, r.GlobalTest.IsInconsistent)
	assert.Greater(t, r.GlobalTest.PValue, 0.05)
	assert.Equal(t, 1, r.GlobalTest.DF)
	assert.Equal(t, model.SeverityNone, r.Severity)
	assert.False(t, r.InconsistencyDetected)

	loop := r.Loops[0]
	assert.Equal(t, [3]string{"A", "B", "C"}, loop.Treatments)
	assert.InDelta(t, 0.0, loop.InconsistencyFactor, 1e-12)
	assert.InDelta(t, math.Sqrt(0.01+0.01+0.0225), loop.SE, 1e-12)
}

func TestAnalyze_BrokenTriangle(t *testing.T) {
	r := analyze(t,
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("B", "C", 1.0, 0.1, "s2"),
		comparison("A", "C", 0.0, 0.1, "s3"),
	)

	require.NotNil(t, r.GlobalTest)
	assert.True(t, r.GlobalTest.IsInconsistent)
	assert.Less(t, r.GlobalTest.PValue, 0.05)
	assert.Equal(t, model.SeveritySevere, r.Severity)
	assert.True(t, r.InconsistencyDetected)
	assert.Equal(t, 1, r.NumInconsistentLoops)

	loop := r.Loops[0]
	assert.InDelta(t, 2.0, loop.InconsistencyFactor, 1e-12)
	assert.InDelta(t, 2.0/math.Sqrt(0.03), loop.ZScore, 1e-9)
	assert.InDelta(t, loop.ZScore*loop.ZScore, r.GlobalTest.ChiSquare, 1e-9)
}

func TestAnalyze_StarIsUntestable(t *testing.T) {
	r := analyze(t,
		comparison("X", "A", 0.5, 0.1, "s1"),
		comparison("X", "B", 0.4, 0.1, "s2"),
		comparison("X", "C", 0.3, 0.1, "s3"),
		comparison("X", "D", 0.2, 0.1, "s4"),
	)

	assert.Equal(t, 0, r.NumLoops)
	assert.False(t, r.Assessed)
	assert.Nil(t, r.GlobalTest)
	assert.Empty(t, r.NodeSplits)
	require.Len(t, r.Notices, 1)
	assert.Equal(t, "consistency", r.Notices[0].Property)

	// "not assessed" must survive serialisation rather than read as consistent
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, false, decoded["assessed"])
	assert.Nil(t, decoded["global_test"])
}

func TestAnalyze_ZeroVarianceIsGuarded(t *testing.T) {
	r := analyze(t,
		comparison("A", "B", 1.0, 0, "s1"),
		comparison("B", "C", 1.0, 0, "s2"),
		comparison("A", "C", 2.0, 0, "s3"),
	)

	assert.Equal(t, 1, r.NumLoops)
	assert.False(t, r.Assessed)
	assert.Nil(t, r.GlobalTest)
	assert.False(t, r.Loops[0].Tested)

	for _, l := range r.Loops {
		assert.False(t, math.IsNaN(l.PValue) || math.IsInf(l.ZScore, 0))
	}

	codes := map[string]bool{}
	for _, w := range r.Warnings {
		codes[w.Code] = true
	}
	assert.True(t, codes[model.CodeZeroVariance])
	assert.True(t, codes[model.CodeUntestableLoop])

	raw, err := json.Marshal(r)
	require.NoError(t, err, "report must stay JSON-serialisable (no NaN/Inf)")
	assert.NotEmpty(t, raw)
}

func TestSplitNode(t *testing.T) {
	g, err := network.Build([]model.Comparison{
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("B", "C", 1.0, 0.1, "s2"),
		comparison("A", "C", 0.0, 0.1, "s3"),
	})
	require.NoError(t, err)

	res, warn := SplitNode(g, "A", "C", DefaultOptions().Alphas)
	require.Nil(t, warn)
	assert.True(t, res.Tested)
	assert.InDelta(t, 0.0, res.Direct, 1e-12)
	assert.InDelta(t, 2.0, res.Indirect, 1e-12)
	assert.InDelta(t, -2.0, res.Difference, 1e-12)
	assert.InDelta(t, math.Sqrt(0.03), res.SE, 1e-12)
	assert.Equal(t, []string{"B"}, res.IndirectPaths)
	assert.Equal(t, model.SeveritySevere, res.Severity)
}

func TestSplitNode_PoolsSeveralPaths(t *testing.T) {
	g, err := network.Build([]model.Comparison{
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("A", "C", 0.5, 0.1, "s2"),
		comparison("C", "B", 0.5, 0.1, "s3"),
		comparison("A", "D", 0.2, 0.1, "s4"),
		comparison("D", "B", 0.8, 0.1, "s5"),
	})
	require.NoError(t, err)

	res, warn := SplitNode(g, "A", "B", DefaultOptions().Alphas)
	require.Nil(t, warn)
	assert.Equal(t, []string{"C", "D"}, res.IndirectPaths)
	assert.InDelta(t, 1.0, res.Indirect, 1e-12)
	// two paths of variance 0.02 each pool to 0.01
	assert.InDelta(t, 0.1, res.IndirectSE, 1e-12)
	assert.InDelta(t, 0.0, res.Difference, 1e-12)
	assert.Equal(t, model.SeverityNone, res.Severity)
}

func TestSplitNode_Untestable(t *testing.T) {
	g, err := network.Build([]model.Comparison{
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("B", "C", 1.0, 0.1, "s2"),
	})
	require.NoError(t, err)

	res, warn := SplitNode(g, "A", "B", DefaultOptions().Alphas)
	require.NotNil(t, warn)
	assert.Equal(t, model.CodeUntestableSplit, warn.Code)
	assert.False(t, res.Tested)

	_, warn = SplitNode(g, "A", "C", DefaultOptions().Alphas)
	require.NotNil(t, warn)
}

func TestAnalyze_ExplicitNodeSplitSelection(t *testing.T) {
	g, err := network.Build([]model.Comparison{
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("B", "C", 1.0, 0.1, "s2"),
		comparison("A", "C", 2.0, 0.1, "s3"),
	})
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.NodeSplit = [][2]string{{"A", "C"}}
	r := Analyze(g, opts)

	require.Len(t, r.NodeSplits, 1)
	assert.Equal(t, "A", r.NodeSplits[0].TreatmentA)
	assert.Equal(t, "C", r.NodeSplits[0].TreatmentB)
}

func TestAnalyze_SeverityIsMaximumAcrossChecks(t *testing.T) {
	// Two loops sharing edge A-B: A-B-C is consistent, A-B-D is badly broken
	r := analyze(t,
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("B", "C", 1.0, 0.1, "s2"),
		comparison("A", "C", 2.0, 0.1, "s3"),
		comparison("B", "D", 1.0, 0.1, "s4"),
		comparison("A", "D", -1.0, 0.1, "s5"),
	)

	require.Equal(t, 2, r.NumLoops)
	assert.Equal(t, model.SeverityNone, r.Loops[0].Severity)
	assert.Equal(t, model.SeveritySevere, r.Loops[1].Severity)
	assert.Equal(t, model.SeveritySevere, r.Severity)
	assert.Equal(t, 2, r.IndependentLoops)
	require.NotNil(t, r.GlobalTest)
	assert.Equal(t, 2, r.GlobalTest.DF)
}

func TestAnalyze_CleanNetworkSerialisesEmptyWarnings(t *testing.T) {
	r := analyze(t,
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("B", "C", 1.0, 0.1, "s2"),
		comparison("A", "C", 2.0, 0.15, "s3"),
	)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"warnings":[]`)
}

func TestGlobalTest_CompleteGraphUsesCycleRank(t *testing.T) {
	// K4: four triangles share edges but only three loops are independent
	r := analyze(t,
		comparison("A", "B", 1.0, 0.1, "s1"),
		comparison("A", "C", 2.0, 0.1, "s2"),
		comparison("A", "D", 3.0, 0.1, "s3"),
		comparison("B", "C", 1.0, 0.1, "s4"),
		comparison("B", "D", 2.0, 0.1, "s5"),
		comparison("C", "D", 1.0, 0.1, "s6"),
	)

	assert.Equal(t, 4, r.NumLoops)
	assert.Equal(t, 3, r.IndependentLoops)
	require.NotNil(t, r.GlobalTest)
	assert.Equal(t, 4, r.GlobalTest.LoopsTested)
	assert.Equal(t, 3, r.GlobalTest.DF)
}
