package stattest

import (
	"math"
	"testing"

	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoSidedP(t *testing.T) {
	assert.InDelta(t, 1.0, TwoSidedP(0), 1e-12)
	assert.InDelta(t, 0.05, TwoSidedP(1.959963984540054), 1e-9)
	assert.InDelta(t, 0.05, TwoSidedP(-1.959963984540054), 1e-9)
	assert.Less(t, TwoSidedP(10), 1e-20)
}

func TestChiSquareP(t *testing.T) {
	// 3.841459 is the 95th percentile of chi-square with 1 df
	assert.InDelta(t, 0.05, ChiSquareP(3.841458820694124, 1), 1e-9)
	assert.Equal(t, 1.0, ChiSquareP(5, 0))
	assert.Equal(t, 1.0, ChiSquareP(math.NaN(), 2))
}

func TestWald_GuardsDegenerateVariance(t *testing.T) {
	_, ok := Wald(1.0, 0, DefaultMinVariance)
	assert.False(t, ok, "zero variance must not produce a statistic")

	_, ok = Wald(1.0, math.Inf(1), DefaultMinVariance)
	assert.False(t, ok)

	_, ok = Wald(math.NaN(), 1, DefaultMinVariance)
	assert.False(t, ok)

	res, ok := Wald(2.0, 0.04, DefaultMinVariance)
	require.True(t, ok)
	assert.InDelta(t, 0.2, res.SE, 1e-12)
	assert.InDelta(t, 10.0, res.Z, 1e-12)
	assert.False(t, math.IsNaN(res.PValue))
}

func TestAlphasClassify(t *testing.T) {
	a := DefaultAlphas()
	assert.Equal(t, model.SeveritySevere, a.Classify(0.001))
	assert.Equal(t, model.SeverityModerate, a.Classify(0.03))
	assert.Equal(t, model.SeverityMild, a.Classify(0.07))
	assert.Equal(t, model.SeverityNone, a.Classify(0.5))
	assert.Equal(t, model.SeverityNone, a.Classify(math.NaN()))
}

func TestPool(t *testing.T) {
	t.Run("inverse variance weighting", func(t *testing.T) {
		pooled, ok := Pool([]model.Estimate{
			{Effect: 1.0, Variance: 1.0, Studies: 1},
			{Effect: 2.0, Variance: 1.0, Studies: 1},
		}, DefaultMinVariance)
		require.True(t, ok)
		assert.InDelta(t, 1.5, pooled.Effect, 1e-12)
		assert.InDelta(t, 0.5, pooled.Variance, 1e-12)
		assert.Equal(t, 2, pooled.Studies)
	})

	t.Run("degenerate estimates are skipped", func(t *testing.T) {
		pooled, ok := Pool([]model.Estimate{
			{Effect: 5.0, Variance: 0, Studies: 1},
			{Effect: 1.0, Variance: 0.25, Studies: 1},
		}, DefaultMinVariance)
		require.True(t, ok)
		assert.InDelta(t, 1.0, pooled.Effect, 1e-12)
		assert.Equal(t, 1, pooled.Studies)
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, ok := Pool([]model.Estimate{{Effect: 1, Variance: 0}}, DefaultMinVariance)
		assert.False(t, ok)
	})
}

func TestChain(t *testing.T) {
	got := Chain(
		model.Estimate{Effect: 1.0, Variance: 0.01, Studies: 1},
		model.Estimate{Effect: 0.5, Variance: 0.04, Studies: 2},
	)
	assert.InDelta(t, 1.5, got.Effect, 1e-12)
	assert.InDelta(t, 0.05, got.Variance, 1e-12)
	assert.Equal(t, 3, got.Studies)
}
