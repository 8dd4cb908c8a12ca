// Package ranking ranks treatments by Monte Carlo simulation of their relative
// effects and summarises the rank distributions as SUCRA, P-scores and
// rank probabilities.
//
// Sampling is driven by an injected StreamFactory. Iterations are split into
// fixed-size batches, each with its own stream derived from the seed, so the
// rank histogram depends only on the seed and the batch size, never on the
// number of workers or on goroutine scheduling.
package ranking

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ritzau/nma-engine/pkg/model"
	"golang.org/x/sync/errgroup"
)

// Options controls the simulation
type Options struct {
	Iterations     int
	Seed           uint64
	HigherIsBetter bool
	// UncertaintyMargin is the SUCRA gap, in percentage points, between the
	// top two treatments below which the ordering is flagged as uncertain
	UncertaintyMargin float64
	Workers           int
	BatchSize         int
	Streams           StreamFactory
}

// DefaultOptions returns 1000 iterations, lower-is-better and a 10 point margin
func DefaultOptions() Options {
	return Options{
		Iterations:        1000,
		Seed:              20240101,
		UncertaintyMargin: 10,
		Workers:           1,
		BatchSize:         250,
		Streams:           PCGStreams,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Iterations <= 0 {
		o.Iterations = d.Iterations
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Streams == nil {
		o.Streams = d.Streams
	}
	if o.UncertaintyMargin < 0 {
		o.UncertaintyMargin = 0
	}
	return o
}

// Rank simulates rank distributions for effects measured against a common
// reference. It fails with an InvalidNetworkError for fewer than two
// treatments or malformed effects.
func Rank(effects []model.RelativeEffect, opts Options) (*model.RankingReport, error) {
	if err := validate(effects); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	counts, err := simulate(effects, opts)
	if err != nil {
		return nil, fmt.Errorf("rank simulation: %w", err)
	}
	pscores := PScores(effects, opts.HigherIsBetter)

	n := len(effects)
	rankings := make([]model.TreatmentRanking, n)
	for t, e := range effects {
		rankings[t] = summarize(e.Treatment, counts[t*n:(t+1)*n], opts.Iterations)
		rankings[t].PScore = pscores[t]
	}

	slices.SortStableFunc(rankings, func(a, b model.TreatmentRanking) int {
		return cmp.Compare(b.SUCRA, a.SUCRA)
	})

	report := &model.RankingReport{
		Rankings:        rankings,
		BestTreatment:   rankings[0].Treatment,
		WorstTreatment:  rankings[n-1].Treatment,
		HigherIsBetter:  opts.HigherIsBetter,
		Iterations:      opts.Iterations,
		Seed:            opts.Seed,
		Recommendations: make([]string, 0),
		Warnings:        make([]model.Warning, 0),
	}
	report.Interpretation = interpret(report)
	addFindings(report, opts)
	return report, nil
}

func validate(effects []model.RelativeEffect) error {
	if len(effects) < 2 {
		return model.NewInvalidNetworkError("ranking requires at least 2 treatments, got %d", len(effects))
	}
	seen := make(map[string]bool, len(effects))
	for i, e := range effects {
		switch {
		case strings.TrimSpace(e.Treatment) == "":
			return model.NewInvalidNetworkError("relative effect %d has an empty treatment name", i)
		case seen[e.Treatment]:
			return model.NewInvalidNetworkError("treatment %q appears more than once", e.Treatment)
		case math.IsNaN(e.Mean) || math.IsInf(e.Mean, 0):
			return model.NewInvalidNetworkError("treatment %q has a non-finite mean", e.Treatment)
		case math.IsNaN(e.SE) || math.IsInf(e.SE, 0) || e.SE < 0:
			return model.NewInvalidNetworkError("treatment %q has an invalid standard error %v", e.Treatment, e.SE)
		}
		seen[e.Treatment] = true
	}
	return nil
}

// simulate returns a flattened N×N histogram: counts[t*N+r] is the number of
// iterations in which treatment t took rank r+1
func simulate(effects []model.RelativeEffect, opts Options) ([]int, error) {
	n := len(effects)
	batches := (opts.Iterations + opts.BatchSize - 1) / opts.BatchSize
	partial := make([][]int, batches)

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for b := 0; b < batches; b++ {
		size := min(opts.BatchSize, opts.Iterations-b*opts.BatchSize)
		g.Go(func() error {
			partial[b] = runBatch(effects, opts.Streams(opts.Seed, uint64(b)), size, opts.HigherIsBetter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make([]int, n*n)
	for _, p := range partial {
		for i, c := range p {
			counts[i] += c
		}
	}
	return counts, nil
}

func runBatch(effects []model.RelativeEffect, src Source, iterations int, higherIsBetter bool) []int {
	n := len(effects)
	counts := make([]int, n*n)
	values := make([]float64, n)
	order := make([]int, n)

	better := func(a, b int) int {
		if higherIsBetter {
			return cmp.Compare(values[b], values[a])
		}
		return cmp.Compare(values[a], values[b])
	}

	for it := 0; it < iterations; it++ {
		for t, e := range effects {
			values[t] = e.Mean + e.SE*src.NormFloat64()
			order[t] = t
		}
		// stable sort keeps insertion order on ties
		slices.SortStableFunc(order, better)
		for r, t := range order {
			counts[t*n+r]++
		}
	}
	return counts
}

func summarize(treatment string, counts []int, iterations int) model.TreatmentRanking {
	n := len(counts)
	probs := make([]float64, n)
	for r, c := range counts {
		probs[r] = float64(c) / float64(iterations)
	}

	var meanRank, cumulative, area float64
	median := n
	cumCount := 0
	for r := 0; r < n; r++ {
		meanRank += float64(r+1) * probs[r]
		cumCount += counts[r]
		if median == n && 2*cumCount >= iterations {
			median = r + 1
		}
		if r < n-1 {
			cumulative += probs[r]
			area += cumulative
		}
	}

	sucra := 0.0
	if n > 1 {
		sucra = 100 * area / float64(n-1)
	}

	return model.TreatmentRanking{
		Treatment:         treatment,
		SUCRA:             math.Min(100, math.Max(0, sucra)),
		ProbBest:          probs[0],
		MeanRank:          meanRank,
		MedianRank:        median,
		RankProbabilities: probs,
	}
}

func interpret(r *model.RankingReport) string {
	best, worst := r.Rankings[0], r.Rankings[len(r.Rankings)-1]
	direction := "lower values are better"
	if r.HigherIsBetter {
		direction = "higher values are better"
	}
	return fmt.Sprintf("%s ranks first (SUCRA %.1f%%, P-score %.2f, %.0f%% probability of being best); %s ranks last (SUCRA %.1f%%). Ranking assumes %s.",
		best.Treatment, best.SUCRA, best.PScore, 100*best.ProbBest,
		worst.Treatment, worst.SUCRA, direction)
}

func addFindings(r *model.RankingReport, opts Options) {
	top := r.Rankings
	if gap := top[0].SUCRA - top[1].SUCRA; gap < opts.UncertaintyMargin {
		r.Warnings = append(r.Warnings, model.Warning{
			Kind:       model.KindUncertainty,
			Code:       model.CodeUncertainRanking,
			Message:    fmt.Sprintf("top two treatments differ by %.1f SUCRA points (margin %.1f); their order is uncertain", gap, opts.UncertaintyMargin),
			Treatments: []string{top[0].Treatment, top[1].Treatment},
		})
		r.Recommendations = append(r.Recommendations,
			"Do not report the top position as a definitive ordering; present rank probabilities alongside relative effects and their confidence intervals.")
	}

	tolerance := math.Max(0.02, 2/math.Sqrt(float64(opts.Iterations)))
	for _, tr := range r.Rankings {
		if math.Abs(tr.PScore-tr.SUCRA/100) > tolerance {
			r.Warnings = append(r.Warnings, model.Warning{
				Kind:       model.KindMethod,
				Code:       model.CodeSimulationError,
				Message:    fmt.Sprintf("simulated SUCRA for %q (%.1f) deviates from its P-score (%.2f); increase the number of iterations", tr.Treatment, tr.SUCRA, tr.PScore),
				Treatments: []string{tr.Treatment},
			})
		}
	}

	if opts.Iterations < 1000 {
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("Only %d iterations were simulated; use at least 1000 for reportable rank probabilities.", opts.Iterations))
	}
}
