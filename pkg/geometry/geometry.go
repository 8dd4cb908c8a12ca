// Package geometry reports on the shape of a comparison network: how well it
// is connected, whether it hangs off a single hub, and whether multi-arm trials
// are present.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/network"
)

// Thresholds are the design choices behind star detection and the quality
// categories. They are not measured constants.
type Thresholds struct {
	// StarHubFraction is the share of the other treatments a hub must touch
	StarHubFraction float64 `json:"star_hub_fraction"`
	// GoodDensity is the density from which a connected network is "good"
	GoodDensity float64 `json:"good_density"`
	// ExcellentDensity is the density from which a network without isolated
	// treatments is "excellent"
	ExcellentDensity float64 `json:"excellent_density"`
}

// DefaultThresholds returns 0.8 / 0.3 / 0.5
func DefaultThresholds() Thresholds {
	return Thresholds{
		StarHubFraction:  0.8,
		GoodDensity:      0.3,
		ExcellentDensity: 0.5,
	}
}

// Analyze builds the geometry report. It never fails: a disconnected network
// is reported with its components listed.
func Analyze(g *network.Graph, th Thresholds) *model.GeometryReport {
	n := g.NumTreatments()
	degrees := g.Degrees()

	report := &model.GeometryReport{
		NumTreatments:      n,
		NumComparisons:     len(g.Comparisons()),
		NumEdges:           g.NumEdges(),
		NumStudies:         len(g.Studies()),
		IsConnected:        g.IsConnected(),
		Components:         g.Components(),
		MultiArmStudies:    make([]string, 0),
		IsolatedTreatments: make([]string, 0),
		TreatmentDegrees:   degrees,
		NetworkDensity:     Density(g),
		Recommendations:    make([]string, 0),
		Warnings:           g.Warnings(),
	}

	for _, t := range g.Treatments() {
		if degrees[t] == 0 {
			report.IsolatedTreatments = append(report.IsolatedTreatments, t)
		}
	}

	for _, s := range g.Studies() {
		if s.IsMultiArm() {
			report.MultiArmStudies = append(report.MultiArmStudies, s.ID)
		}
	}
	report.HasMultiArmTrials = len(report.MultiArmStudies) > 0

	report.Hub, report.IsStarShaped = detectStar(g, th)
	report.DegreeSummary = summarizeDegrees(g)
	report.GeometryQuality = classify(report, th)

	addFindings(report)
	return report
}

// Density returns distinct edges / (N(N-1)/2)
func Density(g *network.Graph) float64 {
	n := float64(g.NumTreatments())
	possible := n * (n - 1) / 2
	if possible == 0 {
		return 0
	}
	return math.Min(1, float64(g.NumEdges())/possible)
}

// detectStar picks the highest-degree treatment (earliest on ties) and checks
// that it touches at least StarHubFraction of the others while every other
// treatment touches only the hub
func detectStar(g *network.Graph, th Thresholds) (string, bool) {
	n := g.NumTreatments()
	if n < 3 {
		return "", false
	}

	hub := ""
	hubDegree := -1
	for _, t := range g.Treatments() {
		if d := g.Degree(t); d > hubDegree {
			hub, hubDegree = t, d
		}
	}

	if float64(hubDegree) < th.StarHubFraction*float64(n-1) {
		return "", false
	}

	for _, t := range g.Treatments() {
		if t == hub {
			continue
		}
		neighbors := g.Neighbors(t)
		if len(neighbors) > 1 || (len(neighbors) == 1 && neighbors[0] != hub) {
			return "", false
		}
	}
	return hub, true
}

func summarizeDegrees(g *network.Graph) model.DegreeSummary {
	values := make([]float64, 0, g.NumTreatments())
	for _, t := range g.Treatments() {
		values = append(values, float64(g.Degree(t)))
	}
	data := stats.LoadRawData(values)

	var summary model.DegreeSummary
	summary.Mean, _ = stats.Mean(data)
	summary.Median, _ = stats.Median(data)
	summary.Max, _ = stats.Max(data)
	summary.Min, _ = stats.Min(data)
	return summary
}

func classify(r *model.GeometryReport, th Thresholds) model.GeometryQuality {
	switch {
	case !r.IsConnected:
		return model.QualityPoor
	case r.NetworkDensity >= th.ExcellentDensity && len(r.IsolatedTreatments) == 0:
		return model.QualityExcellent
	case r.NetworkDensity >= th.GoodDensity:
		return model.QualityGood
	default:
		return model.QualityFair
	}
}

func addFindings(r *model.GeometryReport) {
	if !r.IsConnected {
		parts := make([]string, 0, len(r.Components))
		for _, c := range r.Components {
			parts = append(parts, "{"+strings.Join(c, ", ")+"}")
		}
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("Network is disconnected (%s); treatments in different components cannot be compared. Look for studies bridging the components or analyse each component separately.",
				strings.Join(parts, " ")))
	}

	if len(r.IsolatedTreatments) > 0 {
		r.Warnings = append(r.Warnings, model.Warning{
			Kind:       model.KindDataQuality,
			Code:       model.CodeIsolated,
			Message:    fmt.Sprintf("%d treatment(s) have no comparisons", len(r.IsolatedTreatments)),
			Treatments: r.IsolatedTreatments,
		})
	}

	if r.IsStarShaped {
		r.Warnings = append(r.Warnings, model.Warning{
			Kind:       model.KindMethod,
			Code:       model.CodeStarShaped,
			Message:    fmt.Sprintf("star-shaped network around %q: every indirect comparison depends on the hub's evidence", r.Hub),
			Treatments: []string{r.Hub},
		})
		r.Recommendations = append(r.Recommendations,
			"Star-shaped network: there are no closed loops, so consistency cannot be checked. Interpret indirect comparisons with caution and assess the hub comparisons' risk of bias carefully.")
	}

	if r.HasMultiArmTrials {
		r.Warnings = append(r.Warnings, model.Warning{
			Kind:    model.KindMethod,
			Code:    model.CodeMultiArm,
			Message: fmt.Sprintf("%d multi-arm trial(s) found; their arms are treated as independent pairwise comparisons, which understates correlation", len(r.MultiArmStudies)),
		})
	}

	switch r.GeometryQuality {
	case model.QualityFair:
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("Sparse network (density %.2f): many comparisons rest on indirect evidence only.", r.NetworkDensity))
	case model.QualityExcellent:
		r.Recommendations = append(r.Recommendations,
			"Well-connected network: direct and indirect evidence can be combined and checked against each other.")
	}

	if r.NumEdges > 0 && r.NumTreatments > 2 && r.DegreeSummary.Min == 1 && !r.IsStarShaped {
		r.Recommendations = append(r.Recommendations,
			"Some treatments are linked to the network through a single comparison; their relative effects depend on that one link.")
	}
}
