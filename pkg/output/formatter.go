package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/ritzau/nma-engine/pkg/model"
)

// Color definitions
var (
	bold   = color.New(color.Bold)
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func heading(w io.Writer, title string) {
	bold.Fprintln(w, title)
	bold.Fprintln(w, strings.Repeat("=", len(title)))
}

// PrintAnalysis prints every section of a combined report
func PrintAnalysis(w io.Writer, r *model.AnalysisReport) {
	heading(w, "Network Meta-Analysis Report")
	fmt.Fprintf(w, "Run: %s  Generated: %s\n", r.RunID, r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	if r.Scale != "" {
		fmt.Fprintf(w, "Scale: %s\n", r.Scale)
	}
	fmt.Fprintln(w)

	if r.Geometry != nil {
		PrintGeometry(w, r.Geometry)
	}
	if r.Consistency != nil {
		PrintConsistency(w, r.Consistency)
	}
	if r.Pooling != nil {
		PrintPooling(w, r.Pooling)
	}
	if r.Ranking != nil {
		PrintRanking(w, r.Ranking)
	}
	printNotices(w, r.Notices)
	printWarnings(w, r.Warnings)
}

// PrintGeometry prints the network structure summary
func PrintGeometry(w io.Writer, r *model.GeometryReport) {
	heading(w, "Network Geometry")
	fmt.Fprintf(w, "Treatments: %d  Comparisons: %d  Edges: %d  Studies: %d\n",
		r.NumTreatments, r.NumComparisons, r.NumEdges, r.NumStudies)
	fmt.Fprintf(w, "Density: %.3f  Degree mean/median/min/max: %.1f/%.1f/%.0f/%.0f\n",
		r.NetworkDensity, r.DegreeSummary.Mean, r.DegreeSummary.Median, r.DegreeSummary.Min, r.DegreeSummary.Max)

	if r.IsConnected {
		green.Fprintln(w, "Connected: yes")
	} else {
		red.Fprintf(w, "Connected: no (%d components)\n", len(r.Components))
	}
	if r.IsStarShaped {
		yellow.Fprintf(w, "Star-shaped around %s\n", r.Hub)
	}
	if len(r.MultiArmStudies) > 0 {
		cyan.Fprintf(w, "Multi-arm studies: %s\n", strings.Join(r.MultiArmStudies, ", "))
	}
	if len(r.IsolatedTreatments) > 0 {
		yellow.Fprintf(w, "Isolated: %s\n", strings.Join(r.IsolatedTreatments, ", "))
	}

	qualityColor := green
	switch r.GeometryQuality {
	case model.QualityFair:
		qualityColor = yellow
	case model.QualityPoor:
		qualityColor = red
	}
	qualityColor.Fprintf(w, "Quality: %s\n", r.GeometryQuality)

	printRecommendations(w, r.Recommendations)
	printWarnings(w, r.Warnings)
	fmt.Fprintln(w)
}

// PrintConsistency prints loop, node-split and global test results
func PrintConsistency(w io.Writer, r *model.ConsistencyReport) {
	heading(w, "Consistency")
	if !r.Assessed {
		yellow.Fprintln(w, "Not assessed")
	}

	if len(r.Loops) > 0 {
		fmt.Fprintf(w, "Loops: %d (independent: %d, inconsistent: %d)\n", r.NumLoops, r.IndependentLoops, r.NumInconsistentLoops)
		for _, l := range r.Loops {
			name := strings.Join(l.Treatments[:], "-")
			if !l.Tested {
				fmt.Fprintf(w, "  %-30s not tested\n", name)
				continue
			}
			severityColor(l.Severity).Fprintf(w, "  %-30s IF=%+.3f SE=%.3f z=%+.2f p=%.4f %s\n",
				name, l.InconsistencyFactor, l.SE, l.ZScore, l.PValue, l.Severity)
		}
	}

	if len(r.NodeSplits) > 0 {
		fmt.Fprintln(w, "Node-splits:")
		for _, s := range r.NodeSplits {
			name := s.TreatmentA + " vs " + s.TreatmentB
			if !s.Tested {
				fmt.Fprintf(w, "  %-30s not tested\n", name)
				continue
			}
			severityColor(s.Severity).Fprintf(w, "  %-30s direct=%+.3f indirect=%+.3f diff=%+.3f p=%.4f %s\n",
				name, s.Direct, s.Indirect, s.Difference, s.PValue, s.Severity)
		}
	}

	if g := r.GlobalTest; g != nil {
		c := green
		if g.IsInconsistent {
			c = red
		}
		c.Fprintf(w, "Global test: chi2=%.2f df=%d p=%.4f\n", g.ChiSquare, g.DF, g.PValue)
	}

	severityColor(r.Severity).Fprintf(w, "Overall severity: %s\n", r.Severity)
	printNotices(w, r.Notices)
	printRecommendations(w, r.Recommendations)
	printWarnings(w, r.Warnings)
	fmt.Fprintln(w)
}

// PrintPooling prints relative effects and the league table
func PrintPooling(w io.Writer, r *model.PoolingReport) {
	heading(w, "Pooled Effects (fixed effect)")
	fmt.Fprintf(w, "Reference: %s  Comparisons used: %d\n", r.Reference, r.ComparisonsUsed)
	for _, e := range r.Effects {
		if e.Treatment == r.Reference {
			continue
		}
		fmt.Fprintf(w, "  %-20s %+.3f (95%% CI %+.3f to %+.3f)\n",
			e.Treatment, e.Mean, e.Mean-1.96*e.SE, e.Mean+1.96*e.SE)
	}
	c := green
	if r.DF > 0 && r.PValue < 0.05 {
		c = yellow
	}
	c.Fprintf(w, "Q=%.2f df=%d p=%.4f\n", r.Q, r.DF, r.PValue)

	if len(r.League) > 0 {
		fmt.Fprintln(w, "League table:")
		for _, p := range r.League {
			fmt.Fprintf(w, "  %-20s vs %-20s %+.3f (SE %.3f)\n", p.TreatmentB, p.TreatmentA, p.Mean, p.SE)
		}
	}
	printWarnings(w, r.Warnings)
	fmt.Fprintln(w)
}

// PrintRanking prints the ranking table sorted by SUCRA
func PrintRanking(w io.Writer, r *model.RankingReport) {
	heading(w, "Treatment Ranking")
	direction := "lower is better"
	if r.HigherIsBetter {
		direction = "higher is better"
	}
	fmt.Fprintf(w, "Iterations: %d  Seed: %d  (%s)\n", r.Iterations, r.Seed, direction)
	fmt.Fprintf(w, "  %-4s %-20s %7s %8s %8s %9s\n", "#", "Treatment", "SUCRA", "P-score", "P(best)", "Mean rank")
	for i, t := range r.Rankings {
		line := fmt.Sprintf("  %-4d %-20s %6.1f%% %8.3f %8.3f %9.2f\n", i+1, t.Treatment, t.SUCRA, t.PScore, t.ProbBest, t.MeanRank)
		if i == 0 {
			green.Fprint(w, line)
		} else {
			fmt.Fprint(w, line)
		}
	}
	fmt.Fprintln(w, r.Interpretation)
	printRecommendations(w, r.Recommendations)
	printWarnings(w, r.Warnings)
	fmt.Fprintln(w)
}

func severityColor(s model.Severity) *color.Color {
	switch s {
	case model.SeveritySevere:
		return red
	case model.SeverityModerate, model.SeverityMild:
		return yellow
	}
	return green
}

func printRecommendations(w io.Writer, recs []string) {
	for _, rec := range recs {
		cyan.Fprintf(w, "→ %s\n", rec)
	}
}

func printWarnings(w io.Writer, warnings []model.Warning) {
	for _, warn := range warnings {
		c := yellow
		if warn.Kind == model.KindMethod {
			c = cyan
		}
		c.Fprintf(w, "! [%s] %s\n", warn.Code, warn.Message)
	}
}

func printNotices(w io.Writer, notices []model.Notice) {
	for _, n := range notices {
		yellow.Fprintf(w, "? %s not assessed: %s\n", n.Property, n.Reason)
	}
}
