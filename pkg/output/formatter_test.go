package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func sampleReport() *model.AnalysisReport {
	return &model.AnalysisReport{
		RunID:       "run-1",
		GeneratedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Scale:       "log_or",
		Geometry: &model.GeometryReport{
			NumTreatments:   3,
			NumComparisons:  3,
			NumEdges:        3,
			NumStudies:      3,
			IsConnected:     true,
			NetworkDensity:  1,
			GeometryQuality: model.QualityExcellent,
		},
		Consistency: &model.ConsistencyReport{
			Assessed: false,
			Severity: model.SeverityNone,
			Notices:  []model.Notice{{Property: "consistency", Reason: "network has no closed loops"}},
		},
		Ranking: &model.RankingReport{
			Rankings: []model.TreatmentRanking{
				{Treatment: "DrugA", SUCRA: 95, PScore: 0.95, ProbBest: 0.9, MeanRank: 1.1},
				{Treatment: "Placebo", SUCRA: 5, PScore: 0.05, ProbBest: 0, MeanRank: 2.9},
			},
			BestTreatment:  "DrugA",
			Iterations:     1000,
			Seed:           42,
			Interpretation: "DrugA ranks first.",
			Warnings:       []model.Warning{{Kind: model.KindUncertainty, Code: model.CodeUncertainRanking, Message: "close call"}},
		},
		Notices: []model.Notice{{Property: "pooling", Reason: "skipped"}},
	}
}

func TestPrintAnalysis(t *testing.T) {
	var buf bytes.Buffer
	PrintAnalysis(&buf, sampleReport())
	out := buf.String()

	assert.Contains(t, out, "Network Meta-Analysis Report")
	assert.Contains(t, out, "Run: run-1")
	assert.Contains(t, out, "Quality: excellent")
	assert.Contains(t, out, "Not assessed")
	assert.Contains(t, out, "? consistency not assessed: network has no closed loops")
	assert.Contains(t, out, "DrugA")
	assert.Contains(t, out, " 95.0%")
	assert.Contains(t, out, "! [uncertain_ranking] close call")
	assert.Contains(t, out, "? pooling not assessed: skipped")
	assert.NotContains(t, out, "Pooled Effects")
}

func TestPrintPooling(t *testing.T) {
	var buf bytes.Buffer
	PrintPooling(&buf, &model.PoolingReport{
		Reference: "Placebo",
		Effects: []model.RelativeEffect{
			{Treatment: "Placebo"},
			{Treatment: "DrugA", Mean: -0.5, SE: 0.1},
		},
		League: []model.PairwiseEstimate{{TreatmentA: "Placebo", TreatmentB: "DrugA", Mean: -0.5, SE: 0.1}},
		DF:     0,
		PValue: 1,
	})

	out := buf.String()
	assert.Contains(t, out, "Reference: Placebo")
	assert.Contains(t, out, "-0.500 (95% CI -0.696 to -0.304)")
	assert.Contains(t, out, "League table:")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Contains(t, buf.String(), "\n  \"")
}
