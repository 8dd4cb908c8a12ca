package analysis

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ritzau/nma-engine/pkg/input"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comparison(a, b string, effect, se float64, study string) model.Comparison {
	return model.Comparison{TreatmentA: a, TreatmentB: b, EffectEstimate: effect, StandardError: se, StudyID: study}
}

func dataset() *model.Dataset {
	return &model.Dataset{
		Scale: "log_or",
		Comparisons: []model.Comparison{
			comparison("Placebo", "DrugA", -0.5, 0.1, "s1"),
			comparison("Placebo", "DrugB", -0.2, 0.1, "s2"),
			comparison("DrugA", "DrugB", 0.3, 0.15, "s3"),
			comparison("Placebo", "DrugC", 0.1, 0.2, "s4"),
		},
	}
}

func newTestRunner(pub pubsub.Publisher) *Runner {
	r := NewRunner(DefaultSettings(), pub)
	r.newID = func() string { return "run-0001-abcdef" }
	r.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return r
}

func drain(t *testing.T, pub *pubsub.SSEPublisher, topic string) []pubsub.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, topic)
	require.NoError(t, err)
	defer sub.Close()

	var events []pubsub.Event
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
		case <-time.After(50 * time.Millisecond):
			return events
		}
	}
}

func TestRun_FullAnalysis(t *testing.T) {
	pub := pubsub.NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(pubsub.TopicAnalysisStatus, pubsub.TopicConfig{BufferSize: 20, ReplayAll: true})
	pub.ConfigureTopic(pubsub.TopicAnalysisReport, pubsub.TopicConfig{BufferSize: 1})

	r := newTestRunner(pub)
	assert.Nil(t, r.Latest())

	report, err := r.Run(context.Background(), dataset())
	require.NoError(t, err)

	assert.Equal(t, "run-0001-abcdef", report.RunID)
	assert.Equal(t, "log_or", report.Scale)
	require.NotNil(t, report.Geometry)
	assert.Equal(t, 4, report.Geometry.NumTreatments)
	require.NotNil(t, report.Consistency)
	assert.True(t, report.Consistency.Assessed)
	require.NotNil(t, report.Pooling)
	assert.Equal(t, "Placebo", report.Pooling.Reference)
	require.NotNil(t, report.Ranking)
	assert.Equal(t, "DrugA", report.Ranking.BestTreatment)
	assert.Empty(t, report.Notices)
	assert.Same(t, report, r.Latest())

	statuses := drain(t, pub, pubsub.TopicAnalysisStatus)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "complete", statuses[len(statuses)-1].Type)

	reports := drain(t, pub, pubsub.TopicAnalysisReport)
	require.Len(t, reports, 1)
	var summary pubsub.ReportSummary
	require.NoError(t, json.Unmarshal(reports[0].Data, &summary))
	assert.Equal(t, "DrugA", summary.BestTreatment)
	assert.True(t, summary.ConsistencyAssessed)
}

func TestRun_InvalidNetworkAborts(t *testing.T) {
	r := newTestRunner(nil)

	_, err := r.Run(context.Background(), &model.Dataset{})
	require.Error(t, err)
	assert.True(t, model.IsInvalidNetwork(err))
	assert.Nil(t, r.Latest())
}

func TestRun_PoolingFailureSkipsRanking(t *testing.T) {
	r := newTestRunner(nil)
	ds := &model.Dataset{Comparisons: []model.Comparison{
		comparison("A", "B", 0.5, 0.1, "s1"),
		comparison("B", "C", 0.5, 0, "s2"),
	}}

	report, err := r.Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Nil(t, report.Pooling)
	assert.Nil(t, report.Ranking)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, model.CodePoolingFailed, report.Warnings[0].Code)
	require.Len(t, report.Notices, 1)
	assert.Equal(t, "ranking", report.Notices[0].Property)
}

func TestRun_SuppliedRelativeEffects(t *testing.T) {
	r := newTestRunner(nil)
	higher := true
	ds := dataset()
	ds.HigherIsBetter = &higher
	ds.RelativeEffects = []model.RelativeEffect{
		{Treatment: "Placebo"},
		{Treatment: "DrugA", Mean: 1.0, SE: 0.1},
		{Treatment: "DrugB", Mean: 0.2, SE: 0.1},
	}

	report, err := r.Run(context.Background(), ds)
	require.NoError(t, err)
	require.NotNil(t, report.Ranking)
	assert.True(t, report.Ranking.HigherIsBetter)
	assert.Len(t, report.Ranking.Rankings, 3)
	assert.Equal(t, "DrugA", report.Ranking.BestTreatment)
}

func TestRunSource(t *testing.T) {
	raw, err := json.Marshal(dataset())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "network.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	r := newTestRunner(nil)
	report, err := r.RunSource(context.Background(), input.FileSource{Path: path}, "initial analysis")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Geometry.NumComparisons)

	_, err = r.RunSource(context.Background(), input.FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}, "retry")
	assert.Error(t, err)
	assert.Same(t, report, r.Latest(), "failed run keeps the previous report")
}

func TestSingleStepHelpers(t *testing.T) {
	r := newTestRunner(nil)

	geo, err := r.Geometry(dataset())
	require.NoError(t, err)
	assert.Equal(t, 4, geo.NumTreatments)

	cons, err := r.Consistency(dataset())
	require.NoError(t, err)
	assert.Equal(t, 1, cons.NumLoops)

	pool, err := r.Pooling(dataset())
	require.NoError(t, err)
	assert.Len(t, pool.Effects, 4)

	rank, err := r.Ranking(dataset())
	require.NoError(t, err)
	assert.Len(t, rank.Rankings, 4)

	_, err = r.Geometry(&model.Dataset{})
	assert.True(t, model.IsInvalidNetwork(err))
}
