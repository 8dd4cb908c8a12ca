package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ritzau/nma-engine/pkg/config"
	"github.com/ritzau/nma-engine/pkg/consistency"
	"github.com/ritzau/nma-engine/pkg/geometry"
	"github.com/ritzau/nma-engine/pkg/input"
	"github.com/ritzau/nma-engine/pkg/logging"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/network"
	"github.com/ritzau/nma-engine/pkg/pooling"
	"github.com/ritzau/nma-engine/pkg/pubsub"
	"github.com/ritzau/nma-engine/pkg/ranking"
	"github.com/ritzau/nma-engine/pkg/stattest"
)

var log = logging.New("analysis")

const totalSteps = 5

// Settings holds the options of every analyzer in a run
type Settings struct {
	Geometry    geometry.Thresholds
	Consistency consistency.Options
	MinVariance float64
	Reference   string
	Ranking     ranking.Options
}

// DefaultSettings returns every analyzer's defaults
func DefaultSettings() Settings {
	return Settings{
		Geometry:    geometry.DefaultThresholds(),
		Consistency: consistency.DefaultOptions(),
		MinVariance: stattest.DefaultMinVariance,
		Ranking:     ranking.DefaultOptions(),
	}
}

// SettingsFromConfig maps loaded configuration onto analyzer options
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Geometry:    cfg.GeometryThresholds(),
		Consistency: cfg.ConsistencyOptions(),
		MinVariance: cfg.Consistency.MinVariance,
		Reference:   cfg.Ranking.Reference,
		Ranking:     cfg.RankingOptions(nil),
	}
}

// Runner orchestrates geometry, consistency, pooling and ranking over one dataset
type Runner struct {
	mu        sync.Mutex // Prevent concurrent analysis runs
	stateMu   sync.RWMutex
	settings  Settings
	latest    *model.AnalysisReport
	publisher pubsub.Publisher

	now   func() time.Time
	newID func() string
}

// NewRunner creates a runner. publisher may be nil.
func NewRunner(settings Settings, publisher pubsub.Publisher) *Runner {
	return &Runner{
		settings:  settings,
		publisher: publisher,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Settings returns the current analyzer options
func (r *Runner) Settings() Settings {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.settings
}

// SetSettings replaces the analyzer options for subsequent runs
func (r *Runner) SetSettings(s Settings) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.settings = s
}

// Latest returns the most recent complete report, or nil before the first run
func (r *Runner) Latest() *model.AnalysisReport {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.latest
}

// RunSource loads a dataset and runs the full analysis on it
func (r *Runner) RunSource(ctx context.Context, src input.Source, reason string) (*model.AnalysisReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log.InfoContext(ctx, "starting analysis", "source", src.Name(), "reason", reason)
	r.publishStatus("", "loading", "Loading "+src.Name(), 1)

	ds, err := src.Load(ctx)
	if err != nil {
		r.publishStatus("", "failed", err.Error(), 1)
		return nil, fmt.Errorf("load %s: %w", src.Name(), err)
	}
	return r.run(ctx, ds)
}

// Run executes geometry → consistency → pooling → ranking. Only an invalid
// network aborts; a pooling failure becomes a warning and ranking is skipped.
func (r *Runner) Run(ctx context.Context, ds *model.Dataset) (*model.AnalysisReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, ds)
}

func (r *Runner) run(ctx context.Context, ds *model.Dataset) (*model.AnalysisReport, error) {
	settings := r.Settings()
	runID := r.newID()
	start := r.now()

	report := &model.AnalysisReport{
		RunID:       runID,
		GeneratedAt: start.UTC(),
		Scale:       ds.Scale,
		Warnings:    make([]model.Warning, 0),
		Notices:     make([]model.Notice, 0),
	}

	r.publishStatus(runID, "network", "Building comparison network", 1)
	g, err := BuildNetwork(ds, settings)
	if err != nil {
		log.WarnContext(ctx, "[1/5] invalid network", "runID", runID, "error", err)
		r.publishStatus(runID, "failed", err.Error(), 1)
		return nil, err
	}
	log.InfoContext(ctx, "[1/5] network built", "runID", runID,
		"treatments", g.NumTreatments(), "comparisons", len(g.Comparisons()), "edges", g.NumEdges())

	r.publishStatus(runID, "geometry", "Analyzing network geometry", 2)
	report.Geometry = geometry.Analyze(g, settings.Geometry)
	log.InfoContext(ctx, "[2/5] geometry analyzed", "runID", runID,
		"quality", string(report.Geometry.GeometryQuality), "connected", report.Geometry.IsConnected)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.publishStatus(runID, "consistency", "Testing consistency", 3)
	report.Consistency = consistency.Analyze(g, settings.Consistency)
	log.InfoContext(ctx, "[3/5] consistency tested", "runID", runID,
		"assessed", report.Consistency.Assessed, "loops", report.Consistency.NumLoops,
		"severity", string(report.Consistency.Severity))

	r.publishStatus(runID, "pooling", "Pooling network estimates", 4)
	pooled, err := pooling.Estimate(g, pooling.Options{Reference: settings.Reference})
	if err != nil {
		log.WarnContext(ctx, "[4/5] pooling failed", "runID", runID, "error", err)
		report.Warnings = append(report.Warnings, model.Warning{
			Kind:    model.KindMethod,
			Code:    model.CodePoolingFailed,
			Message: fmt.Sprintf("network estimates could not be pooled: %v", err),
		})
	} else {
		report.Pooling = pooled
		log.InfoContext(ctx, "[4/5] estimates pooled", "runID", runID,
			"reference", pooled.Reference, "q", pooled.Q, "df", pooled.DF)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.publishStatus(runID, "ranking", "Simulating treatment ranks", 5)
	effects := rankingInput(ds, report.Pooling)
	if len(effects) == 0 {
		report.Notices = append(report.Notices, model.Notice{
			Property: "ranking",
			Reason:   "no relative effects were supplied and pooling produced none",
		})
		log.InfoContext(ctx, "[5/5] ranking skipped", "runID", runID)
	} else {
		ranked, err := ranking.Rank(effects, rankingOptions(settings, ds))
		if err != nil {
			r.publishStatus(runID, "failed", err.Error(), 5)
			return nil, fmt.Errorf("rank treatments: %w", err)
		}
		report.Ranking = ranked
		log.InfoContext(ctx, "[5/5] treatments ranked", "runID", runID,
			"best", ranked.BestTreatment, "iterations", ranked.Iterations)
	}

	log.InfoContext(ctx, "analysis complete", "runID", runID,
		"durationMs", r.now().Sub(start).Milliseconds(), "warnings", countWarnings(report))

	r.stateMu.Lock()
	r.latest = report
	r.stateMu.Unlock()

	r.publishStatus(runID, "complete", "Analysis complete", totalSteps)
	r.publishReport(report)
	return report, nil
}

// BuildNetwork builds the comparison graph for a dataset
func BuildNetwork(ds *model.Dataset, s Settings) (*network.Graph, error) {
	return network.Build(ds.Comparisons,
		network.WithTreatments(ds.Treatments...),
		network.WithMinVariance(s.MinVariance))
}

// Geometry runs only the geometry analysis
func (r *Runner) Geometry(ds *model.Dataset) (*model.GeometryReport, error) {
	s := r.Settings()
	g, err := BuildNetwork(ds, s)
	if err != nil {
		return nil, err
	}
	return geometry.Analyze(g, s.Geometry), nil
}

// Consistency runs only the consistency checks
func (r *Runner) Consistency(ds *model.Dataset) (*model.ConsistencyReport, error) {
	s := r.Settings()
	g, err := BuildNetwork(ds, s)
	if err != nil {
		return nil, err
	}
	return consistency.Analyze(g, s.Consistency), nil
}

// Pooling runs only the fixed-effect pooling
func (r *Runner) Pooling(ds *model.Dataset) (*model.PoolingReport, error) {
	s := r.Settings()
	g, err := BuildNetwork(ds, s)
	if err != nil {
		return nil, err
	}
	return pooling.Estimate(g, pooling.Options{Reference: s.Reference})
}

// Ranking ranks the dataset's relative effects, pooling them from the
// comparisons when none are given
func (r *Runner) Ranking(ds *model.Dataset) (*model.RankingReport, error) {
	s := r.Settings()
	var pooled *model.PoolingReport
	if len(ds.RelativeEffects) == 0 {
		p, err := r.Pooling(ds)
		if err != nil {
			return nil, fmt.Errorf("pool relative effects: %w", err)
		}
		pooled = p
	}
	return ranking.Rank(rankingInput(ds, pooled), rankingOptions(s, ds))
}

func rankingInput(ds *model.Dataset, pooled *model.PoolingReport) []model.RelativeEffect {
	if len(ds.RelativeEffects) > 0 {
		return ds.RelativeEffects
	}
	if pooled != nil {
		return pooled.Effects
	}
	return nil
}

func rankingOptions(s Settings, ds *model.Dataset) ranking.Options {
	opts := s.Ranking
	if ds.HigherIsBetter != nil {
		opts.HigherIsBetter = *ds.HigherIsBetter
	}
	return opts
}

func countWarnings(r *model.AnalysisReport) int {
	n := len(r.Warnings)
	if r.Geometry != nil {
		n += len(r.Geometry.Warnings)
	}
	if r.Consistency != nil {
		n += len(r.Consistency.Warnings)
	}
	if r.Pooling != nil {
		n += len(r.Pooling.Warnings)
	}
	if r.Ranking != nil {
		n += len(r.Ranking.Warnings)
	}
	return n
}

func (r *Runner) publishStatus(runID, state, message string, step int) {
	if r.publisher == nil {
		return
	}
	err := r.publisher.Publish(pubsub.TopicAnalysisStatus, state, pubsub.AnalysisStatus{
		RunID:   runID,
		State:   state,
		Message: message,
		Step:    step,
		Total:   totalSteps,
	})
	if err != nil {
		log.Debug("status not published", "state", state, "error", err)
	}
}

func (r *Runner) publishReport(report *model.AnalysisReport) {
	if r.publisher == nil {
		return
	}
	summary := pubsub.ReportSummary{
		RunID:                 report.RunID,
		Treatments:            report.Geometry.NumTreatments,
		Comparisons:           report.Geometry.NumComparisons,
		GeometryQuality:       string(report.Geometry.GeometryQuality),
		ConsistencyAssessed:   report.Consistency.Assessed,
		InconsistencySeverity: string(report.Consistency.Severity),
		Warnings:              countWarnings(report),
	}
	if report.Ranking != nil {
		summary.BestTreatment = report.Ranking.BestTreatment
	}
	if err := r.publisher.Publish(pubsub.TopicAnalysisReport, "report_ready", summary); err != nil {
		log.Debug("report not published", "runID", report.RunID, "error", err)
	}
}
