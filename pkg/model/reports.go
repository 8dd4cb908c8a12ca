package model

import "time"

// DegreeSummary describes the spread of treatment degrees
type DegreeSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
}

// GeometryReport describes the structure of the comparison graph
type GeometryReport struct {
	NumTreatments      int             `json:"num_treatments"`
	NumComparisons     int             `json:"num_comparisons"`
	NumEdges           int             `json:"num_edges"`
	NumStudies         int             `json:"num_studies"`
	IsConnected        bool            `json:"is_connected"`
	Components         [][]string      `json:"components"`
	IsStarShaped       bool            `json:"is_star_shaped"`
	Hub                string          `json:"hub,omitempty"`
	HasMultiArmTrials  bool            `json:"has_multi_arm_trials"`
	MultiArmStudies    []string        `json:"multi_arm_studies"`
	IsolatedTreatments []string        `json:"isolated_treatments"`
	NetworkDensity     float64         `json:"network_density"`
	TreatmentDegrees   map[string]int  `json:"treatment_degrees"`
	DegreeSummary      DegreeSummary   `json:"degree_summary"`
	GeometryQuality    GeometryQuality `json:"geometry_quality"`
	Recommendations    []string        `json:"recommendations"`
	Warnings           []Warning       `json:"warnings"`
}

// LoopResult is the closed-triangle inconsistency test for one loop
type LoopResult struct {
	Treatments          [3]string `json:"treatments"`
	InconsistencyFactor float64   `json:"inconsistency_factor"`
	SE                  float64   `json:"se"`
	ZScore              float64   `json:"z_score"`
	PValue              float64   `json:"p_value"`
	Severity            Severity  `json:"severity"`
	Tested              bool      `json:"tested"`
}

// NodeSplitResult compares direct and indirect evidence for one edge
type NodeSplitResult struct {
	TreatmentA    string   `json:"treatment_a"`
	TreatmentB    string   `json:"treatment_b"`
	Direct        float64  `json:"direct"`
	DirectSE      float64  `json:"direct_se"`
	Indirect      float64  `json:"indirect"`
	IndirectSE    float64  `json:"indirect_se"`
	IndirectPaths []string `json:"indirect_paths"`
	Difference    float64  `json:"difference"`
	SE            float64  `json:"se"`
	ZScore        float64  `json:"z_score"`
	PValue        float64  `json:"p_value"`
	Severity      Severity `json:"severity"`
	Tested        bool     `json:"tested"`
}

// GlobalTest aggregates loop evidence into a single chi-square test
type GlobalTest struct {
	ChiSquare      float64 `json:"chi_square"`
	DF             int     `json:"df"`
	PValue         float64 `json:"p_value"`
	IsInconsistent bool    `json:"is_inconsistent"`
	LoopsTested    int     `json:"loops_tested"`
}

// ConsistencyReport describes agreement between direct and indirect evidence.
// Assessed is false when the network has no testable loops; in that case
// consistency is unknown rather than confirmed.
type ConsistencyReport struct {
	Assessed              bool              `json:"assessed"`
	Loops                 []LoopResult      `json:"loops"`
	NumLoops              int               `json:"num_loops"`
	NumInconsistentLoops  int               `json:"num_inconsistent_loops"`
	IndependentLoops      int               `json:"independent_loops"`
	NodeSplits            []NodeSplitResult `json:"node_splits"`
	GlobalTest            *GlobalTest       `json:"global_test"`
	Severity              Severity          `json:"severity"`
	InconsistencyDetected bool              `json:"inconsistency_detected"`
	Recommendations       []string          `json:"recommendations"`
	Warnings              []Warning         `json:"warnings"`
	Notices               []Notice          `json:"notices"`
}

// PairwiseEstimate is one cell of a league table
type PairwiseEstimate struct {
	TreatmentA string  `json:"treatment_a"`
	TreatmentB string  `json:"treatment_b"`
	Mean       float64 `json:"mean"`
	SE         float64 `json:"se"`
}

// PoolingReport holds fixed-effect network estimates versus a reference
type PoolingReport struct {
	Reference       string             `json:"reference"`
	Effects         []RelativeEffect   `json:"effects"`
	League          []PairwiseEstimate `json:"league"`
	Q               float64            `json:"q"`
	DF              int                `json:"df"`
	PValue          float64            `json:"p_value"`
	ComparisonsUsed int                `json:"comparisons_used"`
	Warnings        []Warning          `json:"warnings"`
}

// TreatmentRanking holds the rank statistics of one treatment
type TreatmentRanking struct {
	Treatment         string    `json:"treatment"`
	SUCRA             float64   `json:"sucra"`
	PScore            float64   `json:"p_score"`
	ProbBest          float64   `json:"prob_best"`
	MeanRank          float64   `json:"mean_rank"`
	MedianRank        int       `json:"median_rank"`
	RankProbabilities []float64 `json:"rank_probabilities"`
}

// RankingReport holds per-treatment rankings sorted by SUCRA
type RankingReport struct {
	Rankings        []TreatmentRanking `json:"rankings"`
	BestTreatment   string             `json:"best_treatment"`
	WorstTreatment  string             `json:"worst_treatment"`
	HigherIsBetter  bool               `json:"higher_is_better"`
	Iterations      int                `json:"iterations"`
	Seed            uint64             `json:"seed"`
	Interpretation  string             `json:"interpretation"`
	Recommendations []string           `json:"recommendations"`
	Warnings        []Warning          `json:"warnings"`
}

// AnalysisReport bundles all reports of one run
type AnalysisReport struct {
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Scale       string             `json:"scale,omitempty"`
	Geometry    *GeometryReport    `json:"geometry"`
	Consistency *ConsistencyReport `json:"consistency"`
	Pooling     *PoolingReport     `json:"pooling,omitempty"`
	Ranking     *RankingReport     `json:"ranking,omitempty"`
	Warnings    []Warning          `json:"warnings"`
	Notices     []Notice           `json:"notices"`
}
