package model

import "math"

// Comparison is one study's head-to-head result between two treatments.
// EffectEstimate is the relative effect of TreatmentB versus TreatmentA on the
// dataset's additive scale (log odds ratio, mean difference, ...).
type Comparison struct {
	TreatmentA     string  `json:"treatment_a" toml:"treatment_a" yaml:"treatment_a"`
	TreatmentB     string  `json:"treatment_b" toml:"treatment_b" yaml:"treatment_b"`
	EffectEstimate float64 `json:"effect_estimate" toml:"effect_estimate" yaml:"effect_estimate"`
	StandardError  float64 `json:"standard_error" toml:"standard_error" yaml:"standard_error"`
	StudyID        string  `json:"study_id" toml:"study_id" yaml:"study_id"`
}

// Variance returns the squared standard error
func (c Comparison) Variance() float64 {
	return c.StandardError * c.StandardError
}

// Involves returns true if the comparison has the given treatment as one of its arms
func (c Comparison) Involves(treatment string) bool {
	return c.TreatmentA == treatment || c.TreatmentB == treatment
}

// RelativeEffect is a pooled effect of one treatment versus a common reference.
// The reference itself carries Mean 0 and SE 0.
type RelativeEffect struct {
	Treatment string  `json:"treatment" toml:"treatment" yaml:"treatment"`
	Mean      float64 `json:"mean" toml:"mean" yaml:"mean"`
	SE        float64 `json:"se" toml:"se" yaml:"se"`
}

// Dataset is the complete input to an analysis run
type Dataset struct {
	// Treatments optionally declares arms up front, including arms without data
	Treatments      []string         `json:"treatments,omitempty" toml:"treatments" yaml:"treatments"`
	Comparisons     []Comparison     `json:"comparisons" toml:"comparisons" yaml:"comparisons"`
	Scale           string           `json:"scale,omitempty" toml:"scale" yaml:"scale"`
	HigherIsBetter  *bool            `json:"higher_is_better,omitempty" toml:"higher_is_better" yaml:"higher_is_better"`
	RelativeEffects []RelativeEffect `json:"relative_effects,omitempty" toml:"relative_effects" yaml:"relative_effects"`
}

// Estimate is an effect with its variance on the additive scale
type Estimate struct {
	Effect   float64 `json:"effect"`
	Variance float64 `json:"variance"`
	Studies  int     `json:"studies"`
}

// SE returns the standard error of the estimate
func (e Estimate) SE() float64 {
	if e.Variance <= 0 {
		return 0
	}
	return math.Sqrt(e.Variance)
}

// Reverse flips the direction of the estimate (A→B becomes B→A)
func (e Estimate) Reverse() Estimate {
	return Estimate{Effect: -e.Effect, Variance: e.Variance, Studies: e.Studies}
}

// Severity grades a detected inconsistency
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

func (s Severity) rank() int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	default:
		return 0
	}
}

// Max returns the more severe of the two
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}
	if s == "" {
		return SeverityNone
	}
	return s
}

// GeometryQuality is the categorical summary of a network's shape
type GeometryQuality string

const (
	QualityExcellent GeometryQuality = "excellent"
	QualityGood      GeometryQuality = "good"
	QualityFair      GeometryQuality = "fair"
	QualityPoor      GeometryQuality = "poor"
)

// WarningKind classifies a non-fatal problem
type WarningKind string

const (
	KindDataQuality WarningKind = "data_quality"
	KindMethod      WarningKind = "method"
	KindUncertainty WarningKind = "uncertainty"
)

// Warning codes
const (
	CodeZeroVariance      = "zero_variance"
	CodeInvalidVariance   = "invalid_variance"
	CodeInvalidEffect     = "invalid_effect"
	CodeMissingStudyID    = "missing_study_id"
	CodeDisconnected      = "disconnected_components"
	CodeMultiArm          = "multi_arm_independence"
	CodeStarShaped        = "star_shaped"
	CodeIsolated          = "isolated_treatments"
	CodeUntestableLoop    = "untestable_loop"
	CodeUntestableSplit   = "untestable_node_split"
	CodeExcludedTreatment = "excluded_treatment"
	CodeUncertainRanking  = "uncertain_ranking"
	CodeSimulationError   = "simulation_divergence"
	CodePoolingFailed     = "pooling_failed"
)

// Warning is a data-quality or method issue absorbed by an analysis
type Warning struct {
	Kind       WarningKind `json:"kind"`
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	StudyID    string      `json:"study_id,omitempty"`
	Treatments []string    `json:"treatments,omitempty"`
}

// Notice marks a property that was not assessed, which is distinct from
// assessing it and finding nothing wrong
type Notice struct {
	Property string `json:"property"`
	Reason   string `json:"reason"`
}
