// Package network builds the comparison graph shared by every analyzer.
//
// A Graph is constructed once from a flat list of comparisons and never
// mutated afterwards. Treatments get int64 node IDs in insertion order, so
// sorting anything by node ID reproduces input order and keeps reports
// deterministic across runs.
package network

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/stattest"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Edge is a distinct treatment pair with every comparison that informs it.
// A and B follow the orientation of the first comparison seen for the pair.
type Edge struct {
	A           string
	B           string
	Comparisons []int // indexes into Graph.Comparisons()
}

// Study groups the comparisons reported by one study ID
type Study struct {
	ID          string
	Treatments  []string
	Comparisons []int
}

// IsMultiArm returns true if the study reports three or more treatments. The
// arms need not all be compared with each other: trials usually report only
// the contrasts against a control arm.
func (s Study) IsMultiArm() bool {
	return len(s.Treatments) >= 3
}

type pairKey [2]int64

func keyOf(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Graph is the read-only comparison network
type Graph struct {
	g           *simple.UndirectedGraph
	treatments  []string
	ids         map[string]int64
	comparisons []model.Comparison
	edges       []Edge
	edgeIndex   map[pairKey]int
	studies     []Study
	components  [][]string
	warnings    []model.Warning
	minVariance float64
}

type buildOptions struct {
	treatments  []string
	minVariance float64
}

// Option customises Build
type Option func(*buildOptions)

// WithTreatments declares treatments ahead of the comparisons. Declared
// treatments without comparisons become isolated nodes.
func WithTreatments(names ...string) Option {
	return func(o *buildOptions) {
		o.treatments = append(o.treatments, names...)
	}
}

// WithMinVariance sets the variance below which a comparison is excluded from
// weighted statistics
func WithMinVariance(v float64) Option {
	return func(o *buildOptions) {
		o.minVariance = v
	}
}

// Build constructs a Graph from comparisons. It fails with an
// InvalidNetworkError when the input is empty, malformed, or names fewer than
// two treatments.
func Build(comparisons []model.Comparison, opts ...Option) (*Graph, error) {
	o := buildOptions{minVariance: stattest.DefaultMinVariance}
	for _, opt := range opts {
		opt(&o)
	}

	if len(comparisons) == 0 {
		return nil, model.NewInvalidNetworkError("comparison list is empty")
	}

	ng := &Graph{
		g:           simple.NewUndirectedGraph(),
		ids:         make(map[string]int64),
		comparisons: slices.Clone(comparisons),
		edgeIndex:   make(map[pairKey]int),
		minVariance: o.minVariance,
	}

	for _, name := range o.treatments {
		if strings.TrimSpace(name) == "" {
			return nil, model.NewInvalidNetworkError("declared treatment name is empty")
		}
		ng.addTreatment(name)
	}

	studyIndex := make(map[string]int)
	for i, c := range ng.comparisons {
		if strings.TrimSpace(c.TreatmentA) == "" || strings.TrimSpace(c.TreatmentB) == "" {
			return nil, model.NewInvalidNetworkError("comparison %d has an empty treatment name", i)
		}
		if c.TreatmentA == c.TreatmentB {
			return nil, model.NewInvalidNetworkError("comparison %d compares %q with itself", i, c.TreatmentA)
		}

		a := ng.addTreatment(c.TreatmentA)
		b := ng.addTreatment(c.TreatmentB)

		key := keyOf(a, b)
		idx, exists := ng.edgeIndex[key]
		if !exists {
			ng.g.SetEdge(ng.g.NewEdge(ng.g.Node(a), ng.g.Node(b)))
			idx = len(ng.edges)
			ng.edgeIndex[key] = idx
			ng.edges = append(ng.edges, Edge{A: c.TreatmentA, B: c.TreatmentB})
		}
		ng.edges[idx].Comparisons = append(ng.edges[idx].Comparisons, i)

		ng.checkComparison(i, c)

		if c.StudyID == "" {
			continue
		}
		si, seen := studyIndex[c.StudyID]
		if !seen {
			si = len(ng.studies)
			studyIndex[c.StudyID] = si
			ng.studies = append(ng.studies, Study{ID: c.StudyID})
		}
		st := &ng.studies[si]
		st.Comparisons = append(st.Comparisons, i)
		for _, t := range []string{c.TreatmentA, c.TreatmentB} {
			if !slices.Contains(st.Treatments, t) {
				st.Treatments = append(st.Treatments, t)
			}
		}
	}

	if len(ng.treatments) < 2 {
		return nil, model.NewInvalidNetworkError("network needs at least 2 treatments, got %d", len(ng.treatments))
	}

	ng.components = ng.connectedComponents()
	if len(ng.components) > 1 {
		ng.warnings = append(ng.warnings, model.Warning{
			Kind:    model.KindDataQuality,
			Code:    model.CodeDisconnected,
			Message: fmt.Sprintf("network splits into %d disconnected components", len(ng.components)),
		})
	}

	return ng, nil
}

func (ng *Graph) addTreatment(name string) int64 {
	if id, exists := ng.ids[name]; exists {
		return id
	}
	id := int64(len(ng.treatments))
	ng.ids[name] = id
	ng.treatments = append(ng.treatments, name)
	ng.g.AddNode(simple.Node(id))
	return id
}

func (ng *Graph) checkComparison(i int, c model.Comparison) {
	pair := []string{c.TreatmentA, c.TreatmentB}
	switch {
	case math.IsNaN(c.EffectEstimate) || math.IsInf(c.EffectEstimate, 0):
		ng.warnings = append(ng.warnings, model.Warning{
			Kind:       model.KindDataQuality,
			Code:       model.CodeInvalidEffect,
			Message:    fmt.Sprintf("comparison %d has a non-finite effect estimate and is excluded from weighted statistics", i),
			StudyID:    c.StudyID,
			Treatments: pair,
		})
	case math.IsNaN(c.StandardError) || math.IsInf(c.StandardError, 0) || c.StandardError < 0:
		ng.warnings = append(ng.warnings, model.Warning{
			Kind:       model.KindDataQuality,
			Code:       model.CodeInvalidVariance,
			Message:    fmt.Sprintf("comparison %d has an invalid standard error (%v) and is excluded from weighted statistics", i, c.StandardError),
			StudyID:    c.StudyID,
			Treatments: pair,
		})
	case c.Variance() <= ng.minVariance:
		ng.warnings = append(ng.warnings, model.Warning{
			Kind:       model.KindDataQuality,
			Code:       model.CodeZeroVariance,
			Message:    fmt.Sprintf("comparison %d reports a zero or near-zero standard error and is excluded from weighted statistics", i),
			StudyID:    c.StudyID,
			Treatments: pair,
		})
	}
	if c.StudyID == "" {
		ng.warnings = append(ng.warnings, model.Warning{
			Kind:       model.KindDataQuality,
			Code:       model.CodeMissingStudyID,
			Message:    fmt.Sprintf("comparison %d has no study id and cannot be checked for multi-arm membership", i),
			Treatments: pair,
		})
	}
}

// connectedComponents returns components ordered by their first treatment, each
// listing treatments in insertion order
func (ng *Graph) connectedComponents() [][]string {
	raw := topo.ConnectedComponents(ng.g)
	comps := make([][]int64, 0, len(raw))
	for _, nodes := range raw {
		ids := make([]int64, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.ID())
		}
		slices.Sort(ids)
		comps = append(comps, ids)
	}
	slices.SortFunc(comps, func(a, b []int64) int {
		return int(a[0] - b[0])
	})

	out := make([][]string, 0, len(comps))
	for _, ids := range comps {
		names := make([]string, 0, len(ids))
		for _, id := range ids {
			names = append(names, ng.treatments[id])
		}
		out = append(out, names)
	}
	return out
}

// Treatments returns all treatments in insertion order
func (ng *Graph) Treatments() []string {
	return slices.Clone(ng.treatments)
}

// NumTreatments returns the number of treatments
func (ng *Graph) NumTreatments() int {
	return len(ng.treatments)
}

// HasTreatment returns true if the treatment is part of the network
func (ng *Graph) HasTreatment(name string) bool {
	_, ok := ng.ids[name]
	return ok
}

// Index returns the insertion index of a treatment, or -1
func (ng *Graph) Index(name string) int {
	id, ok := ng.ids[name]
	if !ok {
		return -1
	}
	return int(id)
}

// Comparisons returns a copy of the input comparisons
func (ng *Graph) Comparisons() []model.Comparison {
	return slices.Clone(ng.comparisons)
}

// Edges returns the distinct treatment pairs in insertion order
func (ng *Graph) Edges() []Edge {
	out := make([]Edge, len(ng.edges))
	for i, e := range ng.edges {
		out[i] = Edge{A: e.A, B: e.B, Comparisons: slices.Clone(e.Comparisons)}
	}
	return out
}

// NumEdges returns the number of distinct compared pairs
func (ng *Graph) NumEdges() int {
	return len(ng.edges)
}

// HasEdge returns true if a and b are directly compared by at least one study
func (ng *Graph) HasEdge(a, b string) bool {
	ida, okA := ng.ids[a]
	idb, okB := ng.ids[b]
	if !okA || !okB || ida == idb {
		return false
	}
	return ng.g.HasEdgeBetween(ida, idb)
}

// EdgeBetween returns the edge joining a and b
func (ng *Graph) EdgeBetween(a, b string) (Edge, bool) {
	ida, okA := ng.ids[a]
	idb, okB := ng.ids[b]
	if !okA || !okB {
		return Edge{}, false
	}
	idx, ok := ng.edgeIndex[keyOf(ida, idb)]
	if !ok {
		return Edge{}, false
	}
	e := ng.edges[idx]
	return Edge{A: e.A, B: e.B, Comparisons: slices.Clone(e.Comparisons)}, true
}

// Neighbors returns the treatments directly compared with t, in insertion order
func (ng *Graph) Neighbors(t string) []string {
	id, ok := ng.ids[t]
	if !ok {
		return nil
	}
	nodes := graph.NodesOf(ng.g.From(id))
	ids := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID())
	}
	slices.Sort(ids)

	out := make([]string, 0, len(ids))
	for _, nid := range ids {
		out = append(out, ng.treatments[nid])
	}
	return out
}

// Degree returns the number of distinct treatments compared with t
func (ng *Graph) Degree(t string) int {
	id, ok := ng.ids[t]
	if !ok {
		return 0
	}
	return ng.g.From(id).Len()
}

// Degrees returns the degree of every treatment
func (ng *Graph) Degrees() map[string]int {
	out := make(map[string]int, len(ng.treatments))
	for _, t := range ng.treatments {
		out[t] = ng.Degree(t)
	}
	return out
}

// Components returns the connected components
func (ng *Graph) Components() [][]string {
	out := make([][]string, len(ng.components))
	for i, c := range ng.components {
		out[i] = slices.Clone(c)
	}
	return out
}

// IsConnected returns true if every treatment is reachable from every other
func (ng *Graph) IsConnected() bool {
	return len(ng.components) == 1
}

// Studies returns studies with an ID, in order of first appearance
func (ng *Graph) Studies() []Study {
	out := make([]Study, len(ng.studies))
	for i, s := range ng.studies {
		out[i] = Study{ID: s.ID, Treatments: slices.Clone(s.Treatments), Comparisons: slices.Clone(s.Comparisons)}
	}
	return out
}

// MinVariance returns the variance floor used for weighted statistics
func (ng *Graph) MinVariance() float64 {
	return ng.minVariance
}

// Warnings returns data-quality warnings found while building the graph. The
// result is never nil so reports serialise an empty list.
func (ng *Graph) Warnings() []model.Warning {
	return append(make([]model.Warning, 0, len(ng.warnings)), ng.warnings...)
}

// UsableComparison reports whether comparison i may enter weighted statistics
func (ng *Graph) UsableComparison(i int) bool {
	c := ng.comparisons[i]
	if math.IsNaN(c.EffectEstimate) || math.IsInf(c.EffectEstimate, 0) {
		return false
	}
	return stattest.ValidVariance(c.Variance(), ng.minVariance)
}

// DirectEstimate pools every usable comparison between a and b by inverse
// variance, oriented as the effect of b versus a. ok is false when the pair is
// not compared or no comparison has a usable variance.
func (ng *Graph) DirectEstimate(a, b string) (model.Estimate, bool) {
	e, ok := ng.EdgeBetween(a, b)
	if !ok {
		return model.Estimate{}, false
	}
	estimates := make([]model.Estimate, 0, len(e.Comparisons))
	for _, i := range e.Comparisons {
		if !ng.UsableComparison(i) {
			continue
		}
		c := ng.comparisons[i]
		est := model.Estimate{Effect: c.EffectEstimate, Variance: c.Variance(), Studies: 1}
		if c.TreatmentA != a {
			est = est.Reverse()
		}
		estimates = append(estimates, est)
	}
	return stattest.Pool(estimates, ng.minVariance)
}
