package loops

import (
	"github.com/ritzau/nma-engine/pkg/network"
)

// Triangle is a closed loop of three directly compared treatments, ordered by
// their position in the network
type Triangle struct {
	A, B, C string
}

// Treatments returns the triangle as an array
func (t Triangle) Treatments() [3]string {
	return [3]string{t.A, t.B, t.C}
}

// FindTriangles enumerates every unordered triangle exactly once. It walks the
// existing edges rather than all treatment triples: for each edge (u,v) with
// u before v it closes the loop through neighbours w that come after v.
func FindTriangles(g *network.Graph) []Triangle {
	triangles := make([]Triangle, 0)

	for _, u := range g.Treatments() {
		ui := g.Index(u)
		neighbors := g.Neighbors(u)
		for i, v := range neighbors {
			if g.Index(v) < ui {
				continue
			}
			for _, w := range neighbors[i+1:] {
				if g.HasEdge(v, w) {
					triangles = append(triangles, Triangle{A: u, B: v, C: w})
				}
			}
		}
	}

	return triangles
}

// IndependentLoops returns the dimension of the cycle space, the number of
// independent loops: edges - treatments + components
func IndependentLoops(g *network.Graph) int {
	return g.NumEdges() - g.NumTreatments() + len(g.Components())
}
