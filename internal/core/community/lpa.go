package community

import (
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
)

const DefaultMaxIterations = 20

// LabelPropagationDetector finds densely linked groups by label propagation.
// Nodes are visited in UUID order and a node keeps its label on a tie it is
// part of, otherwise it takes the greatest tied label, so a given graph
// always yields the same clusters.
type LabelPropagationDetector struct {
	MaxIterations int
}

func NewLabelPropagationDetector() *LabelPropagationDetector {
	return &LabelPropagationDetector{MaxIterations: DefaultMaxIterations}
}

func (d *LabelPropagationDetector) Detect(nodes []model.EntityNode, edges []model.EntityEdge) [][]model.EntityNode {
	g := newGraph(nodes, edges)
	if len(g.ids) == 0 {
		return nil
	}

	labels := make(map[string]string, len(g.ids))
	for _, id := range g.ids {
		labels[id] = id
	}

	for iter := 0; iter < d.MaxIterations; iter++ {
		changed := 0
		for _, u := range g.ids {
			neighbours := g.adj[u]
			if len(neighbours) == 0 {
				continue
			}

			weights := make(map[string]int)
			top := 0
			for v, w := range neighbours {
				l := labels[v]
				weights[l] += w
				top = max(top, weights[l])
			}
			if weights[labels[u]] == top {
				continue
			}

			best := ""
			for l, w := range weights {
				if w == top && l > best {
					best = l
				}
			}
			labels[u] = best
			changed++
		}
		if changed == 0 {
			break
		}
	}

	groups := make(map[string][]string)
	for _, id := range g.ids {
		groups[labels[id]] = append(groups[labels[id]], id)
	}
	return g.clusters(groups)
}
