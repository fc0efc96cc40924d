package community

import (
	"fmt"
	"sort"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
)

const (
	AlgorithmLabelPropagation = "lpa"
	AlgorithmComponents       = "components"
)

// Detector groups entities into clusters using the facts between them.
// Clusters have at least two members, members are ordered by name and
// clusters by size, largest first.
type Detector interface {
	Detect(nodes []model.EntityNode, edges []model.EntityEdge) [][]model.EntityNode
}

// New returns the detector for algorithm. An empty name selects label
// propagation.
func New(algorithm string, maxIterations int) (Detector, error) {
	switch algorithm {
	case "", AlgorithmLabelPropagation:
		d := NewLabelPropagationDetector()
		if maxIterations > 0 {
			d.MaxIterations = maxIterations
		}
		return d, nil
	case AlgorithmComponents:
		return ComponentDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown clustering algorithm %q", algorithm)
	}
}

// ComponentDetector returns the connected components of the fact graph.
type ComponentDetector struct{}

func (ComponentDetector) Detect(nodes []model.EntityNode, edges []model.EntityEdge) [][]model.EntityNode {
	g := newGraph(nodes, edges)

	visited := make(map[string]bool, len(g.ids))
	groups := make(map[string][]string)
	for _, id := range g.ids {
		if visited[id] {
			continue
		}
		stack := []string{id}
		visited[id] = true
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			groups[id] = append(groups[id], u)
			for _, v := range g.neighbours(u) {
				if !visited[v] {
					visited[v] = true
					stack = append(stack, v)
				}
			}
		}
	}
	return g.clusters(groups)
}

// graph is an undirected multigraph over the given nodes. Parallel facts
// strengthen the link between two entities; self loops are ignored.
type graph struct {
	ids   []string
	nodes map[string]model.EntityNode
	adj   map[string]map[string]int
}

func newGraph(nodes []model.EntityNode, edges []model.EntityEdge) *graph {
	g := &graph{
		nodes: make(map[string]model.EntityNode, len(nodes)),
		adj:   make(map[string]map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := g.nodes[n.UUID]; dup {
			continue
		}
		g.nodes[n.UUID] = n
		g.adj[n.UUID] = make(map[string]int)
		g.ids = append(g.ids, n.UUID)
	}
	sort.Strings(g.ids)

	for _, e := range edges {
		if e.SourceUUID == e.TargetUUID {
			continue
		}
		if _, ok := g.nodes[e.SourceUUID]; !ok {
			continue
		}
		if _, ok := g.nodes[e.TargetUUID]; !ok {
			continue
		}
		g.adj[e.SourceUUID][e.TargetUUID]++
		g.adj[e.TargetUUID][e.SourceUUID]++
	}
	return g
}

func (g *graph) neighbours(u string) []string {
	out := make([]string, 0, len(g.adj[u]))
	for v := range g.adj[u] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (g *graph) clusters(groups map[string][]string) [][]model.EntityNode {
	var out [][]model.EntityNode
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		members := make([]model.EntityNode, 0, len(ids))
		for _, id := range ids {
			members = append(members, g.nodes[id])
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].Name != members[j].Name {
				return members[i].Name < members[j].Name
			}
			return members[i].UUID < members[j].UUID
		})
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0].UUID < out[j][0].UUID
	})
	return out
}
