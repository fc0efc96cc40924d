package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

func node(id, label, name string) GraphNode {
	return GraphNode{ID: id, Label: label, Properties: map[string]any{"name": name}}
}

func edge(src, tgt, typ string) GraphEdge {
	return GraphEdge{Source: src, Target: tgt, Type: typ}
}

// seedCells commits two production cells: Line 5 with a press, a welder
// and an operator, and Line 6 with a lathe.
func seedCells(t *testing.T, g *Graphiti) {
	t.Helper()
	_, err := g.BuildGraph(context.Background(), BuildGraphInput{
		EpisodeName: "Plant layout",
		Nodes: []GraphNode{
			node("l5", "Line", "Line 5"),
			node("l6", "Line", "Line 6"),
			node("p7", "Machine", "Press 7"),
			node("w9", "Machine", "Welder 9"),
			node("la", "Machine", "Lathe 1"),
			node("op", "Operator", "Dana"),
		},
		Edges: []GraphEdge{
			edge("p7", "l5", "INSTALLED_IN"),
			edge("w9", "l5", "INSTALLED_IN"),
			edge("op", "p7", "OPERATES"),
			edge("la", "l6", "INSTALLED_IN"),
		},
	}, false)
	require.NoError(t, err)
}

func names(c model.Cluster) []string {
	out := make([]string, len(c.Entities))
	for i, e := range c.Entities {
		out[i] = e.Name
	}
	return out
}

func TestClusters_Components(t *testing.T) {
	g := newTestGraphiti(t, nil, nil, nil, nil)
	seedCells(t, g)
	ctx := context.Background()

	clusters, err := g.Clusters(ctx, ClusterQuery{Text: "line", Algorithm: "components"})
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, []string{"Dana", "Line 5", "Press 7", "Welder 9"}, names(clusters[0]))
	assert.Equal(t, 3, clusters[0].FactCount)
	assert.Equal(t, []string{"Lathe 1", "Line 6"}, names(clusters[1]))
	assert.Equal(t, 1, clusters[1].FactCount)
}

func TestClusters_DepthBoundsTheWalk(t *testing.T) {
	g := newTestGraphiti(t, nil, nil, nil, nil)
	seedCells(t, g)
	ctx := context.Background()

	clusters, err := g.Clusters(ctx, ClusterQuery{Text: "Dana", Depth: 1, Algorithm: "components"})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"Dana", "Press 7"}, names(clusters[0]))

	clusters, err = g.Clusters(ctx, ClusterQuery{Text: "Dana", Depth: 2, Algorithm: "components"})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"Dana", "Line 5", "Press 7"}, names(clusters[0]))
	assert.Equal(t, 2, clusters[0].FactCount)
}

func TestClusters_LabelPropagationDefault(t *testing.T) {
	g := newTestGraphiti(t, nil, nil, nil, nil)
	seedCells(t, g)

	clusters, err := g.Clusters(context.Background(), ClusterQuery{Text: "lathe"})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"Lathe 1", "Line 6"}, names(clusters[0]))
}

func TestClusters_Invalid(t *testing.T) {
	g := newTestGraphiti(t, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := g.Clusters(ctx, ClusterQuery{Text: "  "})
	require.Error(t, err)
	assert.True(t, kgerr.IsValidation(err))

	_, err = g.Clusters(ctx, ClusterQuery{Text: "press", Algorithm: "louvain"})
	require.Error(t, err)
	assert.True(t, kgerr.IsValidation(err))

	clusters, err := g.Clusters(ctx, ClusterQuery{Text: "press"})
	require.NoError(t, err)
	assert.Empty(t, clusters)
}
