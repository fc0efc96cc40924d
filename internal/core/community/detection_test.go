package community

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponents(t *testing.T) {
	ns := nodes("1", "2", "3", "4")
	ns[0].Name, ns[1].Name, ns[2].Name = "Press 7", "Line 2", "Operator Dana"

	clusters := ComponentDetector{}.Detect(ns, link([2]string{"1", "2"}, [2]string{"2", "3"}))

	// 4 is isolated and left out
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"2", "3", "1"}, uuids(clusters[0]), "members are ordered by name")
}

func TestComponents_IgnoresUnknownEndpointsAndSelfLoops(t *testing.T) {
	clusters := ComponentDetector{}.Detect(
		nodes("1", "2", "3", "4"),
		link([2]string{"1", "2"}, [2]string{"3", "4"}, [2]string{"3", "3"}, [2]string{"4", "ghost"}),
	)
	require.Len(t, clusters, 2)
	assert.Equal(t, []string{"1", "2"}, uuids(clusters[0]))
	assert.Equal(t, []string{"3", "4"}, uuids(clusters[1]))
}

func TestNew(t *testing.T) {
	d, err := New("", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, d.(*LabelPropagationDetector).MaxIterations)

	d, err = New(AlgorithmComponents, 0)
	require.NoError(t, err)
	assert.IsType(t, ComponentDetector{}, d)

	_, err = New("louvain", 0)
	assert.Error(t, err)
}

func TestDetectorsAgreeOnSeparateGroups(t *testing.T) {
	ns := nodes("1", "2", "3", "4", "5")
	edges := link([2]string{"1", "2"}, [2]string{"2", "3"}, [2]string{"4", "5"})

	lpa := NewLabelPropagationDetector().Detect(ns, edges)
	cc := ComponentDetector{}.Detect(ns, edges)
	require.Len(t, cc, 2)
	require.Len(t, lpa, 2)
	assert.Equal(t, uuids(cc[0]), uuids(lpa[0]))
	assert.Equal(t, uuids(cc[1]), uuids(lpa[1]))
}

var _ Detector = (*LabelPropagationDetector)(nil)
var _ Detector = ComponentDetector{}
