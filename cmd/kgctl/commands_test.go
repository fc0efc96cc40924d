package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

const graphJSON = `{
	"episode_name": "Line 3 layout",
	"source_description": "plant survey",
	"nodes": [
		{"id": "m", "label": "Machine", "properties": {"name": "Welder 9"}},
		{"id": "l", "label": "Line", "properties": {"name": "Line 3"}}
	],
	"edges": [
		{"source": "m", "target": "l", "type": "INSTALLED_IN",
		 "properties": {"fact": "Welder 9 is installed in Line 3"}}
	]
}`

// run executes kgctl against a throwaway SQLite graph with no language model.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(append([]string{"--backend", "sqlite", "--sqlite-path", dbPath, "--llm-provider", "none"}, args...))
	err := root.Execute()
	return buf.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.toml"))
	return filepath.Join(dir, "graph.db")
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	return m
}

func TestRootCommand_Help(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	require.NoError(t, root.Execute())
	for _, want := range []string{"ingest", "build", "search", "clusters", "stats", "episodes", "delete", "--backend", "--sqlite-path"} {
		assert.Contains(t, buf.String(), want)
	}
}

func TestBuildSearchDelete(t *testing.T) {
	db := isolate(t)
	graphFile := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(graphFile, []byte(graphJSON), 0o600))

	out, err := run(t, db, "build", "--file", graphFile)
	require.NoError(t, err)
	built := decode(t, out)
	assert.Equal(t, "success", built["status"])
	id := built["episode_uuid"].(string)
	require.NotEmpty(t, id)

	out, err = run(t, db, "build", "--file", graphFile)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", decode(t, out)["status"])

	out, err = run(t, db, "stats")
	require.NoError(t, err)
	stats := decode(t, out)
	assert.EqualValues(t, 1, stats["episodes_count"])
	assert.EqualValues(t, 2, stats["entities_count"])
	assert.EqualValues(t, 1, stats["live_relationships_count"])

	out, err = run(t, db, "search", "welder", "in", "line", "3", "--limit", "3")
	require.NoError(t, err)
	found := decode(t, out)
	assert.EqualValues(t, 1, found["count"])
	assert.Equal(t, "welder in line 3", found["query"])

	out, err = run(t, db, "clusters", "welder", "--algorithm", "components")
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, out)["count"])

	out, err = run(t, db, "episodes")
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, out)["count"])

	out, err = run(t, db, "episodes", id)
	require.NoError(t, err)
	assert.Equal(t, "Line 3 layout", decode(t, out)["name"])

	out, err = run(t, db, "delete", id)
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, out)["deleted"])

	_, err = run(t, db, "episodes", id)
	require.Error(t, err)
	assert.True(t, kgerr.IsNotFound(err))
}

func TestIngest_RequiresModel(t *testing.T) {
	db := isolate(t)
	_, err := run(t, db, "ingest", "--name", "Shift 1", "--body", "Operator Dana ran Lathe 1")
	require.Error(t, err)
	assert.Equal(t, kgerr.CodeExtractionUpstream, kgerr.CodeOf(err))

	_, err = run(t, db, "ingest", "--name", "Shift 1", "--body", "x", "--file", "episode.txt")
	require.Error(t, err)
	assert.True(t, kgerr.IsValidation(err))
}

func TestSearch_BadAsOf(t *testing.T) {
	db := isolate(t)
	_, err := run(t, db, "search", "lathe", "--as-of", "yesterday")
	require.Error(t, err)
	assert.True(t, kgerr.IsValidation(err))
}

func TestInvalidBackend(t *testing.T) {
	isolate(t)
	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"--backend", "rocksdb", "stats"})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, kgerr.IsValidation(err))
}

func TestBackendFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("KG_BACKEND", "rocksdb")
	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"stats"})
	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, kgerr.CodeConfigValidateInvalidValue, kgerr.CodeOf(err))
}
