package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestParseJSON(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		got, err := ParseJSON[payload](`{"name":"press","count":2}`)
		require.NoError(t, err)
		assert.Equal(t, payload{Name: "press", Count: 2}, got)
	})

	t.Run("markdown fenced", func(t *testing.T) {
		got, err := ParseJSON[payload]("Here you go:\n```json\n{\"name\":\"lathe\",\"count\":1}\n```")
		require.NoError(t, err)
		assert.Equal(t, "lathe", got.Name)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := ParseJSON[payload]("invalid json")
		assert.Error(t, err)
	})
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "machine x", NormalizeName("  Machine   X "))
	assert.Equal(t, "line 5", NormalizeName("LINE\t5"))
	assert.Equal(t, NormalizeName("Straße"), NormalizeName("STRASSE"))
}

func TestNormalizeFact(t *testing.T) {
	assert.Equal(t, "machine x is installed in line 5", NormalizeFact("Machine X is installed  in Line 5."))
	assert.Equal(t, NormalizeFact("Uses coolant A!"), NormalizeFact("uses coolant a"))
}

func TestRelationType(t *testing.T) {
	assert.Equal(t, "INSTALLED_IN", RelationType("installed in"))
	assert.Equal(t, "INSTALLED_IN", RelationType("Installed-In"))
	assert.Equal(t, "COMPATIBLE_WITH", RelationType(" COMPATIBLE_WITH "))
	assert.Equal(t, "", RelationType("  --  "))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"machine", "line", "5"}, Tokenize("machines in Line 5"))
	assert.Equal(t, []string{"press", "status", "battery"}, Tokenize("the press status: batteries"))
	assert.Empty(t, Tokenize("in the of"))
}

func TestTokenSet(t *testing.T) {
	assert.Equal(t, []string{"machine", "x", "line", "5"}, TokenSet("Machine X", "machine in line 5"))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestIsScalar(t *testing.T) {
	assert.True(t, IsScalar("x"))
	assert.True(t, IsScalar(3.5))
	assert.True(t, IsScalar(nil))
	assert.True(t, IsScalar(true))
	assert.False(t, IsScalar(map[string]any{}))
	assert.False(t, IsScalar([]any{1}))
}
