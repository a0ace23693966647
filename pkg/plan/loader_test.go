package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlPlan = `
id: site-build
goal: build a landing page
strategy:
  default: auto
  deploy: powerful
checkpoints: [1]
phases:
  - id: research
    parallel: true
    timeout_ms: 60000
    steps:
      - id: gather
        action: echo
        params:
          message: hello
      - id: outline
        action: echo
        priority: high
        fallback:
          type: skip
          max_attempts: 2
          backoff_ms: 100
  - id: deploy
    depends_on: [research]
    steps:
      - id: ship
        action: deploy
        max_retries: 2
        fallback:
          type: human
`

func TestLoader_ParseYAML(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	p, err := l.Parse([]byte(yamlPlan), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "site-build", p.ID)
	assert.Equal(t, "powerful", p.Strategy["deploy"])
	require.Len(t, p.Phases, 2)
	assert.True(t, p.Phases[0].Parallel)
	assert.Equal(t, int64(60000), p.Phases[0].TimeoutMs)
	assert.Equal(t, "hello", p.Phases[0].Steps[0].Params["message"])
	assert.Equal(t, FallbackSkip, p.Phases[0].Steps[1].Fallback.Type)
	assert.Equal(t, int64(100), p.Phases[0].Steps[1].Fallback.BackoffMs)
	assert.Equal(t, []string{"research"}, p.Phases[1].DependsOn)
	assert.Equal(t, FallbackHuman, p.Phases[1].Steps[0].Fallback.Kind())
	assert.Equal(t, []int{1}, p.Checkpoints)
}

func TestLoader_ParseJSONAssignsID(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	p, err := l.Parse([]byte(`{"phases":[{"id":"p1","steps":[{"id":"s1","action":"echo"}]}]}`), "json")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
}

func TestLoader_SchemaViolation(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	_, err := l.Parse([]byte(`{"phases":[{"id":"p1","steps":[{"id":"s1"}]}]}`), "json")
	assert.ErrorIs(t, err, ErrSchemaViolation)

	_, err = l.Parse([]byte(`{"phases":[],"strategy":{"default":"gigantic"}}`), "json")
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestLoader_StructuralViolation(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	doc := `{"phases":[{"id":"p1","depends_on":["p9"],"steps":[{"id":"s1","action":"echo"}]}]}`
	_, err := l.Parse([]byte(doc), "json")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestLoader_UnsupportedFormat(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	_, err := l.Parse([]byte(`phases = []`), "toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlPlan), 0644))

	l := NewLoader(zerolog.Nop())
	p, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "site-build", p.ID)

	_, err = l.LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = l.LoadFile("")
	assert.Error(t, err)
}
