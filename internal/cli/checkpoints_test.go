package cli

import (
	"encoding/json"
	"testing"

	"github.com/harun/orchestra/pkg/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointsCommand(t *testing.T) {
	dir, cfg := testEnv(t)
	planPath := writePlan(t, dir, "plan.yaml", testPlan)

	out, err := execute(t, "--config", cfg, "checkpoints", "cli-plan")
	require.NoError(t, err)
	assert.Contains(t, out, "No checkpoints stored for plan cli-plan")

	_, err = execute(t, "--config", cfg, "run", planPath)
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "checkpoints", "cli-plan")
	require.NoError(t, err)
	assert.Contains(t, out, "CHECKPOINT")
	assert.Contains(t, out, "0:build")

	out, err = execute(t, "--config", cfg, "checkpoints", "--json", "cli-plan")
	require.NoError(t, err)

	var recs []checkpoint.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "cli-plan", recs[0].PlanID)
	assert.Equal(t, []string{"compile"}, recs[0].Checkpoint.CompletedSteps)

	out, err = execute(t, "--config", cfg, "checkpoints", "--clear", "cli-plan")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 checkpoints of plan cli-plan")

	out, err = execute(t, "--config", cfg, "checkpoints", "--json", "cli-plan")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "1b4e28ba", shortID("1b4e28ba-2fa1-11d2-883f-0016d3cca427"))
	assert.Equal(t, "plain", shortID("plain"))
}
