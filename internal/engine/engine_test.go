package engine

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/orchestra/internal/config"
	"github.com/harun/orchestra/internal/logger"
	"github.com/harun/orchestra/pkg/actions"
	"github.com/harun/orchestra/pkg/eventstream"
	"github.com/harun/orchestra/pkg/plan"
	"github.com/harun/orchestra/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Checkpoints.DBPath = filepath.Join(dir, "checkpoints.db")
	cfg.Scheduler.PollInterval = time.Millisecond
	cfg.Scheduler.BackoffBase = time.Millisecond
	cfg.Logging.Level = "error"
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	e, err := New(cfg, log)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func echoStep(id string) plan.Step {
	return plan.Step{ID: id, Action: "echo", Params: map[string]interface{}{"message": id}, Fallback: plan.Retry(1, 0)}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.MinWorkers = 9
	cfg.Scheduler.MaxWorkers = 2

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	_, err = New(cfg, log)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestEngine_StartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	e, err := New(cfg, log)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	assert.ErrorIs(t, e.Start(), ErrAlreadyRunning)
	assert.True(t, e.Status().Running)

	addr := e.Addr("metrics")
	require.NotEmpty(t, addr)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get("http://" + addr + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	require.NoError(t, e.Stop())
	assert.ErrorIs(t, e.Stop(), ErrNotRunning)
	assert.False(t, e.Status().Running)
	assert.Empty(t, e.Addr("metrics"))
}

func TestEngine_CheckPlan(t *testing.T) {
	e := newTestEngine(t, testConfig(t))

	good := &plan.ExecutionPlan{
		ID:     "ok",
		Phases: []plan.Phase{{ID: "a", Steps: []plan.Step{echoStep("a1")}}},
	}
	assert.NoError(t, e.CheckPlan(good))

	bad := &plan.ExecutionPlan{
		ID: "bad",
		Phases: []plan.Phase{{ID: "a", Steps: []plan.Step{
			{ID: "s1", Action: "deploy"},
			{ID: "s2", Action: "sleep"},
		}}},
	}
	err := e.CheckPlan(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, actions.ErrUnknownAction)
	assert.ErrorIs(t, err, actions.ErrInvalidParams)
	assert.Contains(t, err.Error(), "step s1")
	assert.Contains(t, err.Error(), "step s2")

	_, err = e.Run(context.Background(), bad, false)
	assert.Error(t, err)
}

func TestEngine_RunPersistsCheckpointsAndResumes(t *testing.T) {
	e := newTestEngine(t, testConfig(t))

	var counted atomic.Int32
	require.NoError(t, e.GetActions().Register(actions.Definition{
		Name:        "count",
		Description: "count invocations",
		Run: func(ctx context.Context, params map[string]interface{}) (task.Output, error) {
			counted.Add(1)
			return task.Output{}, nil
		},
	}))

	first := &plan.ExecutionPlan{
		ID:          "deploy",
		Checkpoints: []int{0},
		Phases: []plan.Phase{
			{ID: "prepare", Steps: []plan.Step{{ID: "a1", Action: "count", Fallback: plan.Retry(1, 0)}}},
			{ID: "ship", Steps: []plan.Step{{ID: "b1", Action: "fail", Fallback: plan.Retry(1, 0)}}},
		},
	}

	res, err := e.Run(context.Background(), first, false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, int32(1), counted.Load())

	recs, err := e.GetCheckpointStore().List(context.Background(), "deploy")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"a1"}, recs[0].Checkpoint.CompletedSteps)

	fixed := &plan.ExecutionPlan{
		ID:          "deploy",
		Checkpoints: []int{0},
		Phases: []plan.Phase{
			{ID: "prepare", Steps: []plan.Step{{ID: "a1", Action: "count", Fallback: plan.Retry(1, 0)}}},
			{ID: "ship", Steps: []plan.Step{echoStep("b1")}},
		},
	}

	res, err = e.Run(context.Background(), fixed, true)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), counted.Load())
	assert.ElementsMatch(t, []string{"a1", "b1"}, res.State.CompletedSteps)

	recs, err = e.GetCheckpointStore().List(context.Background(), "deploy")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestEngine_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	e := newTestEngine(t, testConfig(t))

	p := &plan.ExecutionPlan{
		ID:     "fresh",
		Phases: []plan.Phase{{ID: "a", Steps: []plan.Step{echoStep("a1")}}},
	}
	res, err := e.Run(context.Background(), p, true)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestEngine_ResumeRequiresStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checkpoints.Enabled = false
	e := newTestEngine(t, cfg)

	assert.Nil(t, e.GetCheckpointStore())

	p := &plan.ExecutionPlan{
		ID:     "p",
		Phases: []plan.Phase{{ID: "a", Steps: []plan.Step{echoStep("a1")}}},
	}
	_, err := e.Run(context.Background(), p, true)
	assert.ErrorIs(t, err, ErrCheckpointsDisabled)
}

func TestEngine_StreamsEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stream.Enabled = true
	cfg.Stream.Addr = "127.0.0.1:0"
	e := newTestEngine(t, cfg)

	url := "ws://" + e.Addr("stream") + cfg.Stream.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.GetHub().Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	p := &plan.ExecutionPlan{
		ID:     "streamed",
		Phases: []plan.Phase{{ID: "a", Steps: []plan.Step{echoStep("a1")}}},
	}
	res, err := e.Run(context.Background(), p, false)
	require.NoError(t, err)
	require.True(t, res.Success)

	var seen []string
	for {
		var msg eventstream.Message
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		seen = append(seen, msg.Event)
		if msg.Event == "planComplete" {
			break
		}
	}

	assert.Equal(t, "planStart", seen[0])
	assert.Contains(t, strings.Join(seen, ","), "taskComplete")
	assert.Contains(t, seen, "phaseStart")
}

func TestEngine_Status(t *testing.T) {
	e := newTestEngine(t, testConfig(t))

	p := &plan.ExecutionPlan{
		ID:     "status",
		Phases: []plan.Phase{{ID: "a", Steps: []plan.Step{echoStep("a1"), echoStep("a2")}}},
	}
	_, err := e.Run(context.Background(), p, false)
	require.NoError(t, err)

	st := e.Status()
	assert.True(t, st.Running)
	assert.False(t, st.StartTime.IsZero())
	assert.Equal(t, 2, st.Scheduler.CompletedCount)
	assert.GreaterOrEqual(t, st.Scheduler.WorkerCount, 1)
}
