package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harun/orchestra/pkg/runner"
	"github.com/harun/orchestra/pkg/selector"
	"github.com/harun/orchestra/pkg/task"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, shell bool) *Registry {
	t.Helper()

	logger := zerolog.Nop()
	r, err := NewDefault(Config{ShellEnabled: shell, WorkDir: t.TempDir(), Logger: &logger})
	require.NoError(t, err)
	return r
}

func TestNewDefault_RegistersBuiltins(t *testing.T) {
	assert.Equal(t, []string{"echo", "fail", "sleep"}, newTestRegistry(t, false).List())
	assert.Equal(t, []string{"echo", "fail", "shell", "sleep"}, newTestRegistry(t, true).List())
}

func TestRegistry_RegisterValidates(t *testing.T) {
	r := NewRegistry(nil)

	tests := []struct {
		name string
		def  Definition
	}{
		{"empty name", Definition{Run: func(context.Context, map[string]interface{}) (task.Output, error) { return task.Output{}, nil }}},
		{"nil body", Definition{Name: "x"}},
		{"bad param type", Definition{
			Name:   "x",
			Params: []Param{{Name: "p", Type: "date"}},
			Run:    func(context.Context, map[string]interface{}) (task.Output, error) { return task.Output{}, nil },
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Register(tt.def))
		})
	}
	assert.Empty(t, r.List())
}

func TestRegistry_UnknownAction(t *testing.T) {
	r := newTestRegistry(t, false)

	_, err := r.Handle(context.Background(), task.Task{ID: "s", Kind: "shell"})
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.ErrorIs(t, r.CheckParams("deploy", nil), ErrUnknownAction)
}

func TestRegistry_InvalidParams(t *testing.T) {
	r := newTestRegistry(t, false)

	_, err := r.Handle(context.Background(), task.Task{ID: "s", Kind: "sleep"})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = r.Handle(context.Background(), task.Task{
		ID:     "s",
		Kind:   "echo",
		Params: map[string]interface{}{"message": 42},
	})
	assert.ErrorIs(t, err, ErrInvalidParams)

	assert.ErrorIs(t, r.CheckParams("echo", map[string]interface{}{"colour": "red"}), ErrInvalidParams)
	assert.NoError(t, r.CheckParams("echo", map[string]interface{}{"message": "hi"}))
}

func TestEcho(t *testing.T) {
	r := newTestRegistry(t, false)

	ctx := runner.WithSelection(context.Background(), runner.Selection{
		StepID: "s",
		Tier:   selector.TierBalanced,
		Model:  "medium",
	})
	out, err := r.Handle(ctx, task.Task{
		ID:     "s",
		Kind:   "echo",
		Params: map[string]interface{}{"message": "hello", "cost": 1.5},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"message": "hello",
		"tier":    "balanced",
		"model":   "medium",
	}, out.Value)
	assert.InDelta(t, 1.5, out.Cost, 1e-9)
}

func TestEcho_Defaults(t *testing.T) {
	r := newTestRegistry(t, false)

	out, err := r.Handle(context.Background(), task.Task{ID: "s", Kind: "echo"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"message": ""}, out.Value)
	assert.Zero(t, out.Cost)
}

func TestSleep(t *testing.T) {
	r := newTestRegistry(t, false)

	out, err := r.Handle(context.Background(), task.Task{
		ID:     "s",
		Kind:   "sleep",
		Params: map[string]interface{}{"duration": "5ms"},
	})
	require.NoError(t, err)
	assert.Equal(t, "5ms", out.Value)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Handle(ctx, task.Task{
		ID:     "s",
		Kind:   "sleep",
		Params: map[string]interface{}{"duration": "1h"},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = r.Handle(context.Background(), task.Task{
		ID:     "s",
		Kind:   "sleep",
		Params: map[string]interface{}{"duration": "soon"},
	})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestFail(t *testing.T) {
	r := newTestRegistry(t, false)

	_, err := r.Handle(context.Background(), task.Task{
		ID:     "s",
		Kind:   "fail",
		Params: map[string]interface{}{"message": "boom"},
	})
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	flaky := task.Task{ID: "s", Kind: "fail", Params: map[string]interface{}{"times": 2}}
	for retries, wantErr := range []bool{true, true, false} {
		ctx := runner.WithSelection(context.Background(), runner.Selection{Retries: retries})
		_, err := r.Handle(ctx, flaky)
		assert.Equal(t, wantErr, err != nil, "retries=%d", retries)
	}
}

func TestShell(t *testing.T) {
	r := newTestRegistry(t, true)

	ctx := runner.WithSelection(context.Background(), runner.Selection{PlanID: "p", StepID: "build"})
	out, err := r.Handle(ctx, task.Task{
		ID:     "build",
		Kind:   "shell",
		Params: map[string]interface{}{"command": "echo $ORCHESTRA_STEP_ID"},
	})
	require.NoError(t, err)

	value := out.Value.(map[string]interface{})
	assert.Equal(t, "build\n", value["stdout"])
	assert.Equal(t, 0, value["exit_code"])
}

func TestShell_NonZeroExit(t *testing.T) {
	r := newTestRegistry(t, true)

	out, err := r.Handle(context.Background(), task.Task{
		ID:     "s",
		Kind:   "shell",
		Params: map[string]interface{}{"command": "echo oops >&2; exit 3"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "oops")
	assert.Equal(t, 3, out.Value.(map[string]interface{})["exit_code"])
}

func TestShell_Cancelled(t *testing.T) {
	r := newTestRegistry(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Handle(ctx, task.Task{
		ID:     "s",
		Kind:   "shell",
		Params: map[string]interface{}{"command": "sleep 5"},
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTruncate(t *testing.T) {
	long := make([]byte, maxOutput+10)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long))
	assert.Len(t, got, maxOutput+len("\n... [output truncated]"))
	assert.Equal(t, "short", truncate("short"))
}
