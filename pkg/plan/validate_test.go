package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validPlan() *ExecutionPlan {
	return &ExecutionPlan{
		ID: "plan-1",
		Phases: []Phase{
			{ID: "setup", Steps: []Step{{ID: "s1", Action: "echo"}}},
			{ID: "build", DependsOn: []string{"setup"}, Steps: []Step{
				{ID: "s2", Action: "echo", Fallback: Skip(2, 10)},
				{ID: "s3", Action: "echo", Priority: "high"},
			}},
		},
		Checkpoints: []int{1},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *ExecutionPlan)
		wantErr string
	}{
		{name: "valid", mutate: func(p *ExecutionPlan) {}},
		{name: "nil steps allowed", mutate: func(p *ExecutionPlan) { p.Phases[0].Steps = nil }},
		{
			name:    "missing phase id",
			mutate:  func(p *ExecutionPlan) { p.Phases[0].ID = "" },
			wantErr: "phase at index 0 has no id",
		},
		{
			name:    "duplicate phase id",
			mutate:  func(p *ExecutionPlan) { p.Phases[1].ID = "setup"; p.Phases[1].DependsOn = nil },
			wantErr: "duplicate phase id: setup",
		},
		{
			name:    "duplicate step id across phases",
			mutate:  func(p *ExecutionPlan) { p.Phases[1].Steps[0].ID = "s1" },
			wantErr: "duplicate step id: s1",
		},
		{
			name:    "missing action",
			mutate:  func(p *ExecutionPlan) { p.Phases[0].Steps[0].Action = "" },
			wantErr: "step s1 has no action",
		},
		{
			name:    "unknown fallback",
			mutate:  func(p *ExecutionPlan) { p.Phases[0].Steps[0].Fallback.Type = "pray" },
			wantErr: "unknown fallback type: pray",
		},
		{
			name:    "unknown priority",
			mutate:  func(p *ExecutionPlan) { p.Phases[0].Steps[0].Priority = "urgent" },
			wantErr: "unknown priority: urgent",
		},
		{
			name:    "unknown dependency",
			mutate:  func(p *ExecutionPlan) { p.Phases[1].DependsOn = []string{"deploy"} },
			wantErr: "depends on non-existent phase: deploy",
		},
		{
			name:    "self dependency",
			mutate:  func(p *ExecutionPlan) { p.Phases[1].DependsOn = []string{"build"} },
			wantErr: "phase build depends on itself",
		},
		{
			name:    "checkpoint out of range",
			mutate:  func(p *ExecutionPlan) { p.Checkpoints = []int{2} },
			wantErr: "checkpoint index 2 out of range",
		},
		{
			name:    "negative timeout",
			mutate:  func(p *ExecutionPlan) { p.Phases[0].TimeoutMs = -1 },
			wantErr: "negative timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)

			err := Validate(p)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidPlan)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_NilPlan(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrInvalidPlan)
}

func TestFallbackStrategy(t *testing.T) {
	assert.Equal(t, FallbackRetry, FallbackStrategy{}.Kind())
	assert.True(t, FallbackStrategy{}.Critical())
	assert.True(t, Human(1).Critical())
	assert.False(t, Skip(1, 0).Critical())
	assert.Equal(t, int64(250), Retry(3, 250).Backoff().Milliseconds())
	assert.Zero(t, FallbackStrategy{Type: FallbackHuman, BackoffMs: 500}.Backoff())
}

func TestExecutionPlan_Helpers(t *testing.T) {
	p := validPlan()

	assert.True(t, p.IsCheckpoint(1))
	assert.False(t, p.IsCheckpoint(0))
	assert.Equal(t, 3, p.StepCount())
	assert.Equal(t, []string{"s2", "s3"}, p.PhaseByID("build").StepIDs())
	assert.Nil(t, p.PhaseByID("missing"))
}
