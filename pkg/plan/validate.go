package plan

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPlan is returned when a plan is structurally invalid
	ErrInvalidPlan = errors.New("invalid execution plan")

	// ErrSchemaViolation is returned when a plan document does not match the plan schema
	ErrSchemaViolation = errors.New("plan document does not match schema")

	// ErrUnsupportedFormat is returned for plan files that are neither JSON nor YAML
	ErrUnsupportedFormat = errors.New("unsupported plan file format")
)

// Validate checks the structural rules the runner relies on: phase and step
// ids are present and unique, phase dependencies refer to other existing
// phases, fallback types and priorities are recognized, and checkpoint
// indices address existing phases.
func Validate(p *ExecutionPlan) error {
	if p == nil {
		return fmt.Errorf("%w: plan is nil", ErrInvalidPlan)
	}

	phaseIDs := make(map[string]bool, len(p.Phases))
	stepIDs := make(map[string]bool)

	for i, phase := range p.Phases {
		if phase.ID == "" {
			return fmt.Errorf("%w: phase at index %d has no id", ErrInvalidPlan, i)
		}
		if phaseIDs[phase.ID] {
			return fmt.Errorf("%w: duplicate phase id: %s", ErrInvalidPlan, phase.ID)
		}
		phaseIDs[phase.ID] = true

		if phase.TimeoutMs < 0 {
			return fmt.Errorf("%w: phase %s has negative timeout", ErrInvalidPlan, phase.ID)
		}

		for j, step := range phase.Steps {
			if step.ID == "" {
				return fmt.Errorf("%w: step %d of phase %s has no id", ErrInvalidPlan, j, phase.ID)
			}
			if stepIDs[step.ID] {
				return fmt.Errorf("%w: duplicate step id: %s", ErrInvalidPlan, step.ID)
			}
			stepIDs[step.ID] = true

			if step.Action == "" {
				return fmt.Errorf("%w: step %s has no action", ErrInvalidPlan, step.ID)
			}
			switch step.Fallback.Kind() {
			case FallbackRetry, FallbackSkip, FallbackHuman:
			default:
				return fmt.Errorf("%w: step %s has unknown fallback type: %s", ErrInvalidPlan, step.ID, step.Fallback.Type)
			}
			if step.Priority != "" && !step.Priority.Valid() {
				return fmt.Errorf("%w: step %s has unknown priority: %s", ErrInvalidPlan, step.ID, step.Priority)
			}
			if step.MaxRetries < 0 {
				return fmt.Errorf("%w: step %s has negative max_retries", ErrInvalidPlan, step.ID)
			}
		}
	}

	for _, phase := range p.Phases {
		for _, dep := range phase.DependsOn {
			if dep == phase.ID {
				return fmt.Errorf("%w: phase %s depends on itself", ErrInvalidPlan, phase.ID)
			}
			if !phaseIDs[dep] {
				return fmt.Errorf("%w: phase %s depends on non-existent phase: %s", ErrInvalidPlan, phase.ID, dep)
			}
		}
	}

	for _, idx := range p.Checkpoints {
		if idx < 0 || idx >= len(p.Phases) {
			return fmt.Errorf("%w: checkpoint index %d out of range", ErrInvalidPlan, idx)
		}
	}

	return nil
}
