package runner

import (
	"context"

	"github.com/harun/orchestra/pkg/plan"
	"github.com/harun/orchestra/pkg/selector"
)

// Selection is the capability choice made for one attempt of a step. Step
// handlers read it with SelectionFromContext.
type Selection struct {
	PlanID  string
	StepID  string
	Tier    selector.Tier
	Model   string
	Retries int
}

type selectionKey struct{}
type runKey struct{}

// WithSelection returns a context carrying sel.
func WithSelection(ctx context.Context, sel Selection) context.Context {
	return context.WithValue(ctx, selectionKey{}, sel)
}

// SelectionFromContext returns the selection for the running attempt, if any.
func SelectionFromContext(ctx context.Context) (Selection, bool) {
	sel, ok := ctx.Value(selectionKey{}).(Selection)
	return sel, ok
}

// run is the per-ExecutePlan data the dispatch wrapper needs. Scheduler task
// ids are scoped to the run so a plan can be executed again on the same
// runner; tasks maps them back to steps.
type run struct {
	id       string
	plan     *plan.ExecutionPlan
	state    *plan.ExecutionState
	selector *selector.Selector
	tasks    map[string]plan.Step
}

func newRun(id string, p *plan.ExecutionPlan, state *plan.ExecutionState, sel *selector.Selector) *run {
	rn := &run{
		id:       id,
		plan:     p,
		state:    state,
		selector: sel,
		tasks:    make(map[string]plan.Step, p.StepCount()),
	}
	for _, ph := range p.Phases {
		for _, st := range ph.Steps {
			rn.tasks[rn.taskID(st.ID)] = st
		}
	}
	return rn
}

func (rn *run) taskID(stepID string) string {
	return rn.id + "/" + stepID
}

func (rn *run) stepFor(taskID string) (plan.Step, bool) {
	st, ok := rn.tasks[taskID]
	return st, ok
}

func withRun(ctx context.Context, r *run) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

func runFrom(ctx context.Context) *run {
	r, _ := ctx.Value(runKey{}).(*run)
	return r
}
