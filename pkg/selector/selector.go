// Package selector picks the capability tier a plan step runs on.
package selector

import (
	"fmt"

	"github.com/harun/orchestra/pkg/plan"
)

// Tier is a capability level of the backing model
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPowerful Tier = "powerful"

	// Auto escalates with the step's retry count
	Auto = "auto"

	// DefaultClass is the strategy key consulted when the step's action has
	// no entry of its own
	DefaultClass = "default"
)

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	switch t {
	case TierFast, TierBalanced, TierPowerful:
		return true
	}
	return false
}

// Models maps tiers to concrete model names
type Models struct {
	Fast     string
	Balanced string
	Powerful string
}

// Selector resolves tiers from a plan's resource strategy
type Selector struct {
	strategy plan.ResourceStrategy
	models   Models
}

// New creates a selector for a plan strategy. A nil strategy escalates for
// every step.
func New(strategy plan.ResourceStrategy, models Models) *Selector {
	return &Selector{strategy: strategy, models: models}
}

// Select returns the tier for a step that has failed retries times so far.
// An explicit tier configured for the step's action, or for "default", wins;
// otherwise r>=3 is powerful, r in {1,2} is balanced and r==0 is fast.
func (s *Selector) Select(step plan.Step, retries int) Tier {
	if t, ok := s.explicit(step.Action); ok {
		return t
	}
	return Escalate(retries)
}

// Escalate maps a retry count to a tier.
func Escalate(retries int) Tier {
	switch {
	case retries >= 3:
		return TierPowerful
	case retries >= 1:
		return TierBalanced
	default:
		return TierFast
	}
}

func (s *Selector) explicit(action string) (Tier, bool) {
	v, ok := s.strategy[action]
	if !ok {
		v, ok = s.strategy[DefaultClass]
	}
	if !ok || v == Auto {
		return "", false
	}
	t := Tier(v)
	if !t.Valid() {
		return "", false
	}
	return t, true
}

// Model returns the configured model name for a tier.
func (s *Selector) Model(t Tier) (string, error) {
	var name string
	switch t {
	case TierFast:
		name = s.models.Fast
	case TierBalanced:
		name = s.models.Balanced
	case TierPowerful:
		name = s.models.Powerful
	default:
		return "", fmt.Errorf("unknown tier %q", t)
	}
	if name == "" {
		return "", fmt.Errorf("no model configured for tier %q", t)
	}
	return name, nil
}
