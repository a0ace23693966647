package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harun/orchestra/pkg/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownAction is returned for a task kind with no registered action
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidParams is returned when step params fail schema validation
	ErrInvalidParams = errors.New("invalid action params")
)

// Func is the body of an action
type Func func(ctx context.Context, params map[string]interface{}) (task.Output, error)

// Param describes one accepted step param
type Param struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Definition is an action's metadata and body
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	Run         Func    `json:"-"`
}

// Registry holds actions by name
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zerolog.Logger) *Registry {
	if logger == nil {
		l := log.Logger
		logger = &l
	}
	return &Registry{
		actions: make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger.With().Str("component", "actions").Logger(),
	}
}

// Register adds or replaces an action
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid action definition: %w", err)
	}

	schema, err := paramSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.actions[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Debug().Str("action", def.Name).Msg("Action registered")
	return nil
}

// Unregister removes an action
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.actions, name)
	delete(r.schemas, name)
}

// Get returns an action definition by name
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.actions[name]
	return def, ok
}

// List returns the registered action names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle runs the action named by t.Kind with t.Params
func (r *Registry) Handle(ctx context.Context, t task.Task) (task.Output, error) {
	r.mu.RLock()
	def, ok := r.actions[t.Kind]
	schema := r.schemas[t.Kind]
	r.mu.RUnlock()

	if !ok {
		return task.Output{}, fmt.Errorf("%w: %s", ErrUnknownAction, t.Kind)
	}

	params := t.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParams(schema, params); err != nil {
		return task.Output{}, err
	}

	return def.Run(ctx, withDefaults(def.Params, params))
}

// CheckParams validates params for an action without running it
func (r *Registry) CheckParams(action string, params map[string]interface{}) error {
	r.mu.RLock()
	_, ok := r.actions[action]
	schema := r.schemas[action]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return validateParams(schema, params)
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return errors.New("action name cannot be empty")
	}
	if def.Run == nil {
		return errors.New("action body cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, p := range def.Params {
		if p.Name == "" {
			return errors.New("param name cannot be empty")
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid param type %q for %s", p.Type, p.Name)
		}
	}
	return nil
}

func paramSchema(def Definition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(def.Params))
	required := []string{}

	for _, p := range def.Params {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
	}
	return nil
}

func withDefaults(spec []Param, params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+len(spec))
	for _, p := range spec {
		if p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}
