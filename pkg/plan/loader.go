package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Loader reads plan documents from JSON or YAML and validates them
type Loader struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewLoader creates a new plan loader
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:       logger.With().Str("component", "plan-loader").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(Schema),
	}
}

// LoadFile loads and validates a plan from a .json, .yaml or .yml file
func (l *Loader) LoadFile(path string) (*ExecutionPlan, error) {
	if path == "" {
		return nil, fmt.Errorf("plan file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	p, err := l.Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Info().
		Str("path", path).
		Str("planId", p.ID).
		Int("phases", len(p.Phases)).
		Int("steps", p.StepCount()).
		Msg("Plan loaded")

	return p, nil
}

// Parse decodes a plan document in the given format ("json", "yaml" or "yml")
func (l *Loader) Parse(data []byte, format string) (*ExecutionPlan, error) {
	var jsonData []byte

	switch format {
	case "json":
		jsonData = data
	case "yaml", "yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML plan: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML plan: %w", err)
		}
		jsonData = converted
	default:
		return nil, fmt.Errorf("%w: %s (supported: json, yaml, yml)", ErrUnsupportedFormat, format)
	}

	if err := l.validateSchema(jsonData); err != nil {
		return nil, err
	}

	var p ExecutionPlan
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}

	return &p, nil
}

func (l *Loader) validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(l.schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
	}

	return nil
}
