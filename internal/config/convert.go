package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// structToMap converts a config struct to a map keyed by its mapstructure
// tags. Nested structs become nested maps; durations stay typed so viper
// decodes them back without a string round trip.
func structToMap(s any) (map[string]any, error) {
	out := make(map[string]any)
	if err := mapstructure.Decode(s, &out); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}
	return out, nil
}
