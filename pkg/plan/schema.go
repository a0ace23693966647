package plan

// Schema is the JSON Schema for plan documents
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["phases"],
  "properties": {
    "id": { "type": "string" },
    "goal": { "type": "string" },
    "estimated_cost": { "type": "number", "minimum": 0 },
    "estimated_duration_ms": { "type": "integer", "minimum": 0 },
    "strategy": {
      "type": "object",
      "additionalProperties": {
        "type": "string",
        "enum": ["auto", "fast", "balanced", "powerful"]
      }
    },
    "checkpoints": {
      "type": "array",
      "items": { "type": "integer", "minimum": 0 }
    },
    "phases": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "steps"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "name": { "type": "string" },
          "parallel": { "type": "boolean" },
          "timeout_ms": { "type": "integer", "minimum": 0 },
          "depends_on": {
            "type": "array",
            "items": { "type": "string", "minLength": 1 }
          },
          "steps": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "action"],
              "properties": {
                "id": { "type": "string", "minLength": 1 },
                "action": { "type": "string", "minLength": 1 },
                "params": { "type": "object" },
                "expected_outcome": { "type": "string" },
                "max_retries": { "type": "integer", "minimum": 0 },
                "priority": {
                  "type": "string",
                  "enum": ["critical", "high", "medium", "low"]
                },
                "fallback": {
                  "type": "object",
                  "properties": {
                    "type": { "type": "string", "enum": ["retry", "skip", "human"] },
                    "max_attempts": { "type": "integer", "minimum": 0 },
                    "backoff_ms": { "type": "integer", "minimum": 0 }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`
