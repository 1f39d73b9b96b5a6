package driver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateAgainstSchema checks raw JSON against a JSON Schema document.
// Returns a *SchemaError on any validation failure.
func validateAgainstSchema(raw json.RawMessage, schemaDoc string) error {
	schemaJSON, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaDoc))
	if err != nil {
		return fmt.Errorf("invalid schema document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline://schema", schemaJSON); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("inline://schema")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &SchemaError{Detail: "response is not valid JSON: " + err.Error()}
	}
	if err := schema.Validate(value); err != nil {
		return &SchemaError{Detail: err.Error()}
	}
	return nil
}

// extractJSON pulls the first top-level JSON object out of model output that
// may wrap it in prose or a fenced code block.
func extractJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			trimmed = strings.TrimSpace(rest[:end])
		}
	}
	start := strings.IndexByte(trimmed, '{')
	if start < 0 {
		return nil, &SchemaError{Detail: "no JSON object in response"}
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(trimmed); i++ {
		c := trimmed[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				candidate := json.RawMessage(trimmed[start : i+1])
				if !json.Valid(candidate) {
					return nil, &SchemaError{Detail: "malformed JSON object in response"}
				}
				return candidate, nil
			}
		}
	}
	return nil, &SchemaError{Detail: "unterminated JSON object in response"}
}
