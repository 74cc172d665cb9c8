// Package metadata validates and sanitizes untrusted artifact metadata
// before it is persisted. Sanitization always runs before schema checks so
// injected content cannot hide inside otherwise valid string fields.
package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"muse/internal/logging"
)

// DefaultSerializedLimit is the ceiling for the serialized sanitized object.
// Objects at or above it are rejected, never truncated: truncation could
// corrupt structured regeneration parameters.
const DefaultSerializedLimit = 10 * 1024

// Result is the outcome of a validation pass. When OK is false the caller
// persists the artifact without metadata rather than failing the write.
type Result struct {
	OK        bool
	Sanitized map[string]any
	Reason    string
}

// Schema lists the required string fields for one artifact type.
type Schema struct {
	ArtifactType string
	Required     []string
}

// Validator checks metadata against a closed set of per-type schemas.
type Validator struct {
	limit   int
	schemas map[string]Schema
	logger  logging.Logger
}

// NewValidator builds a validator with the built-in artifact schemas.
func NewValidator(logger logging.Logger) *Validator {
	v := &Validator{
		limit:   DefaultSerializedLimit,
		schemas: make(map[string]Schema),
		logger:  logging.OrNop(logger),
	}
	for _, schema := range []Schema{
		{ArtifactType: "image", Required: []string{"type", "url", "title"}},
		{ArtifactType: "document", Required: []string{"type", "url", "title"}},
		{ArtifactType: "audio", Required: []string{"type", "url", "title"}},
	} {
		v.schemas[schema.ArtifactType] = schema
	}
	return v
}

// WithLimit overrides the serialized size ceiling. Used by tests.
func (v *Validator) WithLimit(limit int) *Validator {
	v.limit = limit
	return v
}

// Validate sanitizes raw metadata and checks it against the schema for the
// artifact type. It never panics and never performs I/O.
func (v *Validator) Validate(raw map[string]any, artifactType string) Result {
	if raw == nil {
		return Result{OK: false, Reason: "metadata missing"}
	}

	schema, ok := v.schemas[artifactType]
	if !ok {
		return Result{OK: false, Reason: fmt.Sprintf("no schema for artifact type %q", artifactType)}
	}

	sanitized, ok := sanitizeValue(raw).(map[string]any)
	if !ok {
		return Result{OK: false, Reason: "metadata is not an object"}
	}

	for _, field := range schema.Required {
		value, present := sanitized[field]
		if !present {
			return Result{OK: false, Reason: fmt.Sprintf("missing required field %q", field)}
		}
		s, isString := value.(string)
		if !isString || s == "" {
			return Result{OK: false, Reason: fmt.Sprintf("field %q must be a non-empty string", field)}
		}
	}
	if typ, _ := sanitized["type"].(string); typ != artifactType {
		return Result{OK: false, Reason: fmt.Sprintf("type field %q does not match artifact type %q", typ, artifactType)}
	}

	serialized, err := json.Marshal(sanitized)
	if err != nil {
		return Result{OK: false, Reason: fmt.Sprintf("metadata not serializable: %v", err)}
	}
	if len(serialized) >= v.limit {
		return Result{OK: false, Reason: fmt.Sprintf("serialized metadata is %d bytes, limit is %d", len(serialized), v.limit)}
	}

	return Result{OK: true, Sanitized: sanitized}
}

// ValidateRaw parses a metadata JSON string, repairing light syntax damage
// first, then validates the parsed object. Provider metadata frequently
// arrives as slightly malformed JSON text.
func (v *Validator) ValidateRaw(raw string, artifactType string) Result {
	if raw == "" {
		return Result{OK: false, Reason: "metadata missing"}
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		v.logger.Debug("metadata repair failed: %v", err)
		return Result{OK: false, Reason: fmt.Sprintf("metadata is not valid JSON: %v", err)}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return Result{OK: false, Reason: fmt.Sprintf("metadata is not a JSON object: %v", err)}
	}
	return v.Validate(parsed, artifactType)
}

// Serialize returns the canonical stored form of validated metadata: a JSON
// string, never a live object.
func Serialize(sanitized map[string]any) (string, error) {
	data, err := json.Marshal(sanitized)
	if err != nil {
		return "", fmt.Errorf("serialize metadata: %w", err)
	}
	return string(data), nil
}

// Reparse parses a stored metadata string back into an object. Readers must
// call this and re-validate rather than trust the stored string blindly.
func Reparse(stored string) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(stored), &parsed); err != nil {
		return nil, fmt.Errorf("reparse metadata: %w", err)
	}
	return parsed, nil
}
