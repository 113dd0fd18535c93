package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/loom/pkg/canonicalize"
)

// Deterministic error codes for settings boundary violations.
const (
	ErrSettingsUnknownField    = "ERR_SETTINGS_UNKNOWN_FIELD"
	ErrSettingsMissingRequired = "ERR_SETTINGS_MISSING_REQUIRED"
	ErrSettingsTypeMismatch    = "ERR_SETTINGS_TYPE_MISMATCH"
	ErrSettingsCanonFailed     = "ERR_SETTINGS_CANONICALIZATION_FAILED"
)

// SettingsSchema is the lightweight schema a plugin publishes for its
// settings block. It supports required fields and type checking without the
// full weight of JSON Schema.
type SettingsSchema struct {
	// Fields maps field name → expected type spec.
	Fields map[string]FieldSpec `json:"fields"`
	// AllowExtra permits fields not declared in the schema.
	AllowExtra bool `json:"allow_extra,omitempty"`
}

// FieldSpec describes a single settings field.
type FieldSpec struct {
	Type     string `json:"type"` // "string", "number", "boolean", "object", "array", "any"
	Required bool   `json:"required,omitempty"`
}

// SettingsResult carries the canonical form of a validated settings block.
// The digest keys transformed-class caches, so equivalent settings must
// produce identical digests regardless of field order.
type SettingsResult struct {
	CanonicalJSON []byte `json:"-"`
	Digest        string `json:"digest"` // SHA-256 hex of canonical JSON
}

// SettingsError is a typed settings boundary error.
type SettingsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *SettingsError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateAndCanonicalizeSettings validates a settings block against a
// schema, then returns the JCS-canonicalized bytes and SHA-256 digest.
// If schema is nil, validation is skipped but canonicalization still
// occurs. Nil settings canonicalize as the empty object so the digest
// stays a usable cache key.
func ValidateAndCanonicalizeSettings(schema *SettingsSchema, settings any) (*SettingsResult, error) {
	settingsMap, err := toMap(settings)
	if err != nil {
		return nil, &SettingsError{
			Code:    ErrSettingsCanonFailed,
			Message: fmt.Sprintf("settings must be a JSON object: %v", err),
		}
	}
	if settingsMap == nil {
		settingsMap = map[string]any{}
	}

	if schema != nil {
		if err := validateSettingsSchema(schema, settingsMap); err != nil {
			return nil, err
		}
	}

	canonical, err := canonicalize.JCS(settingsMap)
	if err != nil {
		return nil, &SettingsError{
			Code:    ErrSettingsCanonFailed,
			Message: fmt.Sprintf("JCS canonicalization failed: %v", err),
		}
	}

	return &SettingsResult{
		CanonicalJSON: canonical,
		Digest:        canonicalize.HashBytes(canonical),
	}, nil
}

func validateSettingsSchema(schema *SettingsSchema, settings map[string]any) error {
	for name, spec := range schema.Fields {
		val, exists := settings[name]
		if spec.Required && !exists {
			return &SettingsError{
				Code:    ErrSettingsMissingRequired,
				Message: fmt.Sprintf("required field %q is missing", name),
				Field:   name,
			}
		}
		if exists && spec.Type != "any" {
			if err := checkFieldType(name, val, spec.Type); err != nil {
				return err
			}
		}
	}

	if !schema.AllowExtra {
		for name := range settings {
			if _, ok := schema.Fields[name]; !ok {
				return &SettingsError{
					Code:    ErrSettingsUnknownField,
					Message: fmt.Sprintf("unknown field %q not in schema", name),
					Field:   name,
				}
			}
		}
	}

	return nil
}

func checkFieldType(field string, val any, expected string) *SettingsError {
	var ok bool
	switch expected {
	case "string":
		_, ok = val.(string)
	case "number":
		switch val.(type) {
		case float64, json.Number, int, int64:
			ok = true
		}
	case "boolean":
		_, ok = val.(bool)
	case "object":
		_, ok = val.(map[string]any)
	case "array":
		_, ok = val.([]any)
	case "any":
		ok = true
	default:
		ok = true // unknown type spec is permissive
	}

	if !ok {
		return &SettingsError{
			Code:    ErrSettingsTypeMismatch,
			Message: fmt.Sprintf("field %q expected type %s, got %T", field, expected, val),
			Field:   field,
		}
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	default:
		// JSON round-trip for structs.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
}
