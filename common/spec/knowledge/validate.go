package knowledge

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ValidationError reports a knowledge item or pack rejected at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "knowledge: invalid: " + e.Reason
	}
	return fmt.Sprintf("knowledge: invalid %s: %s", e.Field, e.Reason)
}

// itemSchema is the JSON schema every knowledge item must satisfy after
// decoding. Whitespace-only strings are rejected via the \S pattern.
const itemSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "content", "category"],
  "properties": {
    "id":           {"type": "string"},
    "character_id": {"type": "string"},
    "title":        {"type": "string", "minLength": 1, "maxLength": 200, "pattern": "\\S"},
    "content":      {"type": "string", "minLength": 1, "pattern": "\\S"},
    "category":     {"type": "string", "minLength": 1, "pattern": "\\S"},
    "keywords": {
      "type": ["array", "null"],
      "items": {"type": "string", "minLength": 1, "pattern": "\\S"}
    },
    "tags": {
      "type": ["array", "null"],
      "items": {"type": "string", "minLength": 1}
    },
    "priority": {"type": "integer", "minimum": 0}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("kioku-item.json", strings.NewReader(itemSchema)); err != nil {
			schemaErr = fmt.Errorf("knowledge: load item schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("kioku-item.json")
	})
	return schema, schemaErr
}

// Parse decodes a pack YAML document and validates it.
func Parse(data []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("knowledge parse: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	for i := range p.Knowledge {
		if p.Knowledge[i].CharacterID == "" {
			p.Knowledge[i].CharacterID = p.Character.ID
		}
	}
	return &p, nil
}

// Validate checks a pack for structural correctness. It returns the first
// validation error encountered.
func Validate(p *Pack) error {
	if p == nil {
		return &ValidationError{Reason: "pack must not be nil"}
	}
	if p.APIVersion != SpecVersion {
		return &ValidationError{Field: "apiVersion", Reason: fmt.Sprintf("must be %q, got %q", SpecVersion, p.APIVersion)}
	}
	if strings.TrimSpace(p.Character.ID) == "" {
		return &ValidationError{Field: "character.id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Character.Persona) == "" {
		return &ValidationError{Field: "character.persona", Reason: "must not be empty"}
	}

	seen := make(map[string]struct{}, len(p.Knowledge))
	for i, item := range p.Knowledge {
		if err := ValidateItem(item); err != nil {
			return fmt.Errorf("knowledge[%d]: %w", i, err)
		}
		if item.CharacterID != "" && item.CharacterID != p.Character.ID {
			return &ValidationError{
				Field:  fmt.Sprintf("knowledge[%d].character_id", i),
				Reason: fmt.Sprintf("%q does not match character %q", item.CharacterID, p.Character.ID),
			}
		}
		if item.ID == "" {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			return &ValidationError{Field: fmt.Sprintf("knowledge[%d].id", i), Reason: fmt.Sprintf("duplicate id %q", item.ID)}
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// ValidateItem checks a single item against the item schema.
func ValidateItem(item Item) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("knowledge: encode item: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("knowledge: decode item: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &ValidationError{Field: fieldOf(ve), Reason: reasonOf(ve)}
		}
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}

// fieldOf returns the deepest instance location as a dotted field path.
func fieldOf(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := strings.TrimPrefix(ve.InstanceLocation, "/")
	return strings.ReplaceAll(loc, "/", ".")
}

func reasonOf(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve.Message
}
