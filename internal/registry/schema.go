package registry

import "fmt"

// FieldType is the declared shape of one schema field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
	FieldArray  FieldType = "array"
	FieldAny    FieldType = "any"
)

type Field struct {
	Type     FieldType
	Required bool
}

// Schema declares the expected shape of a node's config, input, or output
// payload. A nil schema accepts anything.
type Schema map[string]Field

// Validate checks v against the schema. Unknown keys are allowed; only
// declared fields are checked for presence and type.
func (s Schema) Validate(kind string, v map[string]any) error {
	if s == nil {
		return nil
	}
	for name, field := range s {
		val, ok := v[name]
		if !ok || val == nil {
			if field.Required {
				return fmt.Errorf("%s: missing required field %q", kind, name)
			}
			continue
		}
		if !matches(field.Type, val) {
			return fmt.Errorf("%s: field %q is not a %s", kind, name, field.Type)
		}
	}
	return nil
}

func matches(ft FieldType, v any) bool {
	switch ft {
	case FieldAny, "":
		return true
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case FieldObject:
		_, ok := v.(map[string]any)
		return ok
	case FieldArray:
		_, ok := v.([]any)
		return ok
	}
	return false
}
