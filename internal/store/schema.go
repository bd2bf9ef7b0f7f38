package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/model"
)

type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "boolean"
)

// Field declares the shape of one document field.
type Field struct {
	Type      FieldType
	Required  bool
	MaxLength int      // strings only, 0 means unbounded
	Min       *float64 // numbers only
	Max       *float64
}

// Schema declares a collection's document shape and its current
// version. Undeclared fields are allowed and pass through unvalidated,
// so remote rows with extra columns are never rejected locally.
type Schema struct {
	Version int
	Fields  map[string]Field
}

// Migration upgrades a document persisted under the previous schema
// version to the next one.
type Migration func(model.Document) (model.Document, error)

var vd = validator.New()

// Validate checks doc against the schema. Collection name is only used
// in error messages.
func (s Schema) Validate(collection string, doc model.Document) error {
	for name, f := range s.Fields {
		v, ok := doc[name]
		if !ok || v == nil {
			if f.Required {
				return &errs.ValidationError{Collection: collection, Field: name, Reason: "is required"}
			}
			continue
		}
		if err := f.check(v); err != nil {
			return &errs.ValidationError{Collection: collection, Field: name, Reason: err.Error()}
		}
	}
	return nil
}

func (f Field) check(v any) error {
	switch f.Type {
	case FieldString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string, got %T", v)
		}
		if f.MaxLength > 0 {
			if err := vd.Var(s, fmt.Sprintf("max=%d", f.MaxLength)); err != nil {
				return fmt.Errorf("exceeds max length %d", f.MaxLength)
			}
		}
	case FieldNumber:
		n, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("must be a number, got %T", v)
		}
		rule := ""
		if f.Min != nil {
			rule = fmt.Sprintf("min=%v", *f.Min)
		}
		if f.Max != nil {
			if rule != "" {
				rule += ","
			}
			rule += fmt.Sprintf("max=%v", *f.Max)
		}
		if rule != "" {
			if err := vd.Var(n, rule); err != nil {
				return fmt.Errorf("out of bounds (%s)", rule)
			}
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("must be a boolean, got %T", v)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
