package tmexio

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kaptinlin/jsonschema"
)

// BodyModel validates the single positional argument of an event.
type BodyModel interface {
	// Parse validates raw and returns the parsed body. Validation failures
	// are returned as *EventBodyException.
	Parse(raw any) (ParsedBody, error)
}

// ParsedBody is a body that passed validation.
type ParsedBody interface {
	// Value returns the whole parsed body.
	Value() any

	// Field returns a top-level field of the body by its JSON name.
	Field(name string) (any, bool)
}

// SchemaDescriber is implemented by body models that can describe their
// shape as a JSON Schema document for Router documentation.
type SchemaDescriber interface {
	JSONSchema() map[string]any
}

// Validator is implemented by typed bodies with extra validation rules.
type Validator interface {
	Validate() error
}

type parsedBody struct {
	value  any
	fields map[string]any
}

func (b parsedBody) Value() any {
	return b.value
}

func (b parsedBody) Field(name string) (any, bool) {
	v, ok := b.fields[name]
	return v, ok
}

// SchemaBody validates bodies against a JSON Schema document.
// The parsed value is the argument as received.
type SchemaBody struct {
	schema *jsonschema.Schema
	doc    map[string]any
}

// NewSchemaBody compiles a JSON Schema document.
func NewSchemaBody(schemaJSON []byte) (*SchemaBody, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile body schema: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("parse body schema: %w", err)
	}

	return &SchemaBody{schema: schema, doc: doc}, nil
}

// MustSchemaBody is like NewSchemaBody but panics on an invalid schema.
// Intended for package-level handler declarations.
func MustSchemaBody(schemaJSON string) *SchemaBody {
	b, err := NewSchemaBody([]byte(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("tmexio: %v", err))
	}
	return b
}

// Parse implements BodyModel.
func (b *SchemaBody) Parse(raw any) (ParsedBody, error) {
	instance, err := normalize(raw)
	if err != nil {
		return nil, NewEventBodyException(BodyError{Message: err.Error()})
	}

	result := b.schema.Validate(instance)
	if !result.IsValid() {
		return nil, NewEventBodyException(collectSchemaErrors(result.ToList())...)
	}

	return parsedBody{value: raw, fields: bodyFields(raw, instance)}, nil
}

// JSONSchema implements SchemaDescriber.
func (b *SchemaBody) JSONSchema() map[string]any {
	return b.doc
}

// collectSchemaErrors flattens a validator result into body errors, ordered
// by location then message.
func collectSchemaErrors(list *jsonschema.List) []BodyError {
	var out []BodyError

	var walk func(l jsonschema.List)
	walk = func(l jsonschema.List) {
		for _, msg := range l.Errors {
			out = append(out, BodyError{Location: l.InstanceLocation, Message: msg})
		}
		for _, d := range l.Details {
			walk(d)
		}
	}
	if list != nil {
		walk(*list)
	}

	if len(out) == 0 {
		return []BodyError{{Message: "body does not match schema"}}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// TypedBody decodes bodies into T. If T (or *T) implements Validator, its
// Validate method runs after decoding.
type TypedBody[T any] struct {
	schema map[string]any
}

// NewTypedBody creates a body model for T. The optional schema is used only
// for documentation.
func NewTypedBody[T any](schema map[string]any) *TypedBody[T] {
	return &TypedBody[T]{schema: schema}
}

// Parse implements BodyModel. The parsed value is a T.
func (b *TypedBody[T]) Parse(raw any) (ParsedBody, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, NewEventBodyException(BodyError{Message: err.Error()})
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, NewEventBodyException(BodyError{Message: err.Error()})
	}

	if err := validateTyped(&value); err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, NewEventBodyException(BodyError{Message: err.Error()})
	}

	return parsedBody{value: value, fields: bodyFields(raw, generic)}, nil
}

// JSONSchema implements SchemaDescriber.
func (b *TypedBody[T]) JSONSchema() map[string]any {
	return b.schema
}

func validateTyped[T any](value *T) error {
	var v Validator
	if pv, ok := any(value).(Validator); ok {
		v = pv
	} else if vv, ok := any(*value).(Validator); ok {
		v = vv
	}
	if v == nil {
		return nil
	}

	err := v.Validate()
	if err == nil {
		return nil
	}

	var bodyErr *EventBodyException
	if errors.As(err, &bodyErr) {
		return bodyErr
	}
	return NewEventBodyException(BodyError{Message: err.Error()})
}

// bodyFields returns the top-level fields of a body. Fields are read from the
// argument as received when it is already a map so values keep their types.
func bodyFields(raw, normalized any) map[string]any {
	if m, ok := raw.(map[string]any); ok {
		return m
	}
	if m, ok := normalized.(map[string]any); ok {
		return m
	}
	return nil
}
