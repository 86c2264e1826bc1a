// Package schema defines the typed input/output contract shared by agents and
// the structured-output layer.
//
// A schema is an ordinary Go struct implementing IOSchema. Its JSON schema is
// derived from the struct's json and jsonschema tags; the description returned
// by SchemaDescription becomes the schema-level description the model sees.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	// ErrValidation wraps every instance that does not satisfy its schema.
	ErrValidation = errors.New("schema validation failed")
	// ErrMissingDescription is returned when a schema type has no description.
	ErrMissingDescription = fmt.Errorf("%w: schema must have a non-empty description", ErrValidation)
)

// IOSchema is implemented by every agent input and output type.
type IOSchema interface {
	SchemaDescription() string
}

// Definition is the validated JSON schema of an IOSchema type.
type Definition struct {
	Name        string
	Description string
	JSONSchema  *jsonschema.Schema

	resolved *jsonschema.Resolved
	// open ignores properties the type does not declare.
	open *jsonschema.Resolved
}

type cached struct {
	def *Definition
	err error
}

var definitions sync.Map //nolint:gochecknoglobals // reflect.Type -> cached

// Define builds (once per type) the schema definition of T.
func Define[T IOSchema]() (*Definition, error) {
	typ := reflect.TypeFor[T]()
	if v, ok := definitions.Load(typ); ok {
		c := v.(cached) //nolint:forcetypeassert // only cached values are stored
		return c.def, c.err
	}

	def, err := define[T](typ)
	v, _ := definitions.LoadOrStore(typ, cached{def: def, err: err})
	c := v.(cached) //nolint:forcetypeassert // only cached values are stored
	return c.def, c.err
}

// MustDefine is like Define but panics on error.
//
//	var _ = schema.MustDefine[MyOutput]()
func MustDefine[T IOSchema]() *Definition {
	def, err := Define[T]()
	if err != nil {
		panic(err)
	}
	return def
}

func define[T IOSchema](typ reflect.Type) (*Definition, error) {
	name := typeName(typ)

	var zero T
	description := strings.TrimSpace(zero.SchemaDescription())
	if description == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingDescription)
	}

	js, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate JSON schema for %s: %w", name, err)
	}
	if js.Description == "" {
		js.Description = description
	}
	if js.Title == "" {
		js.Title = name
	}

	resolved, err := js.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSON schema for %s: %w", name, err)
	}
	openJS := js.CloneSchemas()
	allowAdditional(openJS)
	open, err := openJS.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSON schema for %s: %w", name, err)
	}

	return &Definition{
		Name:        name,
		Description: description,
		JSONSchema:  js,
		resolved:    resolved,
		open:        open,
	}, nil
}

// allowAdditional drops the additionalProperties:false that struct inference
// adds to every object, so unknown keys are ignored like encoding/json does.
func allowAdditional(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if ap := s.AdditionalProperties; ap != nil && ap.Not != nil {
		s.AdditionalProperties = nil
	} else {
		allowAdditional(ap)
	}
	for _, p := range s.Properties {
		allowAdditional(p)
	}
	for _, d := range s.Defs {
		allowAdditional(d)
	}
	allowAdditional(s.Items)
	for _, list := range [][]*jsonschema.Schema{s.PrefixItems, s.AllOf, s.AnyOf, s.OneOf} {
		for _, sub := range list {
			allowAdditional(sub)
		}
	}
}

func typeName(typ reflect.Type) string {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Name() != "" {
		return typ.Name()
	}
	return typ.String()
}

// Validate checks the JSON form of v against the definition.
func (d *Definition) Validate(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrValidation, d.Name, err)
	}
	return d.ValidateJSON(data)
}

// ValidateJSON checks an encoded instance against the definition.
func (d *Definition) ValidateJSON(data []byte) error {
	return d.validate(d.resolved, data)
}

// ValidateResponse checks model output against the definition. Keys the
// type does not declare are ignored, since not every provider enforces the
// schema strictly.
func (d *Definition) ValidateResponse(data []byte) error {
	return d.validate(d.open, data)
}

func (d *Definition) validate(rs *jsonschema.Resolved, data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrValidation, d.Name, err)
	}
	if err := rs.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrValidation, d.Name, err)
	}
	return nil
}

// Schema returns an independent copy of the JSON schema, safe to mutate.
func (d *Definition) Schema() *jsonschema.Schema {
	return d.JSONSchema.CloneSchemas()
}
