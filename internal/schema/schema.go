// Package schema validates entity payloads against embedded JSON Schemas at
// the boundary. Unvalidated shapes never flow past it: a payload failing its
// schema is reported as a validation error and the caller treats it as a miss.
package schema

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Registry holds the compiled schema for every watched entity kind.
type Registry struct {
	schemas map[entity.Kind]*jsonschema.Schema
}

// NewRegistry compiles the embedded schemas. Compilation failure means the
// binary shipped with a broken schema and is reported, not papered over.
func NewRegistry() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	kinds := []entity.Kind{entity.KindSession, entity.KindRequest, entity.KindCompany}

	schemas := make(map[entity.Kind]*jsonschema.Schema, len(kinds))
	for _, kind := range kinds {
		name := fmt.Sprintf("schemas/%s.json", kind)
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read embedded schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse embedded schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("register schema %s: %w", name, err)
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		schemas[kind] = compiled
	}

	return &Registry{schemas: schemas}, nil
}

// Validate checks raw JSON against the schema for kind. A nil return means the
// payload may be trusted as that kind.
func (r *Registry) Validate(kind entity.Kind, raw []byte) error {
	compiled, ok := r.schemas[kind]
	if !ok {
		return foundation.InternalError("no schema registered").
			WithContext("entity_kind", string(kind)).
			Build()
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return foundation.ValidationError("payload is not valid JSON").
			WithCause(err).
			WithContext("entity_kind", string(kind)).
			Build()
	}
	if err := compiled.Validate(instance); err != nil {
		return foundation.ValidationError("payload failed schema validation").
			WithCause(err).
			WithContext("entity_kind", string(kind)).
			Build()
	}
	return nil
}
