// Package contracts holds the JSON Schemas that gate generated content and
// the event stream. Schemas are embedded so validation never depends on
// external files at runtime.
package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Schema identifiers for Validate.
const (
	TurnOutputSchema = "https://worldbuild.space/schemas/turn_output.schema.json"
	CanonSchema      = "https://worldbuild.space/schemas/canon.schema.json"
	PromptPackSchema = "https://worldbuild.space/schemas/prompt_pack.schema.json"
	MatchEventSchema = "https://worldbuild.space/schemas/match_event.schema.json"
)

// Result reports the outcome of a schema check. Errors lists every leaf
// violation as "location: message", sorted for stable output.
type Result struct {
	OK     bool
	Errors []string
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	rawByID     map[string]json.RawMessage
	compileErr  error
)

// SchemaJSON returns the raw embedded schema document for schemaID, for
// callers that forward schemas verbatim (structured-output requests).
func SchemaJSON(schemaID string) (json.RawMessage, error) {
	if _, err := registry(); err != nil {
		return nil, err
	}
	raw, ok := rawByID[schemaID]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", schemaID)
	}
	return raw, nil
}

func registry() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		entries, err := fs.ReadDir(schemaFS, "schemas")
		if err != nil {
			compileErr = fmt.Errorf("read embedded schemas: %w", err)
			return
		}

		type rawSchema struct {
			ID string `json:"$id"`
		}
		ids := make([]string, 0, len(entries))
		rawByID = make(map[string]json.RawMessage, len(entries))
		for _, entry := range entries {
			raw, err := schemaFS.ReadFile("schemas/" + entry.Name())
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", entry.Name(), err)
				return
			}
			var meta rawSchema
			if err := json.Unmarshal(raw, &meta); err != nil || meta.ID == "" {
				compileErr = fmt.Errorf("schema %s has no $id", entry.Name())
				return
			}
			if err := compiler.AddResource(meta.ID, bytes.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("add schema %s: %w", entry.Name(), err)
				return
			}
			ids = append(ids, meta.ID)
			rawByID[meta.ID] = raw
		}

		compiled = make(map[string]*jsonschema.Schema, len(ids))
		for _, id := range ids {
			schema, err := compiler.Compile(id)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", id, err)
				return
			}
			compiled[id] = schema
		}
	})
	return compiled, compileErr
}

// Validate checks an instance against the schema registered under schemaID.
// The instance may be raw JSON bytes or any Go value; either is normalized
// to generic JSON before validation. A violation is reported in Result, not
// as an error; the error return covers registry and decoding failures only.
func Validate(schemaID string, instance any) (Result, error) {
	schemas, err := registry()
	if err != nil {
		return Result{}, err
	}
	schema, ok := schemas[schemaID]
	if !ok {
		return Result{}, fmt.Errorf("unknown schema %q", schemaID)
	}

	value, err := normalize(instance)
	if err != nil {
		return Result{}, err
	}

	if err := schema.Validate(value); err != nil {
		var vErr *jsonschema.ValidationError
		if ok := asValidationError(err, &vErr); ok {
			return Result{OK: false, Errors: leafMessages(vErr)}, nil
		}
		return Result{}, fmt.Errorf("validate against %s: %w", schemaID, err)
	}
	return Result{OK: true}, nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	if v, ok := err.(*jsonschema.ValidationError); ok {
		*target = v
		return true
	}
	return false
}

func normalize(instance any) (any, error) {
	var raw []byte
	switch v := instance.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode instance: %w", err)
		}
		raw = encoded
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	return value, nil
}

func leafMessages(err *jsonschema.ValidationError) []string {
	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			loc := v.InstanceLocation
			if loc == "" {
				loc = "<root>"
			}
			leaves = append(leaves, loc+": "+v.Message)
			return
		}
		for _, cause := range v.Causes {
			walk(cause)
		}
	}
	walk(err)
	sort.Strings(leaves)
	return leaves
}
