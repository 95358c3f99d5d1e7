// Package payload decodes translation submissions from JSON or YAML and
// checks them against embedded JSON schemas before they reach the engine.
//
// Absent or null top-level fields are not a decoding error: they decode to
// nil and the engine answers them with its "Invalid parameters" reply.
package payload

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/valpere/batchtran/internal"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

const (
	batchSchema = "batch.schema.json"
	keyedSchema = "keyed.schema.json"
)

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// DecodeBatch decodes a batch submission. A null document yields nil params.
func DecodeBatch(raw []byte, format Format) (*internal.BatchParams, error) {
	value, err := decode(raw, format, batchSchema)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	var params internal.BatchParams
	if err := remarshal(value, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// DecodeKeyed decodes a keyed submission. A null document yields a nil map.
func DecodeKeyed(raw []byte, format Format) (map[string]internal.KeyedRequest, error) {
	value, err := decode(raw, format, keyedSchema)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	var reqs map[string]internal.KeyedRequest
	if err := remarshal(value, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func decode(raw []byte, format Format, schemaName string) (any, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("decode payload YAML: %w", err)
		}
		raw = converted
	}

	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}
	if value == nil {
		return nil, nil
	}

	schema, err := loadSchema(schemaName)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return value, nil
}

func loadSchema(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		compiled = make(map[string]*jsonschema.Schema)
		for _, n := range []string{batchSchema, keyedSchema} {
			data, err := schemaFS.ReadFile("schemas/" + n)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", n, err)
				return
			}
			if err := compiler.AddResource(n, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", n, err)
				return
			}
			schema, err := compiler.Compile(n)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", n, err)
				return
			}
			compiled[n] = schema
		}
	})

	if compileErr != nil {
		return nil, compileErr
	}
	schema, ok := compiled[name]
	if !ok {
		return nil, fmt.Errorf("schema %s not initialized", name)
	}
	return schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var value any
	if err := yaml.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	if value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(value)
}

func remarshal(value any, out any) error {
	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
