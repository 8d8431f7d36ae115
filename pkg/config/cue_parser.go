package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser parses service configuration written in CUE.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
	}
}

// ParseFile parses a single CUE file.
func (cp *CUEParser) ParseFile(path string) (*ServiceConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return cp.parse(cp.ctx.CompileBytes(content, cue.Filename(path)))
}

// ParseDirectory loads a directory as a CUE package and parses it.
func (cp *CUEParser) ParseDirectory(dir string) (*ServiceConfig, error) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return nil, ValidationErrors{{File: dir, Message: "no CUE files found"}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return nil, cp.convertCUEErrors(inst.Err)
	}

	return cp.parse(cp.ctx.BuildInstance(inst))
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(content string) (*ServiceConfig, error) {
	return cp.parse(cp.ctx.CompileString(content, cue.Filename("inline")))
}

// parse checks val against the service schema and decodes it. Defaults are
// applied by the caller.
func (cp *CUEParser) parse(val cue.Value) (*ServiceConfig, error) {
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	unified, err := cp.schemaRegistry.Unify(SchemaService, val)
	if err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	data, err := cp.ExportJSON(unified)
	if err != nil {
		return nil, err
	}

	cfg := &ServiceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		})
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
	}
	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportJSON exports a CUE value to JSON.
func (cp *CUEParser) ExportJSON(val cue.Value) ([]byte, error) {
	var data interface{}
	if err := val.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	return json.Marshal(data)
}
