package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaService is the name of the service configuration schema.
const SchemaService = "service"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaService, builtinServiceSchema, "#ServiceConfig"); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles schema and registers the definition named def under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if def != "" {
		val = val.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			return fmt.Errorf("schema %s has no definition %s", name, def)
		}
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with a named schema and checks the result is concrete.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions

const builtinServiceSchema = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$" | ""

#SFTP: {
	host:            string & !=""
	port?:           int & >=1 & <=65535
	user:            string & !=""
	auth?:           "password" | "key"
	password?:       string
	key_path?:       string
	key_passphrase?: string
	known_hosts?:    string
	timeout?:        #Duration
}

#Backend: {
	id:               string & !=""
	kind:             "dir" | "sftp"
	path:             string & !=""
	quota_bytes?:     int & >=0
	function_groups?: [...string]
	sftp?:            #SFTP
	if kind == "sftp" {
		sftp: #SFTP
	}
}

#Rule: {
	name:         string & !=""
	description?: string
	kind?:        "rego" | "starlark"
	conditions?: [...string]
	module?:  string
	script?:  string
	enabled?: bool
	timeout?: #Duration
}

#ServiceConfig: {
	environment?: string
	logging?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		format?: "console" | "json"
		output?: string
		caller?: bool
	}
	store?: {
		path?:           string
		max_open_conns?: int & >=0
	}
	rules?: {
		paths?: [...string]
		watch?:    bool
		builtins?: bool
		inline?: [...#Rule]
	}
	storage?: {
		backends?: [...#Backend]
		probe_timeout?: #Duration
		capacity_ttl?:  #Duration
		requirements?: [...string]
	}
	scheduler?: {
		interval?:   #Duration
		workers?:    int & >=0
		max_active?: int & >=0
	}
	metrics?: {
		enabled?:        bool
		listen_address?: string
		path?:           string
	}
	tracing?: {
		enabled?:       bool
		exporter?:      "otlp" | "stdout" | "none"
		endpoint?:      string
		sampling_rate?: number & >=0 & <=1
		insecure?:      bool
	}
}
`
