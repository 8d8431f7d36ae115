// Package config loads and validates the configuration of the work order
// service.
//
// # Overview
//
// A ServiceConfig is read from YAML (.yaml, .yml) or CUE (.cue files or a CUE
// package directory). CUE input is unified with a built-in #ServiceConfig
// schema before decoding, so type errors are reported with file positions.
// Both formats then get defaults and go-playground/validator struct checks.
//
// # Components
//
// CUEParser: compiles CUE sources, unifies them with the service schema and
// decodes the result.
//
// SchemaRegistry: holds named CUE schema definitions.
//
// ServiceConfig: the typed configuration, with builders for the telemetry
// configuration, the SQLite store configuration, storage probe options and the
// storage backend registry.
//
// # Usage Example
//
//	cfg, err := config.Load("/etc/froyo-orders/service.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	registry, err := cfg.BuildRegistry(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Example Configuration
//
//	store: path: "/var/lib/froyo-orders/orders.db"
//	rules: {
//	    paths: ["/etc/froyo-orders/rules"]
//	    watch: true
//	}
//	storage: backends: [{
//	    id:   "internal"
//	    kind: "dir"
//	    path: "/data/content"
//	    function_groups: ["maps", "media"]
//	}]
//	scheduler: {
//	    interval:   "15s"
//	    max_active: 2
//	}
package config
