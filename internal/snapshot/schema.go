// Package snapshot implements the composite snapshot/restore engine
// (spec §4.I): it bundles the Conversation Store (4.D), Session Manager
// (4.E), and Delivery Tracker (4.F) snapshots under one versioned envelope,
// validates every sub-document against a JSON schema before touching live
// state, and restores in the order the spec mandates. Schema validation is
// grounded on the santhosh-tekuri/jsonschema/v6 dependency carried by
// sibling forks of the teacher repo (see DESIGN.md) — the teacher itself
// never validated its session/config JSON against a schema.
package snapshot

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/relaytide/edgegateway/internal/gwerr"
)

// compositeSchemaJSON validates the composite envelope shape. Sub-snapshots
// are validated structurally (version + capturedAt present) — the bulk of
// their field-level invariants are enforced by each component's own
// Restore, which is the single source of truth for its data model.
const compositeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "capturedAt", "conversations", "sessions", "delivery"],
  "properties": {
    "version": {"const": 1},
    "capturedAt": {"type": "integer"},
    "conversations": {
      "type": "object",
      "required": ["version", "bindings", "capturedAt"],
      "properties": {
        "version": {"const": 1},
        "bindings": {"type": "array"},
        "capturedAt": {"type": "integer"}
      }
    },
    "sessions": {
      "type": "object",
      "required": ["version", "sessions", "capturedAt"],
      "properties": {
        "version": {"const": 1},
        "sessions": {"type": "array"},
        "capturedAt": {"type": "integer"}
      }
    },
    "delivery": {
      "type": "object",
      "required": ["version", "pending", "capturedAt"],
      "properties": {
        "version": {"const": 1},
        "pending": {"type": "array"},
        "capturedAt": {"type": "integer"}
      }
    }
  }
}`

const schemaResourceName = "edgegateway://snapshot.json"

// SchemaValidator validates raw snapshot JSON against the composite
// schema. internal/config carries its own SchemaValidator, built the same
// way against a config-specific schema string, for the config watcher and
// config.Load — the two share the jsonschema/v6 machinery, not a schema.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the composite snapshot schema once.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResourceName, bytes.NewReader([]byte(compositeSchemaJSON))); err != nil {
		return nil, gwerr.Wrap(gwerr.ErrInternal, "snapshot: add schema resource: %v", err)
	}
	sch, err := c.Compile(schemaResourceName)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.ErrInternal, "snapshot: compile schema: %v", err)
	}
	return &SchemaValidator{schema: sch}, nil
}

// Validate checks data against the composite schema.
func (v *SchemaValidator) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "snapshot: invalid JSON: %v", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "snapshot: schema violation: %v", err)
	}
	return nil
}
