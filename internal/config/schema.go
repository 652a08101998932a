package config

import (
	"bytes"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/titanous/json5"

	"github.com/relaytide/edgegateway/internal/gwerr"
)

// configSchemaJSON validates the shape of a gateway config file against
// GatewayConfig/ChannelsConfig/TelemetryConfig (config.go,
// config_channels.go). Duration fields accept either a "60s"-style string
// or a millisecond integer, matching Duration.UnmarshalJSON. Every
// property is optional — Default() fills anything the file omits — so
// this only catches structurally wrong values (wrong type, unknown enum),
// not missing ones.
const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "gateway": {
      "type": "object",
      "properties": {
        "sessionTimeout": {"type": ["string", "integer"]},
        "suspendTimeout": {"type": ["string", "integer"]},
        "healthCheckInterval": {"type": ["string", "integer"]},
        "laneCapacity": {"type": "integer", "minimum": 0},
        "maxFramesPerSecond": {"type": "number", "minimum": 0},
        "maxConversations": {"type": "integer", "minimum": 0},
        "conversationTtl": {"type": ["string", "integer"]},
        "defaultConversationScope": {
          "type": "string",
          "enum": ["main", "per-peer", "per-channel-peer", "per-account-channel-peer"]
        },
        "defaultAgentId": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "nexusUrl": {"type": "string"},
        "maxConnections": {"type": "integer", "minimum": 0}
      }
    },
    "channels": {
      "type": "object",
      "properties": {
        "discord": {"$ref": "edgegateway://config.json#/$defs/channel"},
        "telegram": {
          "allOf": [{"$ref": "edgegateway://config.json#/$defs/channel"}],
          "properties": {
            "media_max_bytes": {"type": "integer", "minimum": 0},
            "proxy": {"type": "string"}
          }
        }
      }
    },
    "telemetry": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "endpoint": {"type": "string"},
        "protocol": {"type": "string", "enum": ["grpc", "http"]},
        "insecure": {"type": "boolean"},
        "service_name": {"type": "string"},
        "headers": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    }
  },
  "$defs": {
    "channel": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "allow_from": {"type": "array"},
        "dm_policy": {"type": "string", "enum": ["pairing", "allowlist", "open", "disabled"]},
        "group_policy": {"type": "string", "enum": ["open", "allowlist", "disabled"]},
        "require_mention": {"type": "boolean"},
        "rate_limit_per_minute": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

const configSchemaResourceName = "edgegateway://config.json"

// SchemaValidator validates raw config file bytes (JSON5) against
// configSchemaJSON. It satisfies the config.Validator interface consumed by
// the file watcher, and config.Load calls its Validate directly (the CLI's
// "config validate" subcommand reaches it through Load).
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the config schema once.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(configSchemaResourceName, bytes.NewReader([]byte(configSchemaJSON))); err != nil {
		return nil, gwerr.Wrap(gwerr.ErrInternal, "config: add schema resource: %v", err)
	}
	sch, err := c.Compile(configSchemaResourceName)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.ErrInternal, "config: compile schema: %v", err)
	}
	return &SchemaValidator{schema: sch}, nil
}

// Validate decodes data as JSON5 (config files tolerate comments and
// trailing commas, unlike the snapshot engine's plain-JSON envelopes) and
// checks the result against the config schema. An empty file validates
// cleanly here; the JSON5 unmarshal that follows in Load or the watcher
// then rejects it as a parse error. Only a missing file means "use
// defaults" to Load.
func (v *SchemaValidator) Validate(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var doc any
	if err := json5.Unmarshal(data, &doc); err != nil {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "config: invalid JSON5: %v", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "config: schema violation: %v", err)
	}
	return nil
}
