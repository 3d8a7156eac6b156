package source

const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["timestamp", "type", "domain", "old_name"],
  "properties": {
    "timestamp": {"type": "string", "minLength": 1},
    "type": {"enum": ["create", "rename", "move", "altergroups", "alterblocks", "delete", "restore"]},
    "domain": {"type": "string", "minLength": 1},
    "old_name": {"type": "string", "minLength": 1},
    "new_name": {"type": "string", "minLength": 1},
    "actor_id": {"type": ["integer", "null"]},
    "groups": {"type": ["array", "null"], "items": {"type": "string"}},
    "blocks": {"type": ["array", "null"], "items": {"type": "string"}},
    "block_expiration": {"type": ["string", "null"]},
    "created_by": {"enum": ["self", "system", "peer", "", null]},
    "source_id": {"type": "integer"}
  },
  "if": {"properties": {"type": {"enum": ["rename", "move"]}}},
  "then": {"required": ["new_name"]}
}`

const stateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["entity_id", "domain", "name"],
  "properties": {
    "entity_id": {"type": "integer", "minimum": 0},
    "domain": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "registration": {"type": ["string", "null"]},
    "groups": {"type": ["array", "null"], "items": {"type": "string"}},
    "blocks": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`
