package protocol

const envelopeSchemaURL = "statesync://envelope.schema.json"

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "payload"],
  "additionalProperties": false,
  "properties": {
    "type": {
      "enum": ["state", "state_leave_pvs", "pong", "state_ack", "state_request_full", "ping"]
    },
    "payload": {"type": "object"}
  }
}`
