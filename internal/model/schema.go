package model

// JSON Schema documents for the two remote collections. The report schema is
// also what the ingest server validates incoming frames against.
const ReportSchemaURL = "resilientroute://schemas/report.json"

const ReportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "report",
  "type": "object",
  "required": ["id", "secure_content"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"enum": ["sos"]},
    "location": {
      "type": "array",
      "items": {"type": "number"},
      "minItems": 2,
      "maxItems": 2
    },
    "timestamp": {"type": "number", "minimum": 0},
    "secure_content": {"type": "string", "minLength": 1}
  }
}`

const OrderSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "order",
  "type": "object",
  "required": ["target_id", "secure_content"],
  "properties": {
    "target_id": {"type": "string", "minLength": 1},
    "secure_content": {"type": "string", "minLength": 1},
    "timestamp": {"type": "number", "minimum": 0}
  }
}`
