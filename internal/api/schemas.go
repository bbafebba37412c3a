package api

const messageSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["owner_id", "session_id", "text"],
  "properties": {
    "owner_type": {"type": "string", "minLength": 1, "maxLength": 50},
    "owner_id": {"type": "string", "minLength": 1, "maxLength": 255},
    "session_id": {"type": "string", "minLength": 1, "maxLength": 255},
    "text": {"type": "string", "minLength": 1, "maxLength": 4096}
  }
}`

const createContainerSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["owner_id", "name", "type"],
  "properties": {
    "owner_type": {"type": "string", "minLength": 1, "maxLength": 50},
    "owner_id": {"type": "string", "minLength": 1, "maxLength": 255},
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "type": {"type": "string", "enum": ["CASH", "BANK_ACCOUNT", "CREDIT_CARD", "WALLET", "LOAN", "RECEIVABLE", "INVENTORY", "ASSET"]},
    "unit": {"type": "string", "maxLength": 50},
    "capacity_limit": {"type": "string", "pattern": "^-?\\d+(\\.\\d+)?$"},
    "opening_value": {"type": "string", "pattern": "^-?\\d+(\\.\\d+)?$"}
  }
}`

const reverseTransactionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["owner_id"],
  "properties": {
    "owner_type": {"type": "string", "minLength": 1, "maxLength": 50},
    "owner_id": {"type": "string", "minLength": 1, "maxLength": 255}
  }
}`
