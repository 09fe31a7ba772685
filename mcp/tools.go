package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const (
	ToolGetBalances   = "get_balances"
	ToolEnsureAccount = "ensure_account"
	ToolTransfer      = "transfer"
	ToolGetTransfer   = "get_transfer"
)

const base58Pattern = "^[1-9A-HJ-NP-Za-km-z]{32,44}$"

var getBalancesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"owner": {"type": "string", "pattern": "` + base58Pattern + `", "description": "Owner address"}
	},
	"required": ["owner"],
	"additionalProperties": false
}`)

var ensureAccountSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"owner": {"type": "string", "pattern": "` + base58Pattern + `", "description": "Owner address"},
		"mint": {"type": "string", "pattern": "` + base58Pattern + `", "description": "Asset mint address"},
		"payerIndex": {"type": "integer", "minimum": 0, "description": "Keyring account paying the rent"}
	},
	"required": ["owner", "mint"],
	"additionalProperties": false
}`)

var transferSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"requestId": {"type": "string", "minLength": 1, "description": "Idempotency key; replays return the first submission"},
		"fromIndex": {"type": "integer", "minimum": 0, "description": "Keyring account sending the value"},
		"to": {"type": "string", "pattern": "` + base58Pattern + `", "description": "Destination owner address"},
		"mint": {"type": "string", "pattern": "` + base58Pattern + `", "description": "Asset mint; omit for the native currency"},
		"amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$", "description": "Decimal amount in whole units"}
	},
	"required": ["to", "amount"],
	"additionalProperties": false
}`)

var getTransferSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"requestId": {"type": "string", "minLength": 1}
	},
	"required": ["requestId"],
	"additionalProperties": false
}`)

// validateArguments checks raw tool arguments against schema
func validateArguments(schema, arguments json.RawMessage) error {
	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(arguments),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
}
