// Package monitor validates settlement lookup responses against the
// collaborator's JSON contract before the engine trusts them.
package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// settlementSchema accepts the three shapes the lookup collaborator is
// allowed to return: a single record, an array of records, or null.
const settlementSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "record": {
      "type": "object",
      "required": ["invoiceId", "status"],
      "properties": {
        "invoiceId":      {"type": "string"},
        "orderId":        {"type": "string"},
        "invoiceType":    {"type": "string"},
        "status":         {"type": "string"},
        "totalAmount":    {"type": "number"},
        "depositApplied": {"type": "number"},
        "createdAt":      {"type": "string"},
        "updatedAt":      {"type": "string"}
      }
    }
  },
  "oneOf": [
    {"$ref": "#/definitions/record"},
    {"type": "array", "items": {"$ref": "#/definitions/record"}},
    {"type": "null"}
  ]
}`

// ContractMonitor validates lookup response bodies against the
// settlement schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles the embedded settlement schema.
func NewContractMonitor() (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(settlementSchema))
	if err != nil {
		return nil, fmt.Errorf("monitor: error compiling settlement schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate checks a lookup response body against the schema.
// It returns true if valid, or false and a list of validation errors if invalid.
func (cm *ContractMonitor) Validate(body []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return false, nil, fmt.Errorf("monitor: error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return false, errs, nil
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "validation errors: " + strings.Join(validationErrors, "; ")
}
