package graph

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"drivesync/domain/contracts"
)

const driveItemSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"webUrl": {"type": "string"},
		"lastModifiedDateTime": {"type": "string"},
		"parentReference": {
			"type": "object",
			"properties": {"id": {"type": "string"}}
		},
		"folder": {"type": "object"},
		"file": {"type": "object"},
		"deleted": {"type": "object"},
		"shared": {"type": "object"}
	}
}`

const permissionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"roles": {"type": "array", "items": {"type": "string"}},
		"link": {
			"type": "object",
			"properties": {"scope": {"type": "string"}}
		},
		"grantedToV2": {"type": "object"},
		"grantedToIdentitiesV2": {"type": "array", "items": {"type": "object"}}
	}
}`

// recordValidator checks single records before they are decoded.
type recordValidator struct {
	driveItem  *jsonschema.Schema
	permission *jsonschema.Schema
}

func newRecordValidator() (*recordValidator, error) {
	compiler := jsonschema.NewCompiler()
	for url, doc := range map[string]string{
		"https://drivesync.local/schemas/driveitem.json":  driveItemSchema,
		"https://drivesync.local/schemas/permission.json": permissionSchema,
	} {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", url, err)
		}
		if err := compiler.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", url, err)
		}
	}

	driveItem, err := compiler.Compile("https://drivesync.local/schemas/driveitem.json")
	if err != nil {
		return nil, fmt.Errorf("compile drive item schema: %w", err)
	}
	permission, err := compiler.Compile("https://drivesync.local/schemas/permission.json")
	if err != nil {
		return nil, fmt.Errorf("compile permission schema: %w", err)
	}
	return &recordValidator{driveItem: driveItem, permission: permission}, nil
}

func (v *recordValidator) validate(schema *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMalformedRecord, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMalformedRecord, err)
	}
	return nil
}

// ValidateDriveItem rejects a driveItem payload that cannot be mapped.
func (v *recordValidator) ValidateDriveItem(raw []byte) error {
	return v.validate(v.driveItem, raw)
}

// ValidatePermission rejects a permission payload that cannot be mapped.
func (v *recordValidator) ValidatePermission(raw []byte) error {
	return v.validate(v.permission, raw)
}
