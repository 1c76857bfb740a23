package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const memberSnapshotSchemaURL = "https://registry.lecsachurch.org/schemas/archive/member.schema.json"

// memberSnapshotSchema is the minimum a member snapshot needs to be restored.
const memberSnapshotSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["given_name", "family_name"],
	"properties": {
		"given_name": {"type": "string", "pattern": "\\S"},
		"family_name": {"type": "string", "pattern": "\\S"},
		"status": {"type": "string"},
		"receipts": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`

var memberSnapshot = mustCompile(memberSnapshotSchemaURL, memberSnapshotSchema)

func mustCompile(url, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("archive schema load failed: %v", err))
	}
	return c.MustCompile(url)
}

// validateMemberSnapshot checks raw against the member snapshot schema.
func validateMemberSnapshot(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	return memberSnapshot.Validate(doc)
}
