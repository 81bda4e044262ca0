package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema is the structural contract for the manifest record
// inside a container. It runs before strict decoding so structural
// garbage is rejected with a schema error instead of a decode panic.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "version", "author", "permissions", "entry", "hash", "trust", "created_at"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "author": {"type": "string", "minLength": 1},
    "permissions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "string",
        "enum": ["analyze-project", "write-files", "network-access", "execute-commands", "deploy", "ci-access", "request-approval"]
      }
    },
    "entry": {"type": "string", "minLength": 1},
    "hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "trust": {"type": "string", "enum": ["UNTRUSTED", "ORG_APPROVED", "VERIFIED", "CORE"]},
    "created_at": {"type": "string", "format": "date-time"}
  }
}`

var compiledManifestSchema = mustCompileSchema("manifest.schema.json", manifestSchema)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://warden.schemas.local/bundle/" + name
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("bundle: schema load failed: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("bundle: schema compile failed: %v", err))
	}
	return compiled
}

func validateManifestSchema(raw []byte) error {
	var v any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&v); err != nil {
		return err
	}
	return compiledManifestSchema.Validate(v)
}
