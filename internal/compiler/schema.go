package compiler

import (
	"encoding/json"
	"fmt"
	"sync"

	gjsonschema "github.com/google/jsonschema-go/jsonschema"
)

// procedureDocumentSchema is the embedded top-level shape every decoded
// procedure document must satisfy before structural compilation walks it.
// It intentionally does not validate node shapes recursively (combinator
// vs. call discrimination is the compiler's own job, and each mis-shaped
// key has its own diagnostic); it only guards against a document that
// isn't even an object.
const procedureDocumentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"audit": {},
		"remediate": {},
		"parameters": {}
	}
}`

var (
	validatorOnce sync.Once
	resolved      *gjsonschema.Resolved
	resolveErr    error
)

func documentValidator() (*gjsonschema.Resolved, error) {
	validatorOnce.Do(func() {
		var schema gjsonschema.Schema
		if err := json.Unmarshal([]byte(procedureDocumentSchema), &schema); err != nil {
			resolveErr = fmt.Errorf("parse embedded procedure schema: %w", err)
			return
		}
		resolved, resolveErr = schema.CloneSchemas().Resolve(&gjsonschema.ResolveOptions{
			BaseURI: "complianceengine://procedure-document",
		})
	})
	return resolved, resolveErr
}

// validateTopLevel checks raw against procedureDocumentSchema. A schema
// failure here is reported as a generic decode error; the compiler's own
// walk produces the specific diagnostics for everything else.
func validateTopLevel(raw any) error {
	v, err := documentValidator()
	if err != nil {
		return err
	}
	return v.Validate(raw)
}
