package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	schemagen "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const resultSchemaURL = "https://tender-docs.local/schemas/extraction-result.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// JSONSchema describes a row as an object of scalar cell values.
func (Row) JSONSchema() *schemagen.Schema {
	return &schemagen.Schema{
		Type:        "object",
		Description: "spreadsheet row keyed by column header",
	}
}

// ResultSchema returns the JSON schema of the extraction envelope.
func ResultSchema() ([]byte, error) {
	r := &schemagen.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(&ExtractionResult{})
	s.ID = schemagen.ID(resultSchemaURL)
	s.Title = "ExtractionResult"
	return json.MarshalIndent(s, "", "  ")
}

func compiled() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := ResultSchema()
		if err != nil {
			compileErr = fmt.Errorf("generate schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resultSchemaURL, bytes.NewReader(raw)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(resultSchemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// ValidateResult checks the JSON form of res against the envelope schema and
// then the status invariants.
func ValidateResult(res *ExtractionResult) error {
	schema, err := compiled()
	if err != nil {
		return err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("result does not match schema: %w", err)
	}
	return res.Check()
}
