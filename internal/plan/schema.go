package plan

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_schema.json
var planSchemaJSON string

//go:embed delta_schema.json
var deltaSchemaJSON string

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	deltaSchema *jsonschema.Schema
	compileErr  error
)

func compileSchemas() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
		compileErr = fmt.Errorf("add plan schema: %w", err)
		return
	}
	if err := compiler.AddResource("delta_schema.json", strings.NewReader(deltaSchemaJSON)); err != nil {
		compileErr = fmt.Errorf("add delta schema: %w", err)
		return
	}
	if planSchema, compileErr = compiler.Compile("plan_schema.json"); compileErr != nil {
		compileErr = fmt.Errorf("compile plan schema: %w", compileErr)
		return
	}
	if deltaSchema, compileErr = compiler.Compile("delta_schema.json"); compileErr != nil {
		compileErr = fmt.Errorf("compile delta schema: %w", compileErr)
	}
}

// PlanSchema returns the compiled schema for initial plans.
func PlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(compileSchemas)
	return planSchema, compileErr
}

// DeltaSchema returns the compiled schema for plan deltas.
func DeltaSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(compileSchemas)
	return deltaSchema, compileErr
}
