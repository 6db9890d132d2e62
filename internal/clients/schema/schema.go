// Package schema validates extracted fields against per-class JSON schemas.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/docuflow/docuflow/internal/logger"
	"github.com/docuflow/docuflow/internal/stages"
)

// defaultClass is the schema used when a document's class has no schema of
// its own.
const defaultClass = "default"

// Validator holds the compiled schemas for every known document class and
// runs the validation stage against them.
type Validator struct {
	schemas  map[string]*jsonschema.Schema
	required map[string][]string
}

// NewValidatorFromDir loads every *.json file in dir as the schema for the
// document class named by the file.
func NewValidatorFromDir(dir string) (*Validator, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema dir %q: %w", dir, err)
	}

	raw := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %q: %w", entry.Name(), err)
		}
		class := strings.TrimSuffix(entry.Name(), ".json")
		raw[class] = string(data)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no schemas found in %q", dir)
	}
	return NewValidator(raw)
}

// NewValidator compiles the given class -> schema document map.
func NewValidator(raw map[string]string) (*Validator, error) {
	v := &Validator{
		schemas:  map[string]*jsonschema.Schema{},
		required: map[string][]string{},
	}
	for class, doc := range raw {
		compiler := jsonschema.NewCompiler()
		url := fmt.Sprintf("schema://%s.json", class)
		if err := compiler.AddResource(url, strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("invalid schema for class %q: %w", class, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for class %q: %w", class, err)
		}
		v.schemas[class] = compiled
		v.required[class] = requiredFromDoc(doc)
	}
	return v, nil
}

// RequiredFields returns the field names the class's schema requires. These
// drive both extraction prompts and completeness scoring. Unknown classes
// fall back to the default schema.
func (v *Validator) RequiredFields(documentClass string) []string {
	if fields, ok := v.required[documentClass]; ok {
		return fields
	}
	return v.required[defaultClass]
}

// Invoke validates the accumulated fields against the schema for the
// document's class. Schema violations are not errors: the stage succeeds and
// reports them for the scorer to weigh.
func (v *Validator) Invoke(_ context.Context, in stages.Input) (stages.Output, error) {
	schema := v.schemas[in.DocumentClass]
	if schema == nil {
		schema = v.schemas[defaultClass]
	}
	if schema == nil {
		return stages.Output{}, stages.NewPermanentError(stages.StageValidation,
			fmt.Errorf("no schema for document class %q", in.DocumentClass))
	}

	doc := map[string]interface{}{}
	for name, field := range in.Fields {
		doc[name] = field.Value
	}

	var violations []string
	if err := schema.Validate(doc); err != nil {
		validationErr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return stages.Output{}, stages.NewPermanentError(stages.StageValidation, err)
		}
		violations = flatten(validationErr)
	}

	if len(violations) > 0 {
		logger.DebugWithFields("Schema validation found violations", map[string]interface{}{
			"document_ref": in.DocumentRef,
			"class":        in.DocumentClass,
			"violations":   len(violations),
		})
	}
	return stages.Output{
		Violations: violations,
		Confidence: validationConfidence(len(violations), len(doc)),
	}, nil
}

// flatten walks the validation error tree and collects one human-readable
// line per leaf cause.
func flatten(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		return []string{fmt.Sprintf("%s: %s", location, err.Message)}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, flatten(cause)...)
	}
	sort.Strings(out)
	return out
}

// validationConfidence reports how much of the document passed: 1.0 for a
// clean document, shrinking with the violation share.
func validationConfidence(violations, fieldCount int) float64 {
	if violations == 0 {
		return 1.0
	}
	if fieldCount == 0 {
		return 0
	}
	confidence := 1.0 - float64(violations)/float64(fieldCount)
	if confidence < 0 {
		return 0
	}
	return confidence
}

// requiredFromDoc pulls the top-level required list out of the raw schema so
// callers can ask for it without re-walking the compiled form.
func requiredFromDoc(doc string) []string {
	var parsed struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil
	}
	return parsed.Required
}
