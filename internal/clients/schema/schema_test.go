package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/stages"
)

const invoiceSchema = `{
	"type": "object",
	"required": ["invoice_number", "total"],
	"properties": {
		"invoice_number": {"type": "string", "minLength": 1},
		"total": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]{2})?$"},
		"currency": {"type": "string", "enum": ["USD", "EUR", "GBP"]}
	}
}`

const defaultSchema = `{
	"type": "object",
	"required": ["title"]
}`

func testValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(map[string]string{
		"invoice": invoiceSchema,
		"default": defaultSchema,
	})
	require.NoError(t, err)
	return v
}

func TestValidatorCleanDocument(t *testing.T) {
	v := testValidator(t)

	out, err := v.Invoke(context.Background(), stages.Input{
		DocumentClass: "invoice",
		Fields: models.Fields{
			"invoice_number": {Value: "INV-001", Confidence: 0.95},
			"total":          {Value: "120.50", Confidence: 0.92},
			"currency":       {Value: "USD", Confidence: 0.90},
		},
	})
	require.NoError(t, err)

	assert.Empty(t, out.Violations)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestValidatorReportsViolations(t *testing.T) {
	v := testValidator(t)

	out, err := v.Invoke(context.Background(), stages.Input{
		DocumentClass: "invoice",
		Fields: models.Fields{
			"total":    {Value: "not-a-number", Confidence: 0.80},
			"currency": {Value: "YEN", Confidence: 0.85},
		},
	})
	require.NoError(t, err, "violations are results, not stage failures")

	assert.NotEmpty(t, out.Violations)
	assert.Less(t, out.Confidence, 1.0)
}

func TestValidatorFallsBackToDefaultSchema(t *testing.T) {
	v := testValidator(t)

	out, err := v.Invoke(context.Background(), stages.Input{
		DocumentClass: "memo",
		Fields:        models.Fields{"title": {Value: "Q3 update", Confidence: 0.9}},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Violations)
}

func TestValidatorRequiredFields(t *testing.T) {
	v := testValidator(t)

	assert.Equal(t, []string{"invoice_number", "total"}, v.RequiredFields("invoice"))
	assert.Equal(t, []string{"title"}, v.RequiredFields("unknown-class"))
}

func TestNewValidatorRejectsBadSchema(t *testing.T) {
	_, err := NewValidator(map[string]string{"broken": `{"type": 12}`})
	assert.Error(t, err)
}
