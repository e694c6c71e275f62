package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vespera-ai/quill/model"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestValidateTypeMismatch(t *testing.T) {
	schema := []model.DeclaredVariable{
		{Name: "count", Type: model.VariableNumber},
	}
	res := New(DefaultOptions()).Validate("{{count}}", schema, map[string]any{"count": "three"})

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, `variable "count": expected number, got string`, res.Errors[0])
}

func TestValidateRequiredMissing(t *testing.T) {
	schema := []model.DeclaredVariable{
		{Name: "name", Type: model.VariableString, Required: true},
	}
	res := New(DefaultOptions()).Validate("{{name}}", schema, nil)

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, `required variable "name" is missing and has no default`)
}

func TestValidateRequiredWithDefaultPasses(t *testing.T) {
	schema := []model.DeclaredVariable{
		{Name: "name", Type: model.VariableString, Required: true, Default: "world"},
	}
	res := New(DefaultOptions()).Validate("{{name}}", schema, nil)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "world", res.Output)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	// Validation never stops at the first problem: two schema errors and a
	// strict-compile failure must all be reported together.
	schema := []model.DeclaredVariable{
		{Name: "count", Type: model.VariableNumber, Required: true},
		{Name: "name", Type: model.VariableString},
	}
	res := New(DefaultOptions()).Validate("{{count}} {{name}} {{mystery}}", schema, map[string]any{
		"name": 42,
	})

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 3)
	assert.Contains(t, res.Errors, `required variable "count" is missing and has no default`)
	assert.Contains(t, res.Errors, `variable "name": expected string, got number`)
	assert.Contains(t, res.Errors, "compiler: missing variables: count, mystery")
}

func TestValidateWarnings(t *testing.T) {
	schema := []model.DeclaredVariable{
		{Name: "unused", Type: model.VariableString, Default: "x"},
	}
	res := New(DefaultOptions()).Validate("{{undeclared}}", schema, map[string]any{"undeclared": "v"})

	// Schema mismatches warn in both directions but do not fail validation.
	assert.True(t, res.Valid)
	assert.Contains(t, res.Warnings, `variable "undeclared" is referenced but not declared`)
	assert.Contains(t, res.Warnings, `variable "unused" is declared but never used`)
}

func TestValidateConstraints(t *testing.T) {
	tests := []struct {
		name    string
		dv      model.DeclaredVariable
		binding any
		wantErr string
	}{
		{
			name: "pattern mismatch",
			dv: model.DeclaredVariable{
				Name: "code", Type: model.VariableString,
				Constraints: &model.VariableConstraints{Pattern: `^[A-Z]{3}$`},
			},
			binding: "abc",
			wantErr: `variable "code": value does not match pattern "^[A-Z]{3}$"`,
		},
		{
			name: "pattern match",
			dv: model.DeclaredVariable{
				Name: "code", Type: model.VariableString,
				Constraints: &model.VariableConstraints{Pattern: `^[A-Z]{3}$`},
			},
			binding: "ABC",
		},
		{
			name: "string below min length",
			dv: model.DeclaredVariable{
				Name: "s", Type: model.VariableString,
				Constraints: &model.VariableConstraints{MinLength: intPtr(3)},
			},
			binding: "ab",
			wantErr: `variable "s": length 2 is below minimum 3`,
		},
		{
			name: "array above max length",
			dv: model.DeclaredVariable{
				Name: "items", Type: model.VariableArray,
				Constraints: &model.VariableConstraints{MaxLength: intPtr(2)},
			},
			binding: []any{"a", "b", "c"},
			wantErr: `variable "items": length 3 exceeds maximum 2`,
		},
		{
			name: "number below minimum",
			dv: model.DeclaredVariable{
				Name: "n", Type: model.VariableNumber,
				Constraints: &model.VariableConstraints{Min: floatPtr(1)},
			},
			binding: 0,
			wantErr: `variable "n": value 0 is below minimum 1`,
		},
		{
			name: "number above maximum",
			dv: model.DeclaredVariable{
				Name: "n", Type: model.VariableNumber,
				Constraints: &model.VariableConstraints{Max: floatPtr(10)},
			},
			binding: 11,
			wantErr: `variable "n": value 11 exceeds maximum 10`,
		},
		{
			name: "enum violation",
			dv: model.DeclaredVariable{
				Name: "tone", Type: model.VariableString,
				Constraints: &model.VariableConstraints{Enum: []string{"formal", "casual"}},
			},
			binding: "sarcastic",
			wantErr: `variable "tone": value "sarcastic" is not one of the allowed values`,
		},
		{
			name: "enum ok",
			dv: model.DeclaredVariable{
				Name: "tone", Type: model.VariableString,
				Constraints: &model.VariableConstraints{Enum: []string{"formal", "casual"}},
			},
			binding: "formal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(DefaultOptions()).Validate("{{"+tt.dv.Name+"}}", []model.DeclaredVariable{tt.dv},
				map[string]any{tt.dv.Name: tt.binding})
			if tt.wantErr == "" {
				assert.True(t, res.Valid, "errors: %v", res.Errors)
			} else {
				assert.False(t, res.Valid)
				assert.Contains(t, res.Errors, tt.wantErr)
			}
		})
	}
}

func TestValidateDefinition(t *testing.T) {
	c := New(DefaultOptions())

	t.Run("default type mismatch is an error", func(t *testing.T) {
		res := c.ValidateDefinition("{{n}}", []model.DeclaredVariable{
			{Name: "n", Type: model.VariableNumber, Default: "three"},
		})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors, `default for variable "n": expected number, got string`)
	})

	t.Run("duplicate declaration is an error", func(t *testing.T) {
		res := c.ValidateDefinition("{{n}}", []model.DeclaredVariable{
			{Name: "n", Type: model.VariableNumber},
			{Name: "n", Type: model.VariableString},
		})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors, `variable "n" is declared more than once`)
	})

	t.Run("required without default is fine at save time", func(t *testing.T) {
		res := c.ValidateDefinition("Hello {{name}}", []model.DeclaredVariable{
			{Name: "name", Type: model.VariableString, Required: true},
		})
		assert.True(t, res.Valid, "errors: %v", res.Errors)
	})

	t.Run("default violating its own constraint is an error", func(t *testing.T) {
		res := c.ValidateDefinition("{{s}}", []model.DeclaredVariable{
			{Name: "s", Type: model.VariableString, Default: "ab",
				Constraints: &model.VariableConstraints{MinLength: intPtr(5)}},
		})
		assert.False(t, res.Valid)
	})

	t.Run("renders defaults best effort", func(t *testing.T) {
		res := c.ValidateDefinition("Hello {{name}}{{punct}}", []model.DeclaredVariable{
			{Name: "name", Type: model.VariableString, Default: "world"},
			{Name: "punct", Type: model.VariableString},
		})
		assert.True(t, res.Valid)
		assert.Equal(t, "Hello world", res.Output)
	})
}

func TestReferencedVariables(t *testing.T) {
	content := "{{#if flag}}{{greeting}} {{user.name}}{{/if}}{{#each items}}{{this}} {{@index}}{{/each}}{{greeting}}"
	got := ReferencedVariables(content)
	// Base names, first-appearance order, loop-scope tags excluded.
	assert.Equal(t, []string{"flag", "greeting", "user", "items"}, got)
}
