package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vespera-ai/quill/model"
)

func compile(t *testing.T, content string, schema []model.DeclaredVariable, bindings map[string]any) string {
	t.Helper()
	out, err := New(DefaultOptions()).Compile(content, schema, bindings)
	require.NoError(t, err)
	return out
}

func TestCompileVariableSubstitution(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		bindings map[string]any
		want     string
	}{
		{
			name:     "single variable",
			content:  "Hello {{name}}!",
			bindings: map[string]any{"name": "Ada"},
			want:     "Hello Ada!",
		},
		{
			name:     "repeated variable",
			content:  "{{x}} and {{x}}",
			bindings: map[string]any{"x": "a"},
			want:     "a and a",
		},
		{
			name:     "integral float renders without decimal point",
			content:  "count={{n}}",
			bindings: map[string]any{"n": 3.0},
			want:     "count=3",
		},
		{
			name:     "fractional float",
			content:  "ratio={{r}}",
			bindings: map[string]any{"r": 0.5},
			want:     "ratio=0.5",
		},
		{
			name:     "boolean renders as literal",
			content:  "flag={{on}}",
			bindings: map[string]any{"on": true},
			want:     "flag=true",
		},
		{
			name:     "nil binding renders empty",
			content:  "[{{v}}]",
			bindings: map[string]any{"v": nil},
			want:     "[]",
		},
		{
			name:     "dotted reference into object",
			content:  "{{user.name}} <{{user.email}}>",
			bindings: map[string]any{"user": map[string]any{"name": "Ada", "email": "ada@example.com"}},
			want:     "Ada <ada@example.com>",
		},
		{
			name:     "whitespace inside tag is tolerated",
			content:  "Hello {{ name }}!",
			bindings: map[string]any{"name": "Ada"},
			want:     "Hello Ada!",
		},
		{
			name:     "unclosed tag passes through",
			content:  "Hello {{name",
			bindings: map[string]any{"name": "Ada"},
			want:     "Hello {{name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.content, nil, tt.bindings))
		})
	}
}

func TestCompileUsesSchemaDefaults(t *testing.T) {
	schema := []model.DeclaredVariable{
		{Name: "product", Type: model.VariableString, Default: "Quill"},
	}
	out := compile(t, "Welcome to {{product}}", schema, nil)
	assert.Equal(t, "Welcome to Quill", out)

	// An explicit binding wins over the default.
	out = compile(t, "Welcome to {{product}}", schema, map[string]any{"product": "Other"})
	assert.Equal(t, "Welcome to Other", out)
}

func TestCompileConditionals(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		bindings map[string]any
		want     string
	}{
		{
			name:     "truthy keeps block",
			content:  "a{{#if flag}}X{{/if}}b",
			bindings: map[string]any{"flag": true},
			want:     "aXb",
		},
		{
			name:     "falsy removes block",
			content:  "a{{#if flag}}X{{/if}}b",
			bindings: map[string]any{"flag": false},
			want:     "ab",
		},
		{
			name:     "undefined is falsy",
			content:  "a{{#if flag}}X{{/if}}b",
			bindings: nil,
			want:     "ab",
		},
		{
			name:     "empty string is falsy",
			content:  "{{#if s}}X{{/if}}",
			bindings: map[string]any{"s": ""},
			want:     "",
		},
		{
			name:     "zero is falsy",
			content:  "{{#if n}}X{{/if}}",
			bindings: map[string]any{"n": 0},
			want:     "",
		},
		{
			name:     "non-empty array is truthy",
			content:  "{{#if items}}have items{{/if}}",
			bindings: map[string]any{"items": []any{"a"}},
			want:     "have items",
		},
		{
			name:     "empty array is falsy",
			content:  "{{#if items}}have items{{/if}}",
			bindings: map[string]any{"items": []any{}},
			want:     "",
		},
		{
			name:     "body variables still substitute",
			content:  "{{#if flag}}hi {{name}}{{/if}}",
			bindings: map[string]any{"flag": true, "name": "Ada"},
			want:     "hi Ada",
		},
		{
			name:     "missing close tag passes through literally",
			content:  "a{{#if flag}}X",
			bindings: map[string]any{"flag": true},
			want:     "a{{#if flag}}X",
		},
		{
			name:     "two sibling blocks",
			content:  "{{#if a}}A{{/if}}{{#if b}}B{{/if}}",
			bindings: map[string]any{"a": true, "b": false},
			want:     "A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.content, nil, tt.bindings))
		})
	}
}

func TestCompileLoops(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		bindings map[string]any
		want     string
	}{
		{
			name:     "index and element",
			content:  "{{#each items}}{{@index}}:{{this}} {{/each}}",
			bindings: map[string]any{"items": []any{"x", "y"}},
			want:     "0:x 1:y ",
		},
		{
			name:     "first and last markers",
			content:  "{{#each items}}{{@first}}-{{@last}},{{/each}}",
			bindings: map[string]any{"items": []any{"a", "b", "c"}},
			want:     "true-false,false-false,false-true,",
		},
		{
			name:     "empty sequence renders nothing",
			content:  "[{{#each items}}{{this}}{{/each}}]",
			bindings: map[string]any{"items": []any{}},
			want:     "[]",
		},
		{
			name:     "undefined sequence renders nothing",
			content:  "[{{#each items}}{{this}}{{/each}}]",
			bindings: nil,
			want:     "[]",
		},
		{
			name:     "non-sequence renders nothing",
			content:  "[{{#each items}}{{this}}{{/each}}]",
			bindings: map[string]any{"items": "not a list"},
			want:     "[]",
		},
		{
			name:     "string slice binding",
			content:  "{{#each tags}}#{{this}} {{/each}}",
			bindings: map[string]any{"tags": []string{"go", "llm"}},
			want:     "#go #llm ",
		},
		{
			name:     "missing close tag passes through",
			content:  "{{#each items}}{{this}}",
			bindings: map[string]any{"items": []any{"a"}},
			want:     "{{#each items}}{{this}}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.content, nil, tt.bindings))
		})
	}
}

func TestCompilePassOrder(t *testing.T) {
	// Conditionals evaluate before loops, loops before variables: a loop
	// inside a removed conditional never runs.
	out := compile(t,
		"{{#if flag}}{{#each items}}{{this}}{{/each}}{{/if}}done",
		nil,
		map[string]any{"flag": false, "items": []any{"a", "b"}},
	)
	assert.Equal(t, "done", out)
}

func TestCompileStrictMissingVariables(t *testing.T) {
	_, err := New(DefaultOptions()).Compile("{{b}} {{a}} {{b}}", nil, nil)
	require.Error(t, err)

	var cerr *CompilationError
	require.True(t, errors.As(err, &cerr))
	// Deduplicated and sorted.
	assert.Equal(t, []string{"a", "b"}, cerr.Missing)
	assert.Contains(t, cerr.Error(), "missing variables: a, b")
}

func TestCompileNonStrictFallback(t *testing.T) {
	c := New(Options{Strict: false, Fallback: "<unset>"})
	out, err := c.Compile("x={{x}}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "x=<unset>", out)

	c = New(Options{Strict: false})
	out, err = c.Compile("x={{x}}!", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "x=!", out)
}

func TestCompileNormalizeWhitespace(t *testing.T) {
	c := New(Options{Strict: true, NormalizeWhitespace: true})
	out, err := c.Compile("  hello   {{name}}  \nsecond\t line ", nil, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello Ada\nsecond line", out)
}

func TestCompileEscapeHTML(t *testing.T) {
	c := New(Options{Strict: true, EscapeHTML: true})
	out, err := c.Compile("{{v}}", nil, map[string]any{"v": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;&amp;&lt;/b&gt;", out)
}

func TestCompileDeterministic(t *testing.T) {
	content := "{{#if flag}}{{#each items}}{{@index}}={{this}};{{/each}}{{/if}} {{user.name}}"
	bindings := map[string]any{
		"flag":  true,
		"items": []any{"a", "b", "c"},
		"user":  map[string]any{"name": "Ada"},
	}
	first := compile(t, content, nil, bindings)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, compile(t, content, nil, bindings))
	}
}
