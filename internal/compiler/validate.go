package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vespera-ai/quill/model"
)

// ValidationResult aggregates every violation found for one template and
// binding set. Validate never short-circuits and never returns an error:
// all problems are collected before returning.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// Output holds the compiled text when compilation succeeded,
	// best-effort.
	Output string `json:"output,omitempty"`
}

// Validate cross-references the template against its declared schema and
// the provided bindings.
//
// Schema/reference mismatches are warnings in both directions
// (referenced-but-undeclared and declared-but-unused). Missing required
// variables without defaults, type mismatches, and constraint violations
// are errors. Compilation is attempted regardless so syntax and runtime
// failures surface alongside schema problems.
func (c *Compiler) Validate(content string, schema []model.DeclaredVariable, bindings map[string]any) ValidationResult {
	var res ValidationResult

	declared := make(map[string]model.DeclaredVariable, len(schema))
	for _, dv := range schema {
		declared[dv.Name] = dv
	}

	referenced := ReferencedVariables(content)
	refSet := make(map[string]bool, len(referenced))
	for _, name := range referenced {
		refSet[name] = true
		if _, ok := declared[name]; !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("variable %q is referenced but not declared", name))
		}
	}
	for _, dv := range schema {
		if !refSet[dv.Name] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("variable %q is declared but never used", dv.Name))
		}
	}

	for _, dv := range schema {
		val, provided := bindings[dv.Name]
		if !provided {
			if dv.Required && dv.Default == nil {
				res.Errors = append(res.Errors, fmt.Sprintf("required variable %q is missing and has no default", dv.Name))
			}
			continue
		}
		v := FromAny(val)
		if !v.IsNull() && !v.MatchesType(dv.Type) {
			res.Errors = append(res.Errors, fmt.Sprintf("variable %q: expected %s, got %s", dv.Name, dv.Type, v.Kind()))
			continue
		}
		res.Errors = append(res.Errors, checkConstraints(dv, v)...)
	}

	out, err := c.Compile(content, schema, bindings)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	} else {
		res.Output = out
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// ValidateDefinition checks a template and its declared schema without
// caller bindings, for use at save time. Declared defaults must match
// their declared type and satisfy their own constraints; duplicate
// variable names are errors. Required-presence is a binding-time concern
// and is not checked here. Cross-reference mismatches warn as in
// Validate.
func (c *Compiler) ValidateDefinition(content string, schema []model.DeclaredVariable) ValidationResult {
	var res ValidationResult

	declared := make(map[string]bool, len(schema))
	for _, dv := range schema {
		if dv.Name == "" {
			res.Errors = append(res.Errors, "variable declared with empty name")
			continue
		}
		if declared[dv.Name] {
			res.Errors = append(res.Errors, fmt.Sprintf("variable %q is declared more than once", dv.Name))
		}
		declared[dv.Name] = true
	}

	refSet := make(map[string]bool)
	for _, name := range ReferencedVariables(content) {
		refSet[name] = true
		if !declared[name] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("variable %q is referenced but not declared", name))
		}
	}
	for _, dv := range schema {
		if !refSet[dv.Name] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("variable %q is declared but never used", dv.Name))
		}
	}

	for _, dv := range schema {
		if dv.Default == nil {
			continue
		}
		v := FromAny(dv.Default)
		if !v.MatchesType(dv.Type) {
			res.Errors = append(res.Errors, fmt.Sprintf("default for variable %q: expected %s, got %s", dv.Name, dv.Type, v.Kind()))
			continue
		}
		res.Errors = append(res.Errors, checkConstraints(dv, v)...)
	}

	// Best-effort render with defaults only; unresolved references are
	// expected here, so strictness is off.
	relaxed := c.opts
	relaxed.Strict = false
	bindings := make(map[string]any)
	for _, dv := range schema {
		if dv.Default != nil {
			bindings[dv.Name] = dv.Default
		}
	}
	if out, err := New(relaxed).Compile(content, schema, bindings); err == nil {
		res.Output = out
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// checkConstraints applies the declared constraints to one provided value.
func checkConstraints(dv model.DeclaredVariable, v Value) []string {
	c := dv.Constraints
	if c == nil || v.IsNull() {
		return nil
	}
	var errs []string

	if c.Pattern != "" && v.Kind() == KindString {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			errs = append(errs, fmt.Sprintf("variable %q: invalid pattern %q: %v", dv.Name, c.Pattern, err))
		} else if !re.MatchString(v.Render()) {
			errs = append(errs, fmt.Sprintf("variable %q: value does not match pattern %q", dv.Name, c.Pattern))
		}
	}

	length := -1
	switch v.Kind() {
	case KindString:
		length = len(v.Render())
	case KindSequence:
		seq, _ := v.Seq()
		length = len(seq)
	}
	if length >= 0 {
		if c.MinLength != nil && length < *c.MinLength {
			errs = append(errs, fmt.Sprintf("variable %q: length %d is below minimum %d", dv.Name, length, *c.MinLength))
		}
		if c.MaxLength != nil && length > *c.MaxLength {
			errs = append(errs, fmt.Sprintf("variable %q: length %d exceeds maximum %d", dv.Name, length, *c.MaxLength))
		}
	}

	if v.Kind() == KindNumber {
		if c.Min != nil && v.num < *c.Min {
			errs = append(errs, fmt.Sprintf("variable %q: value %v is below minimum %v", dv.Name, v.num, *c.Min))
		}
		if c.Max != nil && v.num > *c.Max {
			errs = append(errs, fmt.Sprintf("variable %q: value %v exceeds maximum %v", dv.Name, v.num, *c.Max))
		}
	}

	if len(c.Enum) > 0 {
		rendered := v.Render()
		found := false
		for _, allowed := range c.Enum {
			if rendered == allowed {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("variable %q: value %q is not one of the allowed values", dv.Name, rendered))
		}
	}

	return errs
}

// ReferencedVariables extracts the base names of every variable the
// template references, in order of first appearance. Loop-scope tags
// ({{this}}, {{@index}}, ...) are not variables and are excluded.
func ReferencedVariables(content string) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(ref string) {
		base, _, _ := strings.Cut(ref, ".")
		if base == "" || base == "this" || seen[base] {
			return
		}
		seen[base] = true
		names = append(names, base)
	}

	s := content
	for {
		open := strings.Index(s, "{{")
		if open < 0 {
			return names
		}
		end := strings.Index(s[open:], tagEnd)
		if end < 0 {
			return names
		}
		end += open
		tag := strings.TrimSpace(s[open+2 : end])
		switch {
		case strings.HasPrefix(tag, "#if "):
			add(strings.TrimSpace(strings.TrimPrefix(tag, "#if ")))
		case strings.HasPrefix(tag, "#each "):
			add(strings.TrimSpace(strings.TrimPrefix(tag, "#each ")))
		case isReference(tag):
			add(tag)
		}
		s = s[end+len(tagEnd):]
	}
}
