// Package compiler implements the template DSL: a three-pass evaluator
// for conditionals, loops, and variable substitution, plus schema
// validation of binding environments.
//
// Pass order is fixed: {{#if}} blocks first, {{#each}} blocks second,
// {{name}} substitution last. Blocks are single-level only; nesting is
// intentionally unsupported.
package compiler

import (
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/vespera-ai/quill/model"
)

// Options configures compilation behavior.
type Options struct {
	// Strict turns an unresolvable variable (no binding, no default)
	// into a CompilationError instead of the Fallback string.
	Strict bool

	// Fallback is substituted for unresolvable variables in non-strict mode.
	Fallback string

	// NormalizeWhitespace collapses runs of spaces and tabs and trims
	// line-leading/trailing blanks on the compiled output.
	NormalizeWhitespace bool

	// EscapeHTML escapes the fully compiled text for HTML embedding.
	EscapeHTML bool
}

// DefaultOptions is strict compilation with no post-processing.
func DefaultOptions() Options {
	return Options{Strict: true}
}

// CompilationError reports an unrecoverable DSL evaluation failure.
// Missing carries the names of every variable that could not be resolved.
type CompilationError struct {
	Missing []string
}

func (e *CompilationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("compiler: missing variables: %s", strings.Join(e.Missing, ", "))
	}
	return "compiler: compilation failed"
}

// Compiler evaluates template text against a binding environment.
// Evaluation is fully synchronous; there is no I/O and no cancellation.
type Compiler struct {
	opts Options
}

// New creates a Compiler with the given options.
func New(opts Options) *Compiler {
	return &Compiler{opts: opts}
}

// env resolves variable references against bindings with schema defaults
// as the fallback layer.
type env struct {
	bindings map[string]Value
	defaults map[string]Value
}

func newEnv(schema []model.DeclaredVariable, bindings map[string]any) *env {
	e := &env{
		bindings: make(map[string]Value, len(bindings)),
		defaults: make(map[string]Value, len(schema)),
	}
	for name, v := range bindings {
		e.bindings[name] = FromAny(v)
	}
	for _, dv := range schema {
		if dv.Default != nil {
			e.defaults[dv.Name] = FromAny(dv.Default)
		}
	}
	return e
}

// resolve looks up a possibly dotted reference. The boolean reports
// whether the reference was defined at all; a defined null is (Null, true).
func (e *env) resolve(ref string) (Value, bool) {
	name, rest, dotted := strings.Cut(ref, ".")
	v, ok := e.bindings[name]
	if !ok {
		v, ok = e.defaults[name]
	}
	if !ok {
		return Null, false
	}
	if !dotted {
		return v, true
	}
	for rest != "" {
		var field string
		field, rest, _ = strings.Cut(rest, ".")
		v, ok = v.Field(field)
		if !ok {
			return Null, false
		}
	}
	return v, true
}

// Compile evaluates content against bindings, using schema defaults for
// unbound variables. Identical inputs always produce identical output.
func (c *Compiler) Compile(content string, schema []model.DeclaredVariable, bindings map[string]any) (string, error) {
	e := newEnv(schema, bindings)

	out := passConditionals(content, e)
	out = passLoops(out, e)
	out, missing := passVariables(out, e, c.opts)
	if len(missing) > 0 && c.opts.Strict {
		sort.Strings(missing)
		return "", &CompilationError{Missing: missing}
	}

	if c.opts.NormalizeWhitespace {
		out = normalizeWhitespace(out)
	}
	if c.opts.EscapeHTML {
		out = html.EscapeString(out)
	}
	return out, nil
}

const (
	ifOpen    = "{{#if "
	ifClose   = "{{/if}}"
	eachOpen  = "{{#each "
	eachClose = "{{/each}}"
	tagEnd    = "}}"
)

// passConditionals removes or keeps {{#if name}}...{{/if}} blocks based on
// the truthiness of name. Malformed blocks (no closing tag) pass through
// literally. Single-level only.
func passConditionals(s string, e *env) string {
	var b strings.Builder
	for {
		open := strings.Index(s, ifOpen)
		if open < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[open:], tagEnd)
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += open
		name := strings.TrimSpace(s[open+len(ifOpen) : end])
		close := strings.Index(s[end+len(tagEnd):], ifClose)
		if name == "" || close < 0 {
			// No closing tag: emit the open tag literally and move on.
			b.WriteString(s[:end+len(tagEnd)])
			s = s[end+len(tagEnd):]
			continue
		}
		close += end + len(tagEnd)
		b.WriteString(s[:open])
		v, _ := e.resolve(name)
		if v.Truthy() {
			b.WriteString(s[end+len(tagEnd) : close])
		}
		s = s[close+len(ifClose):]
	}
}

// passLoops expands {{#each name}}...{{/each}} blocks. The block body is
// re-emitted once per element with {{this}}, {{@index}}, {{@first}}, and
// {{@last}} substituted. A name that does not resolve to a sequence
// renders as the empty string.
func passLoops(s string, e *env) string {
	var b strings.Builder
	for {
		open := strings.Index(s, eachOpen)
		if open < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[open:], tagEnd)
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += open
		name := strings.TrimSpace(s[open+len(eachOpen) : end])
		close := strings.Index(s[end+len(tagEnd):], eachClose)
		if name == "" || close < 0 {
			b.WriteString(s[:end+len(tagEnd)])
			s = s[end+len(tagEnd):]
			continue
		}
		close += end + len(tagEnd)
		b.WriteString(s[:open])
		body := s[end+len(tagEnd) : close]
		if v, ok := e.resolve(name); ok {
			if elems, isSeq := v.Seq(); isSeq {
				for i, elem := range elems {
					iter := strings.ReplaceAll(body, "{{this}}", elem.Render())
					iter = strings.ReplaceAll(iter, "{{@index}}", strconv.Itoa(i))
					iter = strings.ReplaceAll(iter, "{{@first}}", strconv.FormatBool(i == 0))
					iter = strings.ReplaceAll(iter, "{{@last}}", strconv.FormatBool(i == len(elems)-1))
					b.WriteString(iter)
				}
			}
		}
		s = s[close+len(eachClose):]
	}
}

// passVariables substitutes {{name}} and {{name.prop}} references.
// Unresolvable references become the fallback string in non-strict mode
// and are collected into missing otherwise. Defined nulls render empty.
func passVariables(s string, e *env, opts Options) (string, []string) {
	var b strings.Builder
	seen := make(map[string]bool)
	var missing []string
	for {
		open := strings.Index(s, "{{")
		if open < 0 {
			b.WriteString(s)
			return b.String(), missing
		}
		end := strings.Index(s[open:], tagEnd)
		if end < 0 {
			b.WriteString(s)
			return b.String(), missing
		}
		end += open
		ref := strings.TrimSpace(s[open+2 : end])
		if !isReference(ref) {
			// Block tags or garbage left behind: pass through literally.
			b.WriteString(s[:end+len(tagEnd)])
			s = s[end+len(tagEnd):]
			continue
		}
		b.WriteString(s[:open])
		if v, ok := e.resolve(ref); ok {
			b.WriteString(v.Render())
		} else if opts.Strict {
			if !seen[ref] {
				seen[ref] = true
				missing = append(missing, ref)
			}
		} else {
			b.WriteString(opts.Fallback)
		}
		s = s[end+len(tagEnd):]
	}
}

// isReference reports whether a tag body is a plain (possibly dotted)
// variable reference rather than a block or loop-scope tag.
func isReference(ref string) bool {
	if ref == "" || ref == "this" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "@") {
		return false
	}
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// normalizeWhitespace collapses runs of spaces/tabs within each line and
// trims leading/trailing blanks per line. Line structure is preserved.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}
