package compiler

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/vespera-ai/quill/model"
)

// Kind discriminates the Value union.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindSequence:
		return "array"
	case KindMapping:
		return "object"
	}
	return "null"
}

// Value is the evaluator's tagged-union representation of a binding.
// Dynamically typed caller input is converted once at the boundary via
// FromAny; the evaluator itself never touches interface{} values.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	seq  []Value
	mp   map[string]Value
}

// Null is the absent/nil value.
var Null = Value{kind: KindNull}

func String(s string) Value      { return Value{kind: KindString, str: s} }
func Number(f float64) Value     { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Sequence(vs ...Value) Value { return Value{kind: KindSequence, seq: vs} }
func Mapping(m map[string]Value) Value {
	return Value{kind: KindMapping, mp: m}
}

// FromAny converts an arbitrary caller-supplied binding into a Value.
// Unrecognized types are stringified.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case float32:
		return Number(float64(x))
	case float64:
		return Number(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Number(f)
	case []any:
		seq := make([]Value, len(x))
		for i, elem := range x {
			seq[i] = FromAny(elem)
		}
		return Value{kind: KindSequence, seq: seq}
	case []string:
		seq := make([]Value, len(x))
		for i, elem := range x {
			seq[i] = String(elem)
		}
		return Value{kind: KindSequence, seq: seq}
	case map[string]any:
		mp := make(map[string]Value, len(x))
		for k, elem := range x {
			mp[k] = FromAny(elem)
		}
		return Value{kind: KindMapping, mp: mp}
	case map[string]string:
		mp := make(map[string]Value, len(x))
		for k, elem := range x {
			mp[k] = String(elem)
		}
		return Value{kind: KindMapping, mp: mp}
	default:
		return String(fmt.Sprint(v))
	}
}

// Kind returns the union tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Truthy implements the conditional test: defined, not the empty string,
// and not zero. Sequences and mappings are truthy when non-empty.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindString:
		return v.str != ""
	case KindNumber:
		return v.num != 0
	case KindBool:
		return v.b
	case KindSequence:
		return len(v.seq) > 0
	case KindMapping:
		return len(v.mp) > 0
	}
	return false
}

// Seq returns the element slice and whether the value is a sequence.
func (v Value) Seq() ([]Value, bool) {
	if v.kind != KindSequence {
		return nil, false
	}
	return v.seq, true
}

// Field resolves a dotted property on a mapping value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMapping {
		return Null, false
	}
	f, ok := v.mp[name]
	return f, ok
}

// Render stringifies the value for template output. Null renders empty;
// mappings and sequences serialize structurally as JSON.
func (v Value) Render() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindSequence, KindMapping:
		b, err := json.Marshal(v.toAny())
		if err != nil {
			return ""
		}
		return string(b)
	}
	return ""
}

func (v Value) toAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, elem := range v.seq {
			out[i] = elem.toAny()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.mp))
		for k, elem := range v.mp {
			out[k] = elem.toAny()
		}
		return out
	}
	return nil
}

// MatchesType reports whether the value satisfies a declared variable type.
func (v Value) MatchesType(t model.VariableType) bool {
	switch t {
	case model.VariableString:
		return v.kind == KindString
	case model.VariableNumber:
		return v.kind == KindNumber
	case model.VariableBoolean:
		return v.kind == KindBool
	case model.VariableArray:
		return v.kind == KindSequence
	case model.VariableObject:
		return v.kind == KindMapping
	}
	return false
}
