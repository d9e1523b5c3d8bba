// Package validate holds the predicates an engine runs against a filtered
// payload before writing it. A rejected payload is never stored.
package validate

import (
	"fmt"
	"reflect"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// Validator accepts or rejects a payload.
type Validator interface {
	Validate(data map[string]any) bool
}

// Func adapts a plain function to Validator.
type Func func(data map[string]any) bool

func (f Func) Validate(data map[string]any) bool {
	return f(data)
}

// NonEmpty accepts payloads with at least one field.
func NonEmpty() Validator {
	return Func(func(data map[string]any) bool {
		return len(data) > 0
	})
}

// Required accepts payloads where every named field is present and not blank.
func Required(names ...string) Validator {
	return Func(func(data map[string]any) bool {
		for _, name := range names {
			v, ok := data[name]
			if !ok || IsBlank(v) {
				return false
			}
		}
		return true
	})
}

// All accepts a payload only when every validator does. Nil entries are skipped.
func All(validators ...Validator) Validator {
	return Func(func(data map[string]any) bool {
		for _, v := range validators {
			if v != nil && !v.Validate(data) {
				return false
			}
		}
		return true
	})
}

// IsBlank reports nil, empty strings and empty collections.
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// exprValidator runs a compiled boolean expression.
type exprValidator struct {
	source  string
	program *exprvm.Program
}

// Expr compiles a boolean expression evaluated against the payload. Field
// names are top-level variables and the whole payload is also available as
// fields. Evaluation errors reject the payload.
func Expr(source string) (Validator, error) {
	if source == "" {
		return nil, fmt.Errorf("validate: expression must not be empty")
	}
	program, err := exprlang.Compile(source,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("validate: compile %q: %w", source, err)
	}
	return &exprValidator{source: source, program: program}, nil
}

func (e *exprValidator) Validate(data map[string]any) bool {
	env := make(map[string]any, len(data)+1)
	for k, v := range data {
		env[k] = v
	}
	env["fields"] = data

	out, err := exprlang.Run(e.program, env)
	if err != nil {
		return false
	}
	ok, isBool := out.(bool)
	return isBool && ok
}

func (e *exprValidator) String() string {
	return e.source
}
