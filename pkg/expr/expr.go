// Package expr implements a small JSONPath-driven expression evaluator so
// DefinePropertyStep.compute and FilterStep.predicate can be declared data-first
// (a path, a comparison, arithmetic) instead of only as opaque Go closures.
// Evaluation reads from the same composed item view the opaque closure forms
// receive; this package never touches a step directly.
package expr

import (
	"github.com/ohler55/ojg/jp"

	"github.com/l7mp/flowtree/pkg/tree"
)

// Expr evaluates to a value given an item's composed view. Its signature matches
// step.Compute's underlying type, so an Expr converts directly to a step.Compute.
type Expr func(view tree.Props) any

// Predicate evaluates to a boolean given an item's composed view. Its signature
// matches step.Predicate's underlying type.
type Predicate func(view tree.Props) bool

// Path returns an Expr reading a single value via a JSONPath expression (e.g.
// "$.total", "$.orders[0].amount"). Panics at construction time if the path doesn't
// parse — a malformed path is a program bug, not a runtime condition.
func Path(jsonPath string) Expr {
	compiled, err := jp.ParseString(jsonPath)
	if err != nil {
		panic("expr: invalid path " + jsonPath + ": " + err.Error())
	}
	return func(view tree.Props) any {
		results := compiled.Get(map[string]any(view))
		if len(results) == 0 {
			return nil
		}
		return results[0]
	}
}

// Const returns an Expr that ignores its view and always evaluates to v.
func Const(v any) Expr { return func(tree.Props) any { return v } }

// Field is shorthand for Path("$." + name); the common case of reading one
// top-level property.
func Field(name string) Expr { return Path("$." + name) }

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func arith(a, b Expr, op func(x, y float64) float64) Expr {
	return func(view tree.Props) any {
		x, xok := toFloat(a(view))
		y, yok := toFloat(b(view))
		if !xok || !yok {
			return nil
		}
		return op(x, y)
	}
}

// Add, Sub, Mul, and Div combine two numeric expressions. Any non-numeric operand
// evaluates the whole expression to nil.
func Add(a, b Expr) Expr { return arith(a, b, func(x, y float64) float64 { return x + y }) }
func Sub(a, b Expr) Expr { return arith(a, b, func(x, y float64) float64 { return x - y }) }
func Mul(a, b Expr) Expr { return arith(a, b, func(x, y float64) float64 { return x * y }) }
func Div(a, b Expr) Expr {
	return arith(a, b, func(x, y float64) float64 {
		if y == 0 {
			return 0
		}
		return x / y
	})
}

// If returns an Expr evaluating then when cond holds, els otherwise — used for
// bucketing computations such as "total<200 ? low : total<400 ? med : high".
func If(cond Predicate, then, els Expr) Expr {
	return func(view tree.Props) any {
		if cond(view) {
			return then(view)
		}
		return els(view)
	}
}

func compareNumeric(a, b Expr, cmp func(x, y float64) bool) Predicate {
	return func(view tree.Props) bool {
		x, xok := toFloat(a(view))
		y, yok := toFloat(b(view))
		return xok && yok && cmp(x, y)
	}
}

// Gt, Gte, Lt, and Lte compare two numeric expressions.
func Gt(a, b Expr) Predicate  { return compareNumeric(a, b, func(x, y float64) bool { return x > y }) }
func Gte(a, b Expr) Predicate { return compareNumeric(a, b, func(x, y float64) bool { return x >= y }) }
func Lt(a, b Expr) Predicate  { return compareNumeric(a, b, func(x, y float64) bool { return x < y }) }
func Lte(a, b Expr) Predicate { return compareNumeric(a, b, func(x, y float64) bool { return x <= y }) }

// Eq reports whether two expressions evaluate to equal values (numeric-aware: 1 and
// 1.0 compare equal).
func Eq(a, b Expr) Predicate {
	return func(view tree.Props) bool {
		av, bv := a(view), b(view)
		if x, xok := toFloat(av); xok {
			if y, yok := toFloat(bv); yok {
				return x == y
			}
		}
		return av == bv
	}
}

// And, Or, and Not combine predicates.
func And(a, b Predicate) Predicate {
	return func(view tree.Props) bool { return a(view) && b(view) }
}
func Or(a, b Predicate) Predicate {
	return func(view tree.Props) bool { return a(view) || b(view) }
}
func Not(a Predicate) Predicate {
	return func(view tree.Props) bool { return !a(view) }
}
