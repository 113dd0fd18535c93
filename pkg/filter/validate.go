package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// maxComprehensionDepth bounds nested macro expansions (exists/all/map) so a
// rule cannot hide unbounded work behind a one-line expression.
const maxComprehensionDepth = 2

// validate parses the expression and walks the raw AST, rejecting constructs
// that have no place in a class filter before the expression ever compiles.
func validate(env *cel.Env, source string) error {
	parsed, issues := env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	expr := parsed.Expr() //nolint:staticcheck // no non-deprecated way to traverse the AST yet
	return walk(expr, 0)
}

func walk(e *exprpb.Expr, comprehensions int) error {
	if e == nil {
		return nil
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, ok := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); ok {
			return fmt.Errorf("float literals are not allowed")
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if call.Target != nil {
			if err := walk(call.Target, comprehensions); err != nil {
				return err
			}
		}
		for _, arg := range call.Args {
			if err := walk(arg, comprehensions); err != nil {
				return err
			}
		}

	case *exprpb.Expr_SelectExpr:
		return walk(k.SelectExpr.Operand, comprehensions)

	case *exprpb.Expr_IdentExpr:
		// no children

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			if err := walk(el, comprehensions); err != nil {
				return err
			}
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if key := entry.GetMapKey(); key != nil {
				if err := walk(key, comprehensions); err != nil {
					return err
				}
			}
			if err := walk(entry.Value, comprehensions); err != nil {
				return err
			}
		}

	case *exprpb.Expr_ComprehensionExpr:
		comprehensions++
		if comprehensions > maxComprehensionDepth {
			return fmt.Errorf("comprehensions nest deeper than %d", maxComprehensionDepth)
		}
		comp := k.ComprehensionExpr
		for _, child := range []*exprpb.Expr{comp.IterRange, comp.AccuInit, comp.LoopCondition, comp.LoopStep, comp.Result} {
			if err := walk(child, comprehensions); err != nil {
				return err
			}
		}
	}
	return nil
}
