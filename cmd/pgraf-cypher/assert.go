package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// ErrExprNotBool is returned when an assertion does not yield a boolean.
var ErrExprNotBool = errors.New("assertion must return a boolean")

// exprResult holds the result of evaluating an assertion expression.
type exprResult struct {
	Expression string // The expression that was evaluated
	Passed     bool   // Whether the expression evaluated to true
	Error      error  // Any error during compilation or evaluation
}

// evalExpr evaluates a single expression string against an environment.
func evalExpr(exprStr string, env map[string]any) exprResult {
	result := exprResult{Expression: exprStr}

	if strings.TrimSpace(exprStr) == "" {
		result.Passed = true

		return result
	}

	program, err := expr.Compile(exprStr, expr.Env(env), expr.AsBool())
	if err != nil {
		result.Error = fmt.Errorf("compile expression %q: %w", exprStr, err)

		return result
	}

	output, err := expr.Run(program, env)
	if err != nil {
		result.Error = fmt.Errorf("evaluate expression %q: %w", exprStr, err)

		return result
	}

	passed, ok := output.(bool)
	if !ok {
		result.Error = fmt.Errorf("%w: %q returned %T", ErrExprNotBool, exprStr, output)

		return result
	}

	result.Passed = passed

	return result
}

// evalExprs evaluates multiple expressions against an environment.
// Evaluation continues even if some fail.
func evalExprs(exprs []string, env map[string]any) []exprResult {
	results := make([]exprResult, len(exprs))

	for i, e := range exprs {
		results[i] = evalExpr(e, env)
	}

	return results
}
