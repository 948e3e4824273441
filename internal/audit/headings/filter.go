package headings

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// NewExprFilter compiles a boolean expression over Level, Text and IsEmpty,
// e.g. `!(Text contains "Toolbar")`. An empty expression yields a nil Filter.
// Nodes whose evaluation fails are kept.
func NewExprFilter(expression string) (Filter, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.Env(Node{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile heading filter %q: %w", expression, err)
	}
	return exprFilter(program), nil
}

func exprFilter(program *vm.Program) Filter {
	return func(n Node) bool {
		out, err := expr.Run(program, n)
		if err != nil {
			return true
		}
		keep, ok := out.(bool)
		return !ok || keep
	}
}
