package engine

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultPredicate accepts either a table row or a hypothesis card.
const DefaultPredicate = "rows > 0 || cards > 0"

// Predicate is the compiled verification expression evaluated over the
// observed row and card counts.
type Predicate struct {
	source  string
	program *vm.Program
}

// CompilePredicate compiles a boolean expression over `rows` and `cards`.
// An empty source compiles DefaultPredicate.
func CompilePredicate(source string) (*Predicate, error) {
	if strings.TrimSpace(source) == "" {
		source = DefaultPredicate
	}
	program, err := expr.Compile(source, expr.Env(predicateEnv(0, 0)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", source, err)
	}
	return &Predicate{source: source, program: program}, nil
}

// MustCompilePredicate is CompilePredicate that panics on error.
func MustCompilePredicate(source string) *Predicate {
	p, err := CompilePredicate(source)
	if err != nil {
		panic(err)
	}
	return p
}

// Eval runs the predicate.
func (p *Predicate) Eval(rows, cards int) (bool, error) {
	out, err := expr.Run(p.program, predicateEnv(rows, cards))
	if err != nil {
		return false, fmt.Errorf("evaluate predicate %q: %w", p.source, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("predicate %q returned %T, want bool", p.source, out)
	}
	return ok, nil
}

func (p *Predicate) String() string {
	return p.source
}

func predicateEnv(rows, cards int) map[string]any {
	return map[string]any{
		"rows":  rows,
		"cards": cards,
	}
}
