package usecase

import (
	"fmt"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

// predicates compiles boolean expr-lang expressions once and reuses the
// programs. Unknown identifiers evaluate to nil.
type predicates struct {
	cache sync.Map // expression -> *exprvm.Program
}

func (p *predicates) compile(expression string) (*exprvm.Program, error) {
	if cached, ok := p.cache.Load(expression); ok {
		return cached.(*exprvm.Program), nil
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %v: %w", expression, err, domain.ErrInvalidInput)
	}
	p.cache.Store(expression, program)
	return program, nil
}

func (p *predicates) eval(expression string, env map[string]any) (bool, error) {
	program, err := p.compile(expression)
	if err != nil {
		return false, err
	}
	out, err := exprlang.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
