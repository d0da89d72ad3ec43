package loop

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates a guard expression against a bindings map and reports
// whether it came out truthy. Implementations must be safe for concurrent
// use; the loop engine calls them from pure decision paths.
type Evaluator interface {
	EvalBool(expression string, bindings map[string]interface{}) (bool, error)
}

// celVars are the variables every loop expression may reference.
var celVars = []string{"workflow", "state", "input", "currentStep", "allSteps"}

// CELEvaluator implements Evaluator with cel-go. Compiled programs are
// cached per expression string.
type CELEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELEvaluator builds the evaluation environment.
func NewCELEvaluator() (*CELEvaluator, error) {
	opts := make([]cel.EnvOption, 0, len(celVars))
	for _, v := range celVars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

func (e *CELEvaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", expression, err)
	}

	e.mu.Lock()
	e.programs[expression] = prg
	e.mu.Unlock()
	return prg, nil
}

// EvalBool implements Evaluator. Unbound variables default to empty maps so
// expressions over absent context evaluate rather than error.
func (e *CELEvaluator) EvalBool(expression string, bindings map[string]interface{}) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	activation := make(map[string]interface{}, len(celVars))
	for _, v := range celVars {
		if b, ok := bindings[v]; ok && b != nil {
			activation[v] = b
		} else {
			activation[v] = map[string]interface{}{}
		}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}
	return truthy(out.Value()), nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return v != nil
	}
}
