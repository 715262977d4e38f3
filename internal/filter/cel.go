package filter

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/fraudlens/fraudlens/internal/domain"
)

// Engine filters transactions. Plain predicates are evaluated directly;
// an optional CEL expression from the filter set is compiled once and
// cached by expression text, since analysts tend to toggle between a
// handful of saved queries.
type Engine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEngine creates a filter engine with a CEL environment exposing the
// transaction fields.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("fraud_probability", cel.DoubleType),
		cel.Variable("is_fraud", cel.IntType),
		cel.Variable("category", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("transaction_country", cel.StringType),
		cel.Variable("login_country", cel.StringType),
		cel.Variable("card_type", cel.StringType),
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("currency", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// ValidateExpression compiles an expression without caching it, so bad
// input is rejected at set-time rather than at filter time.
func (e *Engine) ValidateExpression(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := e.compile(expr)
	return err
}

// program returns the compiled program for an expression, compiling and
// caching on first use. Empty expressions yield a nil program.
func (e *Engine) program(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, nil
	}

	e.mu.RLock()
	prog, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := e.compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expr] = prog
	e.mu.Unlock()

	return prog, nil
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile filter expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %s", ast.OutputType())
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter program: %w", err)
	}
	return prog, nil
}

// evalProgram runs the compiled expression for one transaction.
// Evaluation errors fail open, matching the date window's behavior.
func (e *Engine) evalProgram(prog cel.Program, tx *domain.Transaction) bool {
	activation := map[string]any{
		"amount":              tx.Amount,
		"fraud_probability":   tx.FraudProbability,
		"is_fraud":            tx.IsFraud,
		"category":            tx.Category,
		"merchant":            tx.Merchant,
		"transaction_country": tx.TransactionCountry,
		"login_country":       tx.LoginCountry,
		"card_type":           tx.CardType,
		"transaction_type":    tx.TransactionType,
		"currency":            tx.Currency,
	}

	out, _, err := prog.Eval(activation)
	if err != nil {
		return true
	}

	b, ok := out.(types.Bool)
	return ok && bool(b)
}
