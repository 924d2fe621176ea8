package datalog

import (
	"errors"
	"strings"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrInvalidFact indicates a fact that is not ground was submitted to the EDB.
	ErrInvalidFact = errors.New("invalid fact")

	// ErrNegatedFact indicates a negated literal was submitted as a fact.
	// It matches ErrInvalidFact under errors.Is.
	ErrNegatedFact = &negatedFactError{}

	// ErrUnsafeRule indicates a rule violates the safety condition or uses a
	// built-in with the wrong arity.
	ErrUnsafeRule = errors.New("unsafe rule")

	// ErrNotStratified indicates a cycle through negation in the rule set.
	ErrNotStratified = errors.New("program is not stratified")

	// ErrUnboundOperands indicates a built-in was evaluated before its
	// operands were bound.
	ErrUnboundOperands = errors.New("unbound built-in operands")

	// ErrUnknownBuiltin indicates a predicate classified as built-in that is
	// not one of =, <>, <, <=, >, >=.
	ErrUnknownBuiltin = errors.New("unknown built-in")

	// ErrAssertionFailed indicates an assertion query produced a result count
	// that did not satisfy its requirement.
	ErrAssertionFailed = errors.New("assertion failed")

	// ErrIterationLimit indicates a stratum did not reach its fixed point
	// within the configured iteration budget.
	ErrIterationLimit = errors.New("iteration limit exceeded")
)

type negatedFactError struct{}

func (*negatedFactError) Error() string { return "negated fact" }

func (*negatedFactError) Is(target error) bool { return target == ErrInvalidFact }

// =============================================================================
// StratificationError
// =============================================================================

// StratificationError reports the predicates of a strongly connected
// component that contains a negative dependency.
type StratificationError struct {
	// Cycle holds the predicate signatures of the offending component.
	Cycle []string
}

func (e *StratificationError) Error() string {
	return ErrNotStratified.Error() + ": negation in recursive cycle through " + strings.Join(e.Cycle, ", ")
}

func (e *StratificationError) Unwrap() error {
	return ErrNotStratified
}
