// Package dm is the document model: a flat annotated linear model, the node tree
// derived from it, and the transactions that edit it.
package dm

import "errors"

// Offset errors
var (
	// ErrOutOfRange indicates an offset or range outside of the linear model.
	ErrOutOfRange = errors.New("offset out of range")
)

// Structural errors. These indicate a corrupt transaction or model and are never
// recovered from.
var (
	// ErrInvalidOperation indicates an operation with an unknown type.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrNotElement indicates an attribute change aimed at something other than an
	// opening element.
	ErrNotElement = errors.New("not an opening element")

	// ErrUnbalanced indicates element markers that do not nest properly.
	ErrUnbalanced = errors.New("unbalanced element data")

	// ErrLengthMismatch indicates a transaction that does not cover the document it
	// is applied or composed against.
	ErrLengthMismatch = errors.New("transaction length mismatch")

	// ErrInconsistentTree indicates that the node tree disagrees with the linear model.
	ErrInconsistentTree = errors.New("node tree inconsistent with linear model")
)

// Squash and change errors
var (
	// ErrEmptySquash indicates an attempt to squash no transactions.
	ErrEmptySquash = errors.New("cannot squash an empty transaction list")

	// ErrNotContiguous indicates changes that do not follow on from each other.
	ErrNotContiguous = errors.New("changes are not contiguous")
)

// Rebase errors
var (
	// ErrConflict indicates two transactions whose active ranges overlap.
	ErrConflict = errors.New("transactions conflict")

	// ErrStartMismatch indicates changes rebased against each other that do not
	// start at the same history position.
	ErrStartMismatch = errors.New("changes start at different positions")
)
