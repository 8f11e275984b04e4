package dm

import "fmt"

// RebaseTransactions transforms two transactions made against the same document
// so that each can follow the other. aPrime applies after b and bPrime applies
// after a; both orders reach the same document. Transactions whose active ranges
// overlap fail with ErrConflict. When one is an insertion at the point where the
// other starts, a's content comes first.
func RebaseTransactions(a, b *Transaction) (aPrime, bPrime *Transaction, err error) {
	aPrime, bPrime = a.Clone(), b.Clone()
	rangeA, okA := a.ActiveRange()
	rangeB, okB := b.ActiveRange()

	var errs [2]error
	switch {
	case !okA || !okB:
		errs[0] = aPrime.AdjustRetain(AtEnd, b.LengthDifference)
		errs[1] = bPrime.AdjustRetain(AtEnd, a.LengthDifference)
	case rangeA.End <= rangeB.Start:
		errs[0] = bPrime.AdjustRetain(AtStart, a.LengthDifference)
		errs[1] = aPrime.AdjustRetain(AtEnd, b.LengthDifference)
	case rangeB.End <= rangeA.Start:
		errs[0] = aPrime.AdjustRetain(AtStart, b.LengthDifference)
		errs[1] = bPrime.AdjustRetain(AtEnd, a.LengthDifference)
	default:
		return nil, nil, fmt.Errorf("%w: %v and %v", ErrConflict, rangeA, rangeB)
	}
	for _, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("failed to adjust retain: %w", err)
		}
	}
	return aPrime, bPrime, nil
}

// RebaseResult is the outcome of RebaseUncommittedChange.
type RebaseResult struct {
	// Rebased is the accepted prefix of the uncommitted change, rebased to follow
	// history.
	Rebased *Change
	// TransposedHistory is history rebased to follow the accepted prefix.
	TransposedHistory *Change
	// Rejected is the rest of the uncommitted change, from the first transaction
	// that conflicted. It is nil when nothing was rejected.
	Rejected *Change
}

// RebaseUncommittedChange rebases an uncommitted change over history, both
// starting at the same position. Each uncommitted transaction is rebased over
// every history transaction in turn; at the first conflict it and everything
// after it are rejected. Where two transactions insert at the same point, the one
// with the lower author id comes first.
func RebaseUncommittedChange(history, uncommitted *Change) (*RebaseResult, error) {
	if history.Start != uncommitted.Start {
		return nil, fmt.Errorf("%w: %d and %d", ErrStartMismatch, history.Start, uncommitted.Start)
	}
	txsA := append([]*Transaction(nil), history.Transactions...)
	txsB := append([]*Transaction(nil), uncommitted.Transactions...)
	var rejected *Change

outer:
	for i, b := range txsB {
		rebasedA := make([]*Transaction, len(txsA))
		for j, a := range txsA {
			var aPrime, bPrime *Transaction
			var err error
			if b.Author < a.Author {
				bPrime, aPrime, err = RebaseTransactions(b, a)
			} else {
				aPrime, bPrime, err = RebaseTransactions(a, b)
			}
			if err != nil {
				rejected = uncommitted.MostRecent(uncommitted.Start + i)
				txsB = txsB[:i]
				break outer
			}
			rebasedA[j] = aPrime
			b = bPrime
		}
		txsA = rebasedA
		txsB[i] = b
	}

	return &RebaseResult{
		Rebased:           NewChange(uncommitted.Start+len(txsA), txsB, uncommitted.Annotations.Subset(hashesOf(txsB))),
		TransposedHistory: NewChange(history.Start+len(txsB), txsA, history.Annotations.Subset(hashesOf(txsA))),
		Rejected:          rejected,
	}, nil
}
