package dm

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func authored(author int, tr *Transaction) *Transaction {
	tr.Author = author
	return tr
}

func applyAll(t *testing.T, data Data, txs ...*Transaction) string {
	t.Helper()
	doc := mustDocument(t, data)
	for _, tr := range txs {
		mustCommit(t, doc, tr)
	}
	return doc.Data().PlainText()
}

func TestRebaseTransactions(t *testing.T) {
	start := Text("abcdef")
	a := tx(1, [2]string{"", "X"}, 5)
	b := tx(4, [2]string{"e", ""}, 1)

	aPrime, bPrime, err := RebaseTransactions(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, bPrime.String(), tx(5, [2]string{"e", ""}, 1).String())
	assert.Equal(t, aPrime.String(), tx(1, [2]string{"", "X"}, 4).String())
	assert.Equal(t, applyAll(t, start, a, bPrime), "aXbcdf")
	assert.Equal(t, applyAll(t, start, b, aPrime), "aXbcdf")

	// The same pair the other way round.
	bPrime, aPrime, err = RebaseTransactions(b, a)
	assert.Equal(t, err, nil)
	assert.Equal(t, applyAll(t, start, a, bPrime), "aXbcdf")
	assert.Equal(t, applyAll(t, start, b, aPrime), "aXbcdf")
}

func TestRebaseTransactionsNoOp(t *testing.T) {
	a := tx(6)
	b := tx(2, [2]string{"cd", "Q"}, 2)
	aPrime, bPrime, err := RebaseTransactions(a, b)
	assert.Equal(t, err, nil)
	assert.Equal(t, aPrime.String(), tx(5).String())
	assert.Equal(t, bPrime.String(), b.String())
}

func TestRebaseTransactionsConflict(t *testing.T) {
	a := tx(1, [2]string{"bc", ""}, 3)
	b := tx(2, [2]string{"cd", ""}, 2)
	_, _, err := RebaseTransactions(a, b)
	assert.Equal(t, errors.Is(err, ErrConflict), true)
}

func TestRebaseUncommittedChangeOrdersByAuthor(t *testing.T) {
	start := Text("abcdef")

	history := NewChange(0, []*Transaction{authored(1, tx(1, [2]string{"", "X"}, 5))}, nil)
	uncommitted := NewChange(0, []*Transaction{authored(2, tx(1, [2]string{"", "Y"}, 5))}, nil)
	result, err := RebaseUncommittedChange(history, uncommitted)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Rejected == nil, true)
	assert.Equal(t, result.Rebased.Start, 1)
	assert.Equal(t, result.TransposedHistory.Start, 1)
	assert.Equal(t, applyAll(t, start, append(history.Transactions, result.Rebased.Transactions...)...), "aXYbcdef")
	assert.Equal(t, applyAll(t, start, append(uncommitted.Transactions, result.TransposedHistory.Transactions...)...), "aXYbcdef")

	history = NewChange(0, []*Transaction{authored(2, tx(1, [2]string{"", "X"}, 5))}, nil)
	uncommitted = NewChange(0, []*Transaction{authored(1, tx(1, [2]string{"", "Y"}, 5))}, nil)
	result, err = RebaseUncommittedChange(history, uncommitted)
	assert.Equal(t, err, nil)
	assert.Equal(t, applyAll(t, start, append(history.Transactions, result.Rebased.Transactions...)...), "aYXbcdef")
	assert.Equal(t, applyAll(t, start, append(uncommitted.Transactions, result.TransposedHistory.Transactions...)...), "aYXbcdef")
}

func TestRebaseUncommittedChangeRejectsFromFirstConflict(t *testing.T) {
	start := Text("abcdef")
	history := NewChange(3, []*Transaction{
		authored(1, tx(1, [2]string{"bc", ""}, 3)),
		authored(1, tx(3, [2]string{"", "Z"}, 1)),
	}, nil)
	uncommitted := NewChange(3, []*Transaction{
		authored(2, tx(6, [2]string{"", "!"})),
		authored(2, tx(2, [2]string{"c", ""}, 4)),
		authored(2, tx(1, [2]string{"", "?"}, 5)),
	}, nil)

	result, err := RebaseUncommittedChange(history, uncommitted)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Rebased.Start, 5)
	assert.Equal(t, result.Rebased.Len(), 1)
	assert.Equal(t, result.TransposedHistory.Start, 4)
	assert.Equal(t, result.TransposedHistory.Len(), 2)
	assert.Equal(t, result.Rejected.Start, 4)
	assert.Equal(t, result.Rejected.Len(), 2)

	merged := applyAll(t, start, append(history.Transactions, result.Rebased.Transactions...)...)
	assert.Equal(t, merged, "adeZf!")
	assert.Equal(t, applyAll(t, start, append([]*Transaction{uncommitted.Transactions[0]}, result.TransposedHistory.Transactions...)...), merged)
}

func TestRebaseUncommittedChangeStartMismatch(t *testing.T) {
	_, err := RebaseUncommittedChange(NewChange(1, nil, nil), NewChange(2, nil, nil))
	assert.Equal(t, errors.Is(err, ErrStartMismatch), true)
}
