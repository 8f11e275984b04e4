package dm

import (
	"encoding/json"
	"fmt"
)

// Change is a run of consecutive transactions starting at a position in a
// document's history, together with the annotations they refer to. A history is
// a Change starting at 0.
type Change struct {
	Start        int
	Transactions []*Transaction
	Annotations  *AnnotationStore
}

// NewChange builds a change. A nil store is replaced with an empty one.
func NewChange(start int, txs []*Transaction, store *AnnotationStore) *Change {
	if store == nil {
		store = NewAnnotationStore()
	}
	return &Change{Start: start, Transactions: txs, Annotations: store}
}

// Len is the number of transactions in the change.
func (c *Change) Len() int {
	return len(c.Transactions)
}

// End is the history position just after the change.
func (c *Change) End() int {
	return c.Start + len(c.Transactions)
}

func (c *Change) IsEmpty() bool {
	return len(c.Transactions) == 0
}

// Clone copies the transaction list and the store. Transactions are shared since
// they are never modified once part of a change.
func (c *Change) Clone() *Change {
	txs := make([]*Transaction, len(c.Transactions))
	copy(txs, c.Transactions)
	return NewChange(c.Start, txs, c.Annotations.Clone())
}

// Concat returns the change followed by other, which must start where this one
// ends.
func (c *Change) Concat(other *Change) (*Change, error) {
	if other.Start != c.End() {
		return nil, fmt.Errorf("%w: change ends at %d, next starts at %d", ErrNotContiguous, c.End(), other.Start)
	}
	txs := make([]*Transaction, 0, len(c.Transactions)+len(other.Transactions))
	txs = append(txs, c.Transactions...)
	txs = append(txs, other.Transactions...)
	store := c.Annotations.Clone()
	store.Merge(other.Annotations)
	return NewChange(c.Start, txs, store), nil
}

// Push appends one transaction, taking the annotations it needs from store.
func (c *Change) Push(tx *Transaction, store *AnnotationStore) {
	c.Transactions = append(c.Transactions, tx)
	if store != nil {
		c.Annotations.Merge(store.Subset(tx.annotationHashes()))
	}
}

// Truncate keeps the first n transactions.
func (c *Change) Truncate(n int) *Change {
	n = max(0, min(n, len(c.Transactions)))
	txs := make([]*Transaction, n)
	copy(txs, c.Transactions[:n])
	return NewChange(c.Start, txs, c.Annotations.Subset(hashesOf(txs)))
}

// MostRecent returns the transactions from history position start onwards. A
// start past the end gives an empty change there.
func (c *Change) MostRecent(start int) *Change {
	start = max(c.Start, start)
	if start >= c.End() {
		return NewChange(start, nil, nil)
	}
	txs := make([]*Transaction, c.End()-start)
	copy(txs, c.Transactions[start-c.Start:])
	return NewChange(start, txs, c.Annotations.Subset(hashesOf(txs)))
}

// Reversed returns the change that undoes this one: each transaction reversed,
// in reverse order.
func (c *Change) Reversed() *Change {
	txs := make([]*Transaction, len(c.Transactions))
	for i, tx := range c.Transactions {
		txs[len(txs)-1-i] = tx.Reversed()
	}
	return NewChange(c.Start, txs, c.Annotations.Clone())
}

// ApplyTo merges the change's annotations into the document store and commits
// each transaction in turn.
func (c *Change) ApplyTo(doc *Document) error {
	doc.Store().Merge(c.Annotations)
	for i, tx := range c.Transactions {
		if _, err := doc.Commit(tx); err != nil {
			return fmt.Errorf("failed to apply transaction %d: %w", c.Start+i, err)
		}
	}
	return nil
}

// UnapplyFrom rolls the change back from a document, last transaction first.
func (c *Change) UnapplyFrom(doc *Document) error {
	for i := len(c.Transactions) - 1; i >= 0; i-- {
		if _, err := doc.Rollback(c.Transactions[i]); err != nil {
			return fmt.Errorf("failed to roll back transaction %d: %w", c.Start+i, err)
		}
	}
	return nil
}

// Squash returns an equivalent change holding at most one transaction.
func (c *Change) Squash() (*Change, error) {
	if len(c.Transactions) <= 1 {
		return c.Clone(), nil
	}
	tx, err := Squash(c.Transactions)
	if err != nil {
		return nil, err
	}
	return NewChange(c.Start, []*Transaction{tx}, c.Annotations.Subset(tx.annotationHashes())), nil
}

func (c *Change) String() string {
	return fmt.Sprintf("change(start=%d, %d transactions, %d annotations)", c.Start, len(c.Transactions), c.Annotations.Len())
}

func hashesOf(txs []*Transaction) []string {
	var hashes []string
	for _, tx := range txs {
		hashes = append(hashes, tx.annotationHashes()...)
	}
	return hashes
}

type changeJSON struct {
	Start        int              `json:"start"`
	Transactions []*Transaction   `json:"transactions"`
	Annotations  *AnnotationStore `json:"annotations"`
}

func (c *Change) MarshalJSON() ([]byte, error) {
	txs := c.Transactions
	if txs == nil {
		txs = []*Transaction{}
	}
	store := c.Annotations
	if store == nil {
		store = NewAnnotationStore()
	}
	return json.Marshal(changeJSON{Start: c.Start, Transactions: txs, Annotations: store})
}

func (c *Change) UnmarshalJSON(raw []byte) error {
	var in changeJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	*c = *NewChange(in.Start, in.Transactions, in.Annotations)
	return nil
}

// Serialize encodes the change for the wire and for storage.
func (c *Change) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// DeserializeChange decodes a change written by Serialize.
func DeserializeChange(raw []byte) (*Change, error) {
	c := new(Change)
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("failed to decode change: %w", err)
	}
	return c, nil
}
