package rebase

import "errors"

var (
	// ErrBacktrack indicates a submission acknowledging more rejected
	// transactions than the server rejected.
	ErrBacktrack = errors.New("backtrack exceeds rejections")

	// ErrUnknownAuthor indicates an operation for an author the document has
	// never registered.
	ErrUnknownAuthor = errors.New("unknown author")

	// ErrClosed indicates an operation on a server that has been closed.
	ErrClosed = errors.New("server closed")
)
