package search

import "errors"

var (
	// ErrInvalidMessage is returned for a message body that is not a valid request
	ErrInvalidMessage = errors.New("message is not valid")

	// ErrIndexing is returned when the search index rejects a write
	ErrIndexing = errors.New("indexing failed")

	// ErrInvalidQuery is returned when a search query cannot be parsed
	ErrInvalidQuery = errors.New("invalid search query")

	// ErrSearchUnsupported is returned by backends that cannot serve queries
	ErrSearchUnsupported = errors.New("search not supported by index backend")
)
