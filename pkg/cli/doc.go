// Package cli implements search-reindex, the operator command line for the
// search indexer.
//
// Commands talk to the indexer HTTP API, except reindex -redis which
// publishes straight onto the queue:
//
//	search-reindex reindex -classes product,customer
//	search-reindex reindex -redis redis://localhost:6379/0
//	search-reindex status -job 42 -children
//	search-reindex interrupt -job 42
//	search-reindex classes
//	search-reindex search -q 'lamp color:red' -class product
//
// The API URL defaults to $REINDEXER_SERVER or http://localhost:8080.
package cli
