package entity

import "context"

// Entity is a persisted record to be indexed
type Entity struct {
	Class  string                 `json:"class"`
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// Manager loads the entities of one class from persistence. Ranges are
// taken over a stable ordering by id so disjoint ranges never overlap.
type Manager interface {
	// LoadRange returns at most limit entities starting at offset
	LoadRange(ctx context.Context, offset, limit int) ([]Entity, error)
	// Count returns the number of entities of the class
	Count(ctx context.Context) (int, error)
}
