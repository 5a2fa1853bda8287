package entity

import (
	"context"
	"sort"
)

// StaticManager serves a fixed set of entities held in memory
type StaticManager struct {
	entities []Entity
}

// NewStaticManager creates a manager over entities, ordered by id
func NewStaticManager(entities []Entity) *StaticManager {
	sorted := append([]Entity(nil), entities...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &StaticManager{entities: sorted}
}

func (m *StaticManager) LoadRange(ctx context.Context, offset, limit int) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(m.entities) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.entities) {
		end = len(m.entities)
	}
	return append([]Entity(nil), m.entities[offset:end]...), nil
}

func (m *StaticManager) Count(ctx context.Context) (int, error) {
	return len(m.entities), nil
}
