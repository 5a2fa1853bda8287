package entity

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ReplicaSource hands out the connection entity reads run on.
// postgres.ConnectionManager satisfies it.
type ReplicaSource interface {
	Replica() *sql.DB
}

type singleDB struct{ db *sql.DB }

func (s singleDB) Replica() *sql.DB { return s.db }

// SingleDB adapts one *sql.DB to a ReplicaSource
func SingleDB(db *sql.DB) ReplicaSource {
	return singleDB{db: db}
}

// SQLManager loads entities of one class from a SQL table
type SQLManager struct {
	source     ReplicaSource
	mapping    ClassMapping
	rangeQuery string
	countQuery string
}

// NewSQLManager creates a manager for mapping. Table and column names are
// validated since they are interpolated into the queries.
func NewSQLManager(source ReplicaSource, mapping ClassMapping) (*SQLManager, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	columns := append([]string{mapping.idColumn()}, mapping.Fields...)
	return &SQLManager{
		source:  source,
		mapping: mapping,
		rangeQuery: fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT $1 OFFSET $2",
			strings.Join(columns, ", "), mapping.Table, mapping.idColumn()),
		countQuery: fmt.Sprintf("SELECT COUNT(*) FROM %s", mapping.Table),
	}, nil
}

// maxPrealloc bounds the slice reserved up front; limit comes from a message
const maxPrealloc = 1024

func (m *SQLManager) LoadRange(ctx context.Context, offset, limit int) ([]Entity, error) {
	rows, err := m.source.Replica().QueryContext(ctx, m.rangeQuery, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s range [%d, %d): %w", m.mapping.Name, offset, offset+limit, err)
	}
	defer rows.Close()

	entities := make([]Entity, 0, min(limit, maxPrealloc))
	values := make([]interface{}, len(m.mapping.Fields)+1)
	pointers := make([]interface{}, len(values))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", m.mapping.Name, err)
		}

		fields := make(map[string]interface{}, len(m.mapping.Fields))
		for i, name := range m.mapping.Fields {
			fields[name] = normalize(values[i+1])
		}
		entities = append(entities, Entity{
			Class:  m.mapping.Name,
			ID:     fmt.Sprint(normalize(values[0])),
			Fields: fields,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", m.mapping.Name, err)
	}
	return entities, nil
}

func (m *SQLManager) Count(ctx context.Context) (int, error) {
	var count int
	if err := m.source.Replica().QueryRowContext(ctx, m.countQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", m.mapping.Name, err)
	}
	return count, nil
}

// normalize turns driver byte slices into strings
func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
