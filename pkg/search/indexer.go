package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/reindexer/pkg/entity"
	"github.com/platinummonkey/reindexer/pkg/observability"
)

var indexerTracer = otel.Tracer("reindexer/search/indexer")

// indexInsertBatchSize is the number of rows per multi-row upsert
const indexInsertBatchSize = 100

// Indexer writes entity batches to the search index. Writing an entity that
// is already indexed replaces its document. Implementations do not retry.
type Indexer interface {
	IndexRange(ctx context.Context, entityClass string, batch []entity.Entity) error
}

// Hit is one search result
type Hit struct {
	ID       string  `json:"id"`
	Class    string  `json:"class"`
	EntityID string  `json:"entity_id"`
	Content  string  `json:"content,omitempty"`
	Score    float64 `json:"score"`
}

// Searcher is implemented by index backends that can answer queries
type Searcher interface {
	Search(ctx context.Context, entityClass, queryStr string, limit int) ([]Hit, error)
	Count(ctx context.Context, entityClass string) (int, error)
}

// PostgresIndexer stores documents in the entity_search_index table and
// searches them with PostgreSQL full-text search
type PostgresIndexer struct {
	db      *sql.DB
	parser  *QueryParser
	metrics *observability.Metrics
}

// NewPostgresIndexer creates a new Postgres backed indexer
func NewPostgresIndexer(db *sql.DB, metrics *observability.Metrics) *PostgresIndexer {
	return &PostgresIndexer{
		db:      db,
		parser:  NewQueryParser(),
		metrics: metrics,
	}
}

// Migrate creates the index table if it does not exist
func (idx *PostgresIndexer) Migrate(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entity_search_index (
			entity_class TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			content TEXT NOT NULL,
			fields JSONB NOT NULL DEFAULT '{}',
			search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (entity_class, entity_id)
		);
		CREATE INDEX IF NOT EXISTS idx_entity_search_vector ON entity_search_index USING GIN (search_vector);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate search index: %w", err)
	}
	return nil
}

// IndexRange upserts one row per entity in a single transaction
func (idx *PostgresIndexer) IndexRange(ctx context.Context, entityClass string, batch []entity.Entity) error {
	ctx, span := indexerTracer.Start(ctx, "PostgresIndexer.IndexRange",
		trace.WithAttributes(
			attribute.String("entity_class", entityClass),
			attribute.Int("batch_size", len(batch)),
		),
	)
	defer span.End()

	if len(batch) == 0 {
		span.SetStatus(codes.Ok, "empty batch")
		return nil
	}

	start := time.Now()
	docs := newDocuments(entityClass, batch)

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return indexFailure(span, fmt.Errorf("%w: failed to begin transaction: %w", ErrIndexing, err))
	}
	defer tx.Rollback() //nolint:errcheck

	for offset := 0; offset < len(docs); offset += indexInsertBatchSize {
		end := offset + indexInsertBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := upsertDocuments(ctx, tx, docs[offset:end]); err != nil {
			return indexFailure(span, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return indexFailure(span, fmt.Errorf("%w: failed to commit: %w", ErrIndexing, err))
	}

	idx.metrics.RecordIndexed("postgres", entityClass, len(docs), time.Since(start))
	span.SetStatus(codes.Ok, fmt.Sprintf("indexed %d documents", len(docs)))
	return nil
}

// upsertDocuments writes docs with one multi-row INSERT ... ON CONFLICT
func upsertDocuments(ctx context.Context, tx *sql.Tx, docs []Document) error {
	query := `
		INSERT INTO entity_search_index (entity_class, entity_id, content, fields, indexed_at) VALUES
	`

	values := make([]interface{}, 0, len(docs)*4)
	placeholders := make([]string, 0, len(docs))

	for i, doc := range docs {
		offset := i * 4
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, NOW())",
			offset+1, offset+2, offset+3, offset+4))

		fieldsJSON := []byte("{}")
		if doc.Fields != nil {
			var err error
			if fieldsJSON, err = json.Marshal(doc.Fields); err != nil {
				return fmt.Errorf("%w: failed to marshal fields of %s: %w", ErrIndexing, doc.ID, err)
			}
		}

		values = append(values, doc.Class, doc.EntityID, doc.Content, string(fieldsJSON))
	}

	query += strings.Join(placeholders, ", ")
	query += `
		ON CONFLICT (entity_class, entity_id) DO UPDATE
		SET content = EXCLUDED.content, fields = EXCLUDED.fields, indexed_at = EXCLUDED.indexed_at
	`

	if _, err := tx.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("%w: failed to upsert documents: %w", ErrIndexing, err)
	}
	return nil
}

// Count returns the number of indexed documents of entityClass, or of every
// class when entityClass is empty
func (idx *PostgresIndexer) Count(ctx context.Context, entityClass string) (int, error) {
	query := `SELECT COUNT(*) FROM entity_search_index`
	var args []interface{}
	if entityClass != "" {
		query += ` WHERE entity_class = $1`
		args = append(args, entityClass)
	}

	var count int
	if err := idx.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count indexed documents: %w", err)
	}
	return count, nil
}

func indexFailure(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
