package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/reindexer/pkg/entity"
	"github.com/platinummonkey/reindexer/pkg/observability"
)

var errIndexClosed = errors.New("index is closed")

// bleveDocument is the stored shape of a Document; the id is the bleve key
type bleveDocument struct {
	Class    string                 `json:"class"`
	EntityID string                 `json:"entity_id"`
	Content  string                 `json:"content"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// BleveIndexer is an embedded full-text index backed by bleve
type BleveIndexer struct {
	mu      sync.RWMutex
	index   bleve.Index
	path    string
	parser  *QueryParser
	metrics *observability.Metrics
	closed  bool
}

// NewBleveIndexer opens the index at path, creating it when missing. An
// empty path creates an in-memory index.
func NewBleveIndexer(path string, metrics *observability.Metrics) (*BleveIndexer, error) {
	indexMapping := newIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveIndexer{
		index:   idx,
		path:    path,
		parser:  NewQueryParser(),
		metrics: metrics,
	}, nil
}

// newIndexMapping keeps class and entity_id as exact keywords and analyzes
// content and entity fields as text
func newIndexMapping() *mapping.IndexMappingImpl {
	keyword := bleve.NewKeywordFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("class", keyword)
	doc.AddFieldMappingsAt("entity_id", keyword)
	doc.AddFieldMappingsAt("content", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	return indexMapping
}

// IndexRange writes the batch in one bleve batch
func (b *BleveIndexer) IndexRange(ctx context.Context, entityClass string, batch []entity.Entity) error {
	_, span := indexerTracer.Start(ctx, "BleveIndexer.IndexRange",
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

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return indexFailure(span, fmt.Errorf("%w: %w", ErrIndexing, errIndexClosed))
	}

	start := time.Now()
	docs := newDocuments(entityClass, batch)
	bleveBatch := b.index.NewBatch()
	for _, doc := range docs {
		stored := bleveDocument{
			Class:    doc.Class,
			EntityID: doc.EntityID,
			Content:  doc.Content,
			Fields:   doc.Fields,
		}
		if err := bleveBatch.Index(doc.ID, stored); err != nil {
			return indexFailure(span, fmt.Errorf("%w: failed to index document %s: %w", ErrIndexing, doc.ID, err))
		}
	}

	if err := b.index.Batch(bleveBatch); err != nil {
		return indexFailure(span, fmt.Errorf("%w: failed to execute batch: %w", ErrIndexing, err))
	}

	b.metrics.RecordIndexed("bleve", entityClass, len(docs), time.Since(start))
	span.SetStatus(codes.Ok, fmt.Sprintf("indexed %d documents", len(docs)))
	return nil
}

// Search runs queryStr against the index. A non-empty entityClass overrides
// any class: filter in the query. Hits are ordered by score, then id.
func (b *BleveIndexer) Search(ctx context.Context, entityClass, queryStr string, limit int) ([]Hit, error) {
	ctx, span := searchTracer.Start(ctx, "BleveIndexer.Search",
		trace.WithAttributes(
			attribute.String("query", queryStr),
			attribute.String("entity_class", entityClass),
		),
	)
	defer span.End()

	parsed, err := b.parser.Parse(queryStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if entityClass != "" {
		parsed.Class = entityClass
	}

	request := bleve.NewSearchRequest(parsed.ToBleveQuery())
	request.Size = clampLimit(limit)
	request.Fields = []string{"class", "entity_id", "content"}
	request.SortBy([]string{"-_score", "_id"})

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errIndexClosed
	}

	result, err := b.index.SearchInContext(ctx, request)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, match := range result.Hits {
		hits = append(hits, Hit{
			ID:       match.ID,
			Class:    storedString(match.Fields, "class"),
			EntityID: storedString(match.Fields, "entity_id"),
			Content:  storedString(match.Fields, "content"),
			Score:    match.Score,
		})
	}
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	return hits, nil
}

// Count returns the number of documents of entityClass, or of every class
// when entityClass is empty
func (b *BleveIndexer) Count(ctx context.Context, entityClass string) (int, error) {
	q := &ParsedQuery{Class: entityClass}
	request := bleve.NewSearchRequest(q.ToBleveQuery())
	request.Size = 0

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, errIndexClosed
	}

	result, err := b.index.SearchInContext(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return int(result.Total), nil
}

// Close closes the index
func (b *BleveIndexer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func storedString(fields map[string]interface{}, key string) string {
	if value, ok := fields[key].(string); ok {
		return value
	}
	return ""
}
