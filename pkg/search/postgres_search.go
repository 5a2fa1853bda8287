package search

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var searchTracer = otel.Tracer("reindexer/search/service")

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// Search runs queryStr against the index. A non-empty entityClass overrides
// any class: filter in the query.
func (idx *PostgresIndexer) Search(ctx context.Context, entityClass, queryStr string, limit int) ([]Hit, error) {
	ctx, span := searchTracer.Start(ctx, "PostgresIndexer.Search",
		trace.WithAttributes(
			attribute.String("query", queryStr),
			attribute.String("entity_class", entityClass),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	parsed, err := idx.parser.Parse(queryStr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse query")
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if entityClass != "" {
		parsed.Class = entityClass
	}

	query, args := buildSearchQuery(parsed, clampLimit(limit))

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to execute search")
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0)
	for rows.Next() {
		var hit Hit
		if err := rows.Scan(&hit.Class, &hit.EntityID, &hit.Content, &hit.Score); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hit.ID = DocumentID(hit.Class, hit.EntityID)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error iterating results")
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "search completed")
	return hits, nil
}

// buildSearchQuery builds a PostgreSQL query from a parsed query
func buildSearchQuery(q *ParsedQuery, limit int) (string, []interface{}) {
	var queryBuilder strings.Builder
	args := make([]interface{}, 0)
	argIndex := 1

	tsquery := q.ToTsQuery()
	if tsquery != "" {
		args = append(args, tsquery)
		queryBuilder.WriteString(fmt.Sprintf(`
		SELECT entity_class, entity_id, content, ts_rank(search_vector, to_tsquery('simple', $%d)) AS rank
		FROM entity_search_index
		WHERE search_vector @@ to_tsquery('simple', $%d)`, argIndex, argIndex))
		argIndex++
	} else {
		queryBuilder.WriteString(`
		SELECT entity_class, entity_id, content, 0.0 AS rank
		FROM entity_search_index
		WHERE 1=1`)
	}

	if q.Class != "" {
		args = append(args, q.Class)
		queryBuilder.WriteString(fmt.Sprintf(`
		AND entity_class = $%d`, argIndex))
		argIndex++
	}

	for _, key := range q.fieldKeys() {
		args = append(args, key, q.Fields[key])
		queryBuilder.WriteString(fmt.Sprintf(`
		AND fields->>$%d = $%d`, argIndex, argIndex+1))
		argIndex += 2
	}

	if tsquery != "" {
		queryBuilder.WriteString(`
		ORDER BY rank DESC, entity_class ASC, entity_id ASC`)
	} else {
		queryBuilder.WriteString(`
		ORDER BY entity_class ASC, entity_id ASC`)
	}

	args = append(args, limit)
	queryBuilder.WriteString(fmt.Sprintf(`
		LIMIT $%d`, argIndex))

	return queryBuilder.String(), args
}
