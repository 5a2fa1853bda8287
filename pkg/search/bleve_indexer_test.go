package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/reindexer/pkg/entity"
	"github.com/platinummonkey/reindexer/pkg/observability"
)

func hitIDs(hits []Hit) []string {
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	return ids
}

func TestBleveIndexer_Search(t *testing.T) {
	ctx := context.Background()
	idx := newMemoryIndex(t)

	require.NoError(t, idx.IndexRange(ctx, "product", []entity.Entity{
		{ID: "1", Fields: map[string]interface{}{"name": "brass desk lamp", "color": "gold"}},
		{ID: "2", Fields: map[string]interface{}{"name": "floor lamp", "color": "black"}},
		{ID: "3", Fields: map[string]interface{}{"name": "oak desk", "color": "brown"}},
	}))
	require.NoError(t, idx.IndexRange(ctx, "customer", []entity.Entity{
		{ID: "1", Fields: map[string]interface{}{"email": "lamp@example.com", "name": "Lamp Collector"}},
	}))

	tests := []struct {
		name  string
		class string
		query string
		want  []string
	}{
		{name: "class only", class: "product", query: "", want: []string{"product:1", "product:2", "product:3"}},
		{name: "all terms", class: "product", query: "desk lamp", want: []string{"product:1"}},
		{name: "any term", class: "product", query: "floor OR oak", want: []string{"product:2", "product:3"}},
		{name: "excluded", class: "product", query: "lamp -floor", want: []string{"product:1"}},
		{name: "field filter", class: "", query: "class:product color:black", want: []string{"product:2"}},
		{name: "across classes", class: "", query: "collector", want: []string{"customer:1"}},
		{name: "no match", class: "product", query: "chair", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := idx.Search(ctx, tt.class, tt.query, 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, hitIDs(hits))
		})
	}
}

func TestBleveIndexer_StoredFields(t *testing.T) {
	ctx := context.Background()
	idx := newMemoryIndex(t)

	require.NoError(t, idx.IndexRange(ctx, "product", products(1)))

	hits, err := idx.Search(ctx, "product", "lamp", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "product:p000", hits[0].ID)
	assert.Equal(t, "product", hits[0].Class)
	assert.Equal(t, "p000", hits[0].EntityID)
	assert.Equal(t, "red lamp model 0", hits[0].Content)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestBleveIndexer_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := newMemoryIndex(t)

	require.NoError(t, idx.IndexRange(ctx, "product", []entity.Entity{
		{ID: "1", Fields: map[string]interface{}{"name": "lamp"}},
	}))
	require.NoError(t, idx.IndexRange(ctx, "product", []entity.Entity{
		{ID: "1", Fields: map[string]interface{}{"name": "chair"}},
	}))

	assert.Equal(t, map[string]string{"product:1": "chair"}, snapshot(t, idx, "product"))

	hits, err := idx.Search(ctx, "product", "lamp", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveIndexer_Count(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	idx, err := NewBleveIndexer("", metrics)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexRange(ctx, "product", products(12)))
	require.NoError(t, idx.IndexRange(ctx, "customer", []entity.Entity{{ID: "c1", Fields: map[string]interface{}{"email": "a@b.c"}}}))
	require.NoError(t, idx.IndexRange(ctx, "customer", nil))

	count, err := idx.Count(ctx, "product")
	require.NoError(t, err)
	assert.Equal(t, 12, count)

	count, err = idx.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 13, count)

	assert.Equal(t, float64(12), testutil.ToFloat64(metrics.EntitiesIndexedTotal.WithLabelValues("product")))
}

func TestBleveIndexer_InvalidQuery(t *testing.T) {
	idx, err := NewBleveIndexer("", nil)
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Search(context.Background(), "", "class:a class:b", 5)
	require.ErrorIs(t, err, ErrInvalidQuery)
	assert.Contains(t, err.Error(), "conflicting class filters")
}

func TestBleveIndexer_Closed(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBleveIndexer("", nil)
	require.NoError(t, err)

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.IndexRange(ctx, "product", products(1)), ErrIndexing)
	_, err = idx.Search(ctx, "product", "", 10)
	assert.Error(t, err)
	_, err = idx.Count(ctx, "product")
	assert.Error(t, err)
}

func TestBleveIndexer_ReopensFromDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "search.bleve")

	idx, err := NewBleveIndexer(path, nil)
	require.NoError(t, err)
	require.NoError(t, idx.IndexRange(ctx, "product", products(5)))
	require.NoError(t, idx.Close())

	reopened, err := NewBleveIndexer(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(ctx, "product")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
