package job

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing
)

func setupSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every pooled connection would open its own empty database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db, DialectSQLite)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// storeContract runs the behaviour every Store must share
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		j := &Job{Name: "search_reindex", OwnerID: "msg-1", Status: StatusNew, Unique: true, CreatedAt: created}
		require.NoError(t, store.Create(ctx, j))
		assert.NotZero(t, j.ID)

		got, err := store.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, "search_reindex", got.Name)
		assert.Equal(t, "msg-1", got.OwnerID)
		assert.Equal(t, StatusNew, got.Status)
		assert.True(t, got.Unique)
		assert.True(t, created.Equal(got.CreatedAt))
		assert.Nil(t, got.StartedAt)
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, 404)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("update", func(t *testing.T) {
		store := newStore(t)
		j := &Job{Name: "range", Status: StatusNew, CreatedAt: created}
		require.NoError(t, store.Create(ctx, j))

		stopped := created.Add(time.Minute)
		j.Status = StatusFailed
		j.Reason = "indexer unavailable"
		j.StartedAt = &created
		j.StoppedAt = &stopped
		require.NoError(t, store.Update(ctx, j))

		got, err := store.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, "indexer unavailable", got.Reason)
		require.NotNil(t, got.StoppedAt)
		assert.True(t, stopped.Equal(*got.StoppedAt))
	})

	t.Run("update missing", func(t *testing.T) {
		store := newStore(t)
		err := store.Update(ctx, &Job{ID: 99, Status: StatusRunning})
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("unique names", func(t *testing.T) {
		store := newStore(t)
		first := &Job{Name: "search_reindex", Status: StatusRunning, Unique: true, CreatedAt: created}
		require.NoError(t, store.Create(ctx, first))

		err := store.Create(ctx, &Job{Name: "search_reindex", Status: StatusNew, Unique: true, CreatedAt: created})
		assert.ErrorIs(t, err, ErrDuplicateJob)

		first.Status = StatusSuccess
		require.NoError(t, store.Update(ctx, first))
		assert.NoError(t, store.Create(ctx, &Job{Name: "search_reindex", Status: StatusNew, Unique: true, CreatedAt: created}),
			"a finished unique job frees its name")
	})

	t.Run("children", func(t *testing.T) {
		store := newStore(t)
		root := &Job{Name: "root", Status: StatusRunning, Unique: true, CreatedAt: created}
		require.NoError(t, store.Create(ctx, root))
		for _, name := range []string{"a", "b"} {
			require.NoError(t, store.Create(ctx, &Job{Name: name, Status: StatusNew, RootJobID: root.ID, CreatedAt: created}))
		}
		require.NoError(t, store.Create(ctx, &Job{Name: "other", Status: StatusNew, CreatedAt: created}))

		children, err := store.Children(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "a", children[0].Name)
		assert.Equal(t, "b", children[1].Name)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLStore_SQLite(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return setupSQLiteStore(t) })
}

func TestMemoryStore_Put(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&Job{ID: 12345, Name: "index_range", Status: StatusNew})

	got, err := store.Get(context.Background(), 12345)
	require.NoError(t, err)
	assert.Equal(t, "index_range", got.Name)

	next := &Job{Name: "after"}
	require.NoError(t, store.Create(context.Background(), next))
	assert.Equal(t, int64(12346), next.ID)
}

func TestSQLStore_PostgresErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(db, "")

	mock.ExpectQuery("INSERT INTO search_jobs").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	err = store.Create(context.Background(), &Job{Name: "search_reindex", Unique: true})
	assert.ErrorIs(t, err, ErrDuplicateJob)

	mock.ExpectQuery("SELECT (.+) FROM search_jobs WHERE id = \\$1").
		WithArgs(int64(7)).
		WillReturnError(errors.New("connection reset"))
	_, err = store.Get(context.Background(), 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrJobNotFound)
	assert.Contains(t, err.Error(), "failed to get job 7")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_MigratePostgresDDL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS search_jobs \\(\\s+id BIGSERIAL PRIMARY KEY").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS search_jobs_root_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE UNIQUE INDEX IF NOT EXISTS search_jobs_active_unique_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewSQLStore(db, DialectPostgres).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
