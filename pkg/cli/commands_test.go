package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/reindexer/pkg/entity"
	"github.com/platinummonkey/reindexer/pkg/job"
	"github.com/platinummonkey/reindexer/pkg/queue"
	"github.com/platinummonkey/reindexer/pkg/search"
)

// apiFixture serves the real indexer API over an in-memory queue and job store
type apiFixture struct {
	server    *httptest.Server
	runner    *job.Runner
	transport *queue.MemoryTransport
	out       *bytes.Buffer
	hook      *test.Hook
	root      *Command
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	registry := entity.NewRegistry()
	registry.Register("product", entity.NewStaticManager([]entity.Entity{
		{Class: "product", ID: "1", Fields: map[string]interface{}{"name": "desk lamp"}},
		{Class: "product", ID: "2", Fields: map[string]interface{}{"name": "oak chair"}},
	}))
	registry.Register("customer", entity.NewStaticManager(nil))

	runner := job.NewRunner(job.NewMemoryStore(), job.NewMemoryLocker(), job.RunnerConfig{}, nil, nil)
	transport := queue.NewMemoryTransport(16)

	idx, err := search.NewBleveIndexer("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	manager, err := registry.ManagerForClass("product")
	require.NoError(t, err)
	batch, err := manager.LoadRange(context.Background(), 0, 10)
	require.NoError(t, err)
	require.NoError(t, idx.IndexRange(context.Background(), "product", batch))

	router := mux.NewRouter()
	search.NewHandlers(registry, runner, queue.NewProducer(transport, nil), idx).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	out := &bytes.Buffer{}
	return &apiFixture{
		server:    server,
		runner:    runner,
		transport: transport,
		out:       out,
		hook:      hook,
		root:      NewRootCommand(&Env{Out: out, Logger: logger}),
	}
}

func TestReindexCommand_API(t *testing.T) {
	f := newAPIFixture(t)

	require.NoError(t, f.root.Execute([]string{"reindex", "-server", f.server.URL, "-classes", "product, customer"}))
	assert.Contains(t, f.out.String(), "Reindex requested (message ")
	require.Equal(t, 1, f.transport.Pending())

	msg, err := f.transport.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, search.TopicReindex, msg.Topic)
	req, err := search.ParseReindexRequest(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"product", "customer"}, req.Classes)

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Reindex requested", entry.Message)
	assert.Equal(t, "api", entry.Data["via"])
}

func TestReindexCommand_UnknownClass(t *testing.T) {
	f := newAPIFixture(t)

	err := f.root.Execute([]string{"reindex", "-server", f.server.URL, "-classes", "invoice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invoice")
}

type fakePublisher struct {
	topic   string
	payload interface{}
	err     error
}

func (p *fakePublisher) Send(ctx context.Context, topic string, payload interface{}) (string, error) {
	p.topic, p.payload = topic, payload
	return "queued-1", p.err
}

func TestReindexCommand_Queue(t *testing.T) {
	var out bytes.Buffer
	publisher := &fakePublisher{}
	closed := false
	var gotURL, gotPrefix string

	root := NewRootCommand(&Env{
		Out: &out,
		NewPublisher: func(redisURL, prefix string) (Publisher, func() error, error) {
			gotURL, gotPrefix = redisURL, prefix
			return publisher, func() error { closed = true; return nil }, nil
		},
	})

	require.NoError(t, root.Execute([]string{"reindex", "-redis", "redis://queue:6379/0", "-prefix", "staging"}))
	assert.Equal(t, "redis://queue:6379/0", gotURL)
	assert.Equal(t, "staging", gotPrefix)
	assert.Equal(t, search.TopicReindex, publisher.topic)
	assert.Equal(t, search.ReindexRequest{}, publisher.payload)
	assert.True(t, closed)
	assert.Contains(t, out.String(), "queued-1")

	publisher.err = errors.New("broker down")
	assert.Error(t, root.Execute([]string{"reindex", "-redis", "redis://queue:6379/0"}))
}

func TestStatusAndInterruptCommands(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	root, err := f.runner.RunUnique(ctx, "cli", search.ReindexJobName, func(ctx context.Context, root *job.Job) error {
		_, err := f.runner.CreateDelayed(ctx, root.ID, "search_index_type:product")
		return err
	})
	require.NoError(t, err)

	require.NoError(t, f.root.Execute([]string{"status", "-server", f.server.URL, "-job", "1", "-children"}))
	assert.Contains(t, f.out.String(), "Job 1 search_reindex: running")
	assert.Contains(t, f.out.String(), "Children: new=1")
	assert.Contains(t, f.out.String(), "search_index_type:product")

	require.NoError(t, f.root.Execute([]string{"interrupt", "-server", f.server.URL, "-job", "1"}))
	assert.Contains(t, f.out.String(), "Job 1 interrupted")

	status, err := f.runner.Status(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, status.Job.Interrupted)

	err = f.root.Execute([]string{"status", "-server", f.server.URL, "-job", "99"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")

	assert.EqualError(t, f.root.Execute([]string{"status", "-server", f.server.URL}), "job is required")
}

func TestClassesCommand(t *testing.T) {
	f := newAPIFixture(t)

	require.NoError(t, f.root.Execute([]string{"classes", "-server", f.server.URL}))
	assert.Equal(t, "customer\nproduct\n", f.out.String())
}

func TestSearchCommand(t *testing.T) {
	f := newAPIFixture(t)

	require.NoError(t, f.root.Execute([]string{"search", "-server", f.server.URL, "-q", "lamp", "-class", "product"}))
	assert.Contains(t, f.out.String(), "product:1")
	assert.NotContains(t, f.out.String(), "product:2")
}

func TestClient_ErrorWithoutJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, logrus.New()).Classes(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_DecodesHits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lamp", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"hits":  []search.Hit{{ID: "product:1", Class: "product", EntityID: "1", Score: 1.5}},
			"count": 1,
		})
	}))
	defer server.Close()

	hits, err := NewClient(server.URL+"/", logrus.New()).Search(context.Background(), "", "lamp", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1.5, hits[0].Score)
}
