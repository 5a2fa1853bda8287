package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/reindexer/pkg/entity"
	"github.com/platinummonkey/reindexer/pkg/job"
	"github.com/platinummonkey/reindexer/pkg/observability"
	"github.com/platinummonkey/reindexer/pkg/queue"
)

type logLine struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

// logCapture is a logger whose JSON lines can be read back
type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *logCapture) logger() *observability.Logger {
	return observability.NewLogger(observability.DebugLevel, c)
}

func (c *logCapture) errors(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var messages []string
	scanner := bufio.NewScanner(bytes.NewReader(c.buf.Bytes()))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var line logLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		if line.Level == "ERROR" {
			messages = append(messages, line.Msg)
		}
	}
	return messages
}

// passThroughRunner invokes fn directly and records what it was asked to run
type passThroughRunner struct {
	mu      sync.Mutex
	jobIDs  []int64
	results []job.Result
	err     error
}

func (r *passThroughRunner) RunDelayed(ctx context.Context, jobID int64, fn job.DelayedFunc) (job.Result, error) {
	r.mu.Lock()
	r.jobIDs = append(r.jobIDs, jobID)
	r.mu.Unlock()
	if r.err != nil {
		return job.Result{}, r.err
	}

	result := fn(ctx, &job.Job{ID: jobID, Status: job.StatusRunning})
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
	return result, nil
}

type indexCall struct {
	class string
	batch []entity.Entity
}

type recordingIndexer struct {
	mu    sync.Mutex
	calls []indexCall
	err   error
	panic bool
}

func (i *recordingIndexer) IndexRange(ctx context.Context, entityClass string, batch []entity.Entity) error {
	if i.panic {
		panic("index backend exploded")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, indexCall{class: entityClass, batch: batch})
	return i.err
}

// sequenceManager serves entities whose ids are their positions
type sequenceManager struct {
	mu      sync.Mutex
	total   int
	loads   [][2]int
	loadErr error
}

func (m *sequenceManager) LoadRange(ctx context.Context, offset, limit int) ([]entity.Entity, error) {
	m.mu.Lock()
	m.loads = append(m.loads, [2]int{offset, limit})
	m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}

	var entities []entity.Entity
	for i := offset; i < offset+limit && i < m.total; i++ {
		entities = append(entities, entity.Entity{
			ID:     strconv.Itoa(i),
			Fields: map[string]interface{}{"position": i},
		})
	}
	return entities, nil
}

func (m *sequenceManager) Count(ctx context.Context) (int, error) {
	return m.total, nil
}

// recordingPublisher keeps every payload sent per topic
type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]interface{}
	failOn   string
}

func (p *recordingPublisher) Send(ctx context.Context, topic string, payload interface{}) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == p.failOn {
		return "", errors.New("broker unavailable")
	}
	if p.messages == nil {
		p.messages = make(map[string][]interface{})
	}
	p.messages[topic] = append(p.messages[topic], payload)
	return fmt.Sprintf("msg-%d", len(p.messages[topic])), nil
}

func (p *recordingPublisher) sent(topic string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interface{}(nil), p.messages[topic]...)
}

func rangeMessage(t *testing.T, body interface{}) *queue.Message {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return &queue.Message{ID: "msg-1", Topic: TopicIndexEntitiesByRange, Body: data}
}

func products(n int) []entity.Entity {
	colors := []string{"red", "green", "blue"}
	entities := make([]entity.Entity, 0, n)
	for i := 0; i < n; i++ {
		entities = append(entities, entity.Entity{
			Class: "product",
			ID:    fmt.Sprintf("p%03d", i),
			Fields: map[string]interface{}{
				"name":  fmt.Sprintf("lamp model %d", i),
				"color": colors[i%len(colors)],
			},
		})
	}
	return entities
}

func newMemoryIndex(t *testing.T) *BleveIndexer {
	t.Helper()
	idx, err := NewBleveIndexer("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

// snapshot returns document id -> content for every document of class
func snapshot(t *testing.T, idx Searcher, class string) map[string]string {
	t.Helper()
	hits, err := idx.Search(context.Background(), class, "", maxSearchLimit)
	require.NoError(t, err)

	docs := make(map[string]string, len(hits))
	for _, hit := range hits {
		docs[hit.ID] = hit.Content
	}
	return docs
}
