package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler("every tuesday", nil, &recordingPublisher{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid reindex schedule")
}

func TestScheduler_RunOnce(t *testing.T) {
	publisher := &recordingPublisher{}
	scheduler, err := NewScheduler("0 3 * * *", []string{"product"}, publisher, nil)
	require.NoError(t, err)

	id, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, []interface{}{ReindexRequest{Classes: []string{"product"}}}, publisher.sent(TopicReindex))

	publisher.failOn = TopicReindex
	_, err = scheduler.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestScheduler_Ticks(t *testing.T) {
	publisher := &recordingPublisher{}
	scheduler, err := NewScheduler("@every 1s", nil, publisher, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	scheduler.Start(ctx)

	require.Eventually(t, func() bool {
		return len(publisher.sent(TopicReindex)) > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	scheduler.Stop()
	assert.Equal(t, ReindexRequest{}, publisher.sent(TopicReindex)[0])
}
