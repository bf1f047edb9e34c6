package connector

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerRunOnce(t *testing.T) {
	p := NewPoller()
	var runs atomic.Int32
	require.NoError(t, p.Add("inbox", "", func(context.Context) { runs.Add(1) }))

	require.NoError(t, p.RunOnce(context.Background(), "inbox"))
	assert.Equal(t, int32(1), runs.Load())
	require.Error(t, p.RunOnce(context.Background(), "other"))
	assert.Equal(t, []string{"inbox"}, p.Names())
}

func TestPollerRejectsDuplicatesAndBadSchedules(t *testing.T) {
	p := NewPoller()
	require.NoError(t, p.Add("a", "@every 1m", func(context.Context) {}))
	require.Error(t, p.Add("a", "@every 1m", func(context.Context) {}))
	require.Error(t, p.Add("b", "not a schedule", func(context.Context) {}))
}

func TestPollerSchedulesAndStops(t *testing.T) {
	p := NewPoller()
	var runs atomic.Int32
	var cancelled atomic.Bool
	require.NoError(t, p.Add("tick", "@every 1s", func(ctx context.Context) {
		runs.Add(1)
		<-ctx.Done()
		cancelled.Store(true)
	}))

	p.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	select {
	case <-p.Stop().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("running cycle was not cancelled")
	}
	assert.True(t, cancelled.Load())
	assert.Equal(t, int32(1), runs.Load(), "overlapping cycles are skipped")
}

func TestPollerDrivesConnectorPoll(t *testing.T) {
	c, _ := newConnector(t, 2)
	ctx := context.Background()
	require.NoError(t, c.PutFile(ctx, "/sched", "a.txt", strings.NewReader("x")))

	p := NewPoller()
	var delivered atomic.Int32
	req := PollRequest{Name: "sched", Directory: "/sched", DeleteAfterGet: true}
	require.NoError(t, p.Add(req.Name, "", func(ctx context.Context) {
		c.Poll(ctx, req, func(context.Context, *Message) error {
			delivered.Add(1)
			return nil
		})
	}))

	require.NoError(t, p.RunOnce(ctx, "sched"))
	require.NoError(t, p.RunOnce(ctx, "sched"))
	assert.Equal(t, int32(1), delivered.Load())
	assert.Empty(t, fileNames(t, c, "/sched"))
}
