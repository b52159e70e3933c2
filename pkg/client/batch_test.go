package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrate/pkg/oauth"
)

func TestBatch_OrderAndIsolation(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	tasks := make([]func(context.Context) (int, error), 10)
	for i := range tasks {
		tasks[i] = func(context.Context) (int, error) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			// Later tasks finish first so ordering is not accidental.
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			inFlight.Add(-1)
			if i == 3 {
				return 0, fmt.Errorf("task %d failed", i)
			}
			return i * i, nil
		}
	}

	results := Batch(context.Background(), 3, tasks)
	require.Len(t, results, 10)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(3))

	for i, r := range results {
		if i == 3 {
			assert.EqualError(t, r.Err, "task 3 failed")
			continue
		}
		assert.NoError(t, r.Err)
		assert.Equal(t, i*i, r.Value)
	}
}

func TestBatch_UnboundedAndEmpty(t *testing.T) {
	assert.Empty(t, Batch[int](context.Background(), 2, nil))

	var inFlight atomic.Int32
	release := make(chan struct{})
	tasks := make([]func(context.Context) (bool, error), 5)
	for i := range tasks {
		tasks[i] = func(context.Context) (bool, error) {
			inFlight.Add(1)
			<-release
			return true, nil
		}
	}

	done := make(chan []BatchResult[bool])
	go func() { done <- Batch(context.Background(), 0, tasks) }()
	require.Eventually(t, func() bool { return inFlight.Load() == 5 }, time.Second, 5*time.Millisecond)
	close(release)
	for _, r := range <-done {
		assert.True(t, r.Value)
	}
}

func TestBatch_CancelledContextFailsUnstartedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	tasks := []func(context.Context) (string, error){
		func(context.Context) (string, error) {
			close(started)
			cancel()
			return "first", nil
		},
		func(context.Context) (string, error) { return "second", nil },
	}

	results := Batch(ctx, 1, tasks)
	<-started
	assert.Equal(t, "first", results[0].Value)
	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, context.Canceled))
}

func TestCallTools(t *testing.T) {
	ts := newToolServer(t, func(call rpcCall) (int, string) {
		if call.Authorization == "" {
			return http.StatusOK, textResult("anonymous")
		}
		return http.StatusOK, textResult(call.Authorization)
	})
	c := newClient(t, ts)
	setToken(t, c, "github", "gho")

	results := c.CallTools(context.Background(), 2, []ToolCall{
		{Provider: "github", Tool: "a"},
		{Provider: "slack", Tool: "b"},
		{Tool: "c"},
	})
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "Bearer gho", resultText(results[0].Value))
	_, isAuth := oauth.AsAuthenticationError(results[1].Err)
	assert.True(t, isAuth, "slack has no token")
	require.NoError(t, results[2].Err)
	assert.Equal(t, "anonymous", resultText(results[2].Value))
}
