package client

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/semaphore"
)

// BatchResult is the outcome of one batch task.
type BatchResult[T any] struct {
	Value T
	Err   error
}

// Batch runs tasks with at most limit in flight and returns their results
// in input order. A failing task does not stop its siblings. Tasks that
// never started because ctx ended carry ctx's error. limit <= 0 means no
// bound.
func Batch[T any](ctx context.Context, limit int, tasks []func(context.Context) (T, error)) []BatchResult[T] {
	results := make([]BatchResult[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(tasks); j++ {
				results[j].Err = err
			}
			break
		}
		wg.Add(1)
		go func(i int, task func(context.Context) (T, error)) {
			defer wg.Done()
			defer sem.Release(1)
			results[i].Value, results[i].Err = task(ctx)
		}(i, task)
	}
	wg.Wait()
	return results
}

// ToolCall names one call for CallTools.
type ToolCall struct {
	Provider  string
	Tool      string
	Arguments map[string]any
}

// CallTools runs calls through Batch, each with the usual re-auth policy.
func (c *Client) CallTools(ctx context.Context, limit int, calls []ToolCall) []BatchResult[*mcp.CallToolResult] {
	tasks := make([]func(context.Context) (*mcp.CallToolResult, error), len(calls))
	for i, call := range calls {
		tasks[i] = func(ctx context.Context) (*mcp.CallToolResult, error) {
			return c.CallTool(ctx, call.Provider, call.Tool, call.Arguments)
		}
	}
	return Batch(ctx, limit, tasks)
}
