package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_RunsAllTasks(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 4})

	var ran atomic.Int32
	tasks := make([]func(context.Context) error, 50)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			ran.Add(1)
			return nil
		}
	}

	err := wp.Do(context.Background(), tasks...)
	require.NoError(t, err)
	assert.Equal(t, int32(50), ran.Load())
}

func TestDo_BoundsParallelism(t *testing.T) {
	const workers = 3
	wp := NewWorkerPool(Config{WorkerCount: workers})

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	tasks := make([]func(context.Context) error, 30)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			mu.Lock()
			current--
			mu.Unlock()
			return nil
		}
	}

	require.NoError(t, wp.Do(context.Background(), tasks...))
	assert.LessOrEqual(t, peak, workers)
}

func TestDo_FirstErrorWins(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 2})
	boom := errors.New("boom")

	err := wp.Do(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
		func(context.Context) error { return nil },
	)
	assert.ErrorIs(t, err, boom)
}

func TestDo_CanceledContext(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	err := wp.Do(ctx,
		func(context.Context) error { ran.Add(1); return nil },
		func(context.Context) error { ran.Add(1); return nil },
	)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), ran.Load())
}

func TestNewWorkerPool_DefaultCount(t *testing.T) {
	wp := NewWorkerPool(Config{})
	assert.Greater(t, wp.WorkerCount(), 0)
}
