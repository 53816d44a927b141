// Package workerpool provides a small bounded-parallelism executor. It is
// used for the client-side leaf fetch and upload fan-outs.
package workerpool

import (
	"context"
	"runtime"
	"sync"
)

type Config struct {
	WorkerCount int
}

type WorkerPool struct {
	config Config
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		numberOfCPUs := runtime.NumCPU()
		config.WorkerCount = numberOfCPUs * 3
	}
	return &WorkerPool{config: config}
}

func (wp *WorkerPool) WorkerCount() int {
	return wp.config.WorkerCount
}

// Do runs the tasks with at most WorkerCount in flight. The first task error
// cancels the remaining ones and is returned. A canceled ctx stops new tasks
// from being issued.
func (wp *WorkerPool) Do(ctx context.Context, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	slots := make(chan struct{}, wp.config.WorkerCount)

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		task := task
		slots <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			if ctx.Err() != nil {
				return
			}
			if err := task(ctx); err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
