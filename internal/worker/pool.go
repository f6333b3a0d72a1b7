// Package worker provides a parallel texture generation worker pool.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/spectralnoise/internal/library"
)

// Renderer generates and stores one texture, returning where it was written.
type Renderer interface {
	Render(ctx context.Context, key library.Key, force bool) (path string, err error)
}

// Task represents a single texture generation task.
type Task struct {
	Key   library.Key
	Force bool
}

// Result represents the outcome of a texture generation task.
type Result struct {
	Task    Task
	Path    string
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes with that task's result
// and the running counts.
type ProgressFunc func(r Result, completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Renderer   Renderer
	OnProgress ProgressFunc
}

// Pool manages parallel texture generation.
type Pool struct {
	workers    int
	renderer   Renderer
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		renderer:   cfg.Renderer,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and returns results.
// Tasks are processed in parallel by the configured number of workers.
// The function blocks until all tasks complete or the context is cancelled;
// tasks never handed to a worker after cancellation have no result.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		var completed, failed int
		for result := range resultCh {
			results = append(results, result)

			completed++
			if result.Err != nil {
				failed++
			}

			if p.onProgress != nil {
				p.onProgress(result, completed, len(tasks), failed)
			}
		}
		close(done)
	}()

	wg.Wait()
	close(resultCh)

	<-done

	return results
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		select {
		case <-ctx.Done():
			results <- Result{
				Task: task,
				Err:  ctx.Err(),
			}
			continue
		default:
		}

		start := time.Now()
		path, err := p.renderer.Render(ctx, task.Key, task.Force)
		elapsed := time.Since(start)

		results <- Result{
			Task:    task,
			Path:    path,
			Err:     err,
			Elapsed: elapsed,
		}
	}
}
