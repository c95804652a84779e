package musicgen

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/semaphore"
)

// Generator is anything that can run one generation. *Pipeline implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string, params Params, progress func(float32)) ([]float32, error)
}

// Request is one job for a Worker.
type Request struct {
	Prompt string
	Params Params
}

// Event is a message on a job's channel. Progress events come first; the last
// event has Done set and carries either Samples or Err.
type Event struct {
	Progress float32
	Done     bool
	Samples  []float32
	Err      error
}

const progressBuffer = 16

// Worker runs jobs against a Generator off the caller's goroutine, one at a
// time.
type Worker struct {
	gen Generator
	sem *semaphore.Weighted
}

func NewWorker(gen Generator) *Worker {
	return &Worker{gen: gen, sem: semaphore.NewWeighted(1)}
}

// Submit starts req and returns its event channel. The channel is closed
// after the terminal event; callers must drain it. Progress events are
// dropped rather than blocking generation when the caller lags behind.
func (w *Worker) Submit(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, progressBuffer)

	go func() {
		defer close(events)

		if err := w.sem.Acquire(ctx, 1); err != nil {
			events <- Event{Done: true, Err: fmt.Errorf("%w: waiting for worker: %w", ErrCancelled, err)}
			return
		}
		defer w.sem.Release(1)

		samples, err := w.run(ctx, req, func(p float32) {
			select {
			case events <- Event{Progress: p}:
			default:
			}
		})

		done := Event{Done: true, Samples: samples, Err: err}
		if err == nil {
			done.Progress = 1
		}
		events <- done
	}()

	return events
}

func (w *Worker) run(ctx context.Context, req Request, progress func(float32)) (samples []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("generation panicked", "panic", r, "stack", string(debug.Stack()))
			samples = nil
			err = fmt.Errorf("%w: internal error", ErrGeneration)
		}
	}()

	return w.gen.Generate(ctx, req.Prompt, req.Params, progress)
}
