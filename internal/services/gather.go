package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ledger/internal/log"
)

// TaskResult is the outcome of one side effect of a mutation.
type TaskResult struct {
	Name string
	Err  error
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// gather runs every task concurrently and waits for all of them. Each task
// writes only its own slot; a failure or panic never cancels a sibling.
func gather(ctx context.Context, logger *log.Logger, tasks []task) []TaskResult {
	results := make([]TaskResult, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		results[i].Name = t.name
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("task %s panicked: %v", t.name, r)
				}
			}()
			results[i].Err = t.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			logger.WarnContext(ctx, "Side effect failed", log.FieldTask, r.Name, log.FieldError, r.Err)
		}
	}
	return results
}

func failed(results []TaskResult, name string) error {
	for _, r := range results {
		if r.Name == name {
			return r.Err
		}
	}
	return nil
}
