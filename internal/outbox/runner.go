package outbox

import (
	"context"
	"sync"
)

type Runner struct {
	processor *Processor
	wg        sync.WaitGroup
}

func NewRunner(processor *Processor) *Runner {
	return &Runner{processor: processor}
}

func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.processor.Run(ctx)
	}()
}

// Wait blocks until the processor exits after its context is cancelled.
func (r *Runner) Wait() {
	r.wg.Wait()
}
