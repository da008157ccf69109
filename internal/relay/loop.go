package relay

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Run consumes inbound events and handles them with bounded concurrency.
// A worker slot is reserved before an event is taken off the bus, so a
// cancelled ctx stops Run even while every slot is busy and leaves the
// remaining events queued. Events already started finish before Run
// returns; their backend calls are not cancelled by ctx.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay loop started", "max_concurrent", r.maxConcurrent)

	var g errgroup.Group
	slots := semaphore.NewWeighted(int64(r.maxConcurrent))
	detached := context.WithoutCancel(ctx)
	inbound := r.bus.Subscribe()

loop:
	for {
		if err := slots.Acquire(ctx, 1); err != nil {
			r.logger.Info("relay loop stopping")
			break
		}

		select {
		case <-ctx.Done():
			slots.Release(1)
			r.logger.Info("relay loop stopping")
			break loop
		case ev, ok := <-inbound:
			if !ok {
				slots.Release(1)
				r.logger.Info("inbound bus closed, relay loop stopping")
				break loop
			}
			g.Go(func() error {
				defer slots.Release(1)
				r.Handle(detached, ev)
				return nil
			})
		}
	}

	return g.Wait()
}
