package scheduler

import (
	"context"
	"time"

	"github.com/openfroyo/workorders/pkg/engine"
)

// Source supplies the work orders for a pass.
type Source interface {
	Orders(ctx context.Context) ([]*engine.WorkOrder, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]*engine.WorkOrder, error)

// Orders implements Source.
func (f SourceFunc) Orders(ctx context.Context) ([]*engine.WorkOrder, error) {
	return f(ctx)
}

// StaticSource always returns the same work orders.
func StaticSource(orders ...*engine.WorkOrder) Source {
	return SourceFunc(func(context.Context) ([]*engine.WorkOrder, error) {
		return orders, nil
	})
}

// Loop runs a pass immediately and then every interval until ctx is
// cancelled. Source and pass errors are logged and the loop continues. It
// returns nil once ctx is done.
func (s *Scheduler) Loop(ctx context.Context, interval time.Duration, source Source) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("Scheduling loop started")
	for {
		s.runOnce(ctx, source)

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduling loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, source Source) {
	orders, err := source.Orders(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load work orders")
		return
	}
	if _, err := s.RunPass(ctx, orders); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("Scheduling pass failed")
	}
}
