// Package sweeper runs periodic maintenance jobs, most importantly the
// reservation timeout that cancels abandoned checkouts and returns their
// stock.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/metrics"
)

const defaultInterval = 5 * time.Minute

// Lock keeps a cycle exclusive across worker instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.Jobs
	Interval time.Duration
}

type Service struct {
	log      *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.Jobs
	interval time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Logger == nil {
		return nil, errors.New("logger required")
	}
	if p.Lock == nil {
		return nil, errors.New("lock required")
	}
	registry := p.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		log:      p.Logger,
		registry: registry,
		lock:     p.Lock,
		metrics:  p.Metrics,
		interval: interval,
	}, nil
}

// Run executes one cycle immediately and then one per interval until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil {
		s.log.Error(ctx, "sweep cycle failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error(ctx, "sweep cycle failed", err)
			}
		}
	}
}

// RunOnce runs every job once if this instance wins the lock. A failing job
// does not stop the ones after it.
func (s *Service) RunOnce(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.log.Debug(ctx, "another worker holds the sweep lock; skipping cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.log.Error(ctx, "release sweep lock", err)
		}
	}()

	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	ctx = s.log.WithField(ctx, "job", job.Name())
	start := time.Now()
	err := job.Run(ctx)
	d := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), d)
	ctx = s.log.WithField(ctx, "duration_ms", d.Milliseconds())
	if err != nil {
		s.log.Error(ctx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.log.Debug(ctx, "job completed")
	s.metrics.IncSuccess(job.Name())
}
