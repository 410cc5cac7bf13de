// Package worker is the asynchronous consumer side: a pool of workers that
// lease tasks from the queue, route them to persona handlers, and ack or
// nack the outcome. Workers share nothing with each other; the queue and
// dedup store provide all coordination.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/nautilabs/nautifier/internal/bus"
	"github.com/nautilabs/nautifier/internal/config"
	"github.com/nautilabs/nautifier/internal/store"
)

// Pool runs the consumer loop.
type Pool struct {
	cfg    config.WorkerConfig
	queue  store.TaskQueue
	router *Router

	dedup         store.DedupStore
	purgeSchedule string
}

func NewPool(cfg config.WorkerConfig, queue store.TaskQueue, router *Router, dedup store.DedupStore, purgeSchedule string) *Pool {
	return &Pool{
		cfg:           cfg,
		queue:         queue,
		router:        router,
		dedup:         dedup,
		purgeSchedule: purgeSchedule,
	}
}

// Run blocks until ctx is cancelled. It starts the worker goroutines, the
// lease reaper and the dedup purge loop.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("worker pool starting", "concurrency", p.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error { return p.workerLoop(ctx) })
	}
	g.Go(func() error { return p.reaperLoop(ctx) })
	if p.dedup != nil && p.purgeSchedule != "" {
		g.Go(func() error { return p.purgeLoop(ctx) })
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) error {
	for {
		task, err := p.queue.Dequeue(ctx, p.cfg.Lease())
		switch {
		case err == nil:
			p.process(ctx, task)
			continue
		case err == store.ErrNoTask:
			// fall through to poll wait
		case ctx.Err() != nil:
			return nil
		default:
			slog.Error("dequeue failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.PollInterval()):
		}
	}
}

// process runs one leased task to completion and settles it. Ack/nack use a
// fresh context so a shutdown mid-task still settles the lease.
func (p *Pool) process(ctx context.Context, task *bus.QueuedTask) {
	ev := task.Event

	hctx, span := otel.Tracer("nautifier/worker").Start(ctx, "task.handle")
	span.SetAttributes(
		attribute.String("slack.event_id", ev.EventID),
		attribute.String("slack.channel", ev.ChannelID),
		attribute.Int("task.attempt", task.Attempt),
	)
	defer span.End()

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	handler, ok := p.router.Resolve(ev.ChannelID)
	if !ok {
		// Not transient: no amount of retrying makes an unknown channel
		// routable. Log loudly, ack, move on.
		slog.Warn("no handler for channel, dropping task",
			"event", ev.EventID, "channel", ev.ChannelID)
		if err := p.queue.Ack(settleCtx, task.ID); err != nil {
			slog.Error("ack failed", "task", task.ID, "error", err)
		}
		return
	}

	hctx, hcancel := context.WithTimeout(hctx, p.cfg.HandlerTimeout())
	defer hcancel()

	start := time.Now()
	err := handler.Handle(hctx, ev)
	if err == nil {
		slog.Info("task completed",
			"event", ev.EventID, "handler", handler.Name(),
			"attempt", task.Attempt, "took", time.Since(start))
		if ackErr := p.queue.Ack(settleCtx, task.ID); ackErr != nil {
			slog.Error("ack failed", "task", task.ID, "error", ackErr)
		}
		return
	}

	retryAfter := p.cfg.Backoff(task.Attempt)
	slog.Warn("task failed",
		"event", ev.EventID, "handler", handler.Name(),
		"attempt", task.Attempt, "max_attempts", p.cfg.MaxAttempts,
		"retry_after", retryAfter, "error", err)
	if nackErr := p.queue.Nack(settleCtx, task.ID, err.Error(), p.cfg.MaxAttempts, retryAfter); nackErr != nil {
		slog.Error("nack failed", "task", task.ID, "error", nackErr)
	}
}

// reaperLoop returns tasks whose worker died mid-lease to the queue.
func (p *Pool) reaperLoop(ctx context.Context) error {
	interval := p.cfg.Lease() / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.queue.RequeueExpiredLeases(ctx)
			if err != nil {
				slog.Error("lease reaper failed", "error", err)
			} else if n > 0 {
				slog.Warn("requeued expired leases", "count", n)
			}
		}
	}
}

// purgeLoop sweeps expired dedup records on the configured cron schedule.
func (p *Pool) purgeLoop(ctx context.Context) error {
	gron := gronx.New()
	if !gron.IsValid(p.purgeSchedule) {
		slog.Error("invalid dedup purge schedule, purge disabled", "schedule", p.purgeSchedule)
		return nil
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			due, err := gron.IsDue(p.purgeSchedule, time.Now())
			if err != nil || !due {
				continue
			}
			n, err := p.dedup.PurgeExpired(ctx)
			if err != nil {
				slog.Error("dedup purge failed", "error", err)
			} else if n > 0 {
				slog.Info("purged expired dedup records", "count", n)
			}
		}
	}
}
