// Package engine evaluates pending tasks once per interval and delivers the
// due ones.
package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/task"
	logx "postbot/pkg/logx"
)

// Deliverer is the delivery port: one send to one destination. Implemented
// over the chat transport; also used by the dialog's immediate-send shortcut.
type Deliverer interface {
	Deliver(ctx context.Context, channelID, message string) error
}

// Engine runs the periodic evaluation cycle. Each cycle is one store
// critical section: load, evaluate, deliver due tasks, one batched save.
type Engine struct {
	store    *task.Store
	port     Deliverer
	log      logx.Logger
	interval time.Duration

	cron *cron.Cron
	now  func() time.Time
}

func New(store *task.Store, port Deliverer, log logx.Logger, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:    store,
		port:     port,
		log:      log,
		interval: interval,
		now:      time.Now,
	}
}

// Start schedules the cycle at the configured cadence and runs one cycle
// right away so a restarted process picks up overdue work immediately.
func (e *Engine) Start(ctx context.Context) {
	c := cron.New()
	c.Schedule(cron.Every(e.interval), cron.FuncJob(func() {
		e.RunCycle(ctx)
	}))
	c.Start()
	e.cron = c
	e.log.Info("engine started", logx.Duration("interval", e.interval))

	go e.RunCycle(ctx)
}

// Stop halts the cadence and waits for a running cycle to finish, honoring
// ctx's deadline.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cron == nil {
		return nil
	}
	stopped := e.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCycle evaluates every pending task against the current time. Delivery
// failures are logged and leave the task's bookkeeping untouched, so the
// next cycle (or, for daily tasks, the next day) retries it.
func (e *Engine) RunCycle(ctx context.Context) {
	now := e.now()
	today := now.Format(task.LayoutDate)

	err := e.store.Update(func(tasks []task.Task) ([]task.Task, bool, error) {
		changed := false
		for i := range tasks {
			t := &tasks[i]
			if t.Status != task.StatusPending {
				continue
			}

			switch t.Mode {
			case task.ModeImmediate:
				if e.deliver(ctx, t) {
					t.Status = task.StatusDone
					changed = true
				}

			case task.ModeDelayed:
				at, err := t.DelayedAt()
				if err != nil {
					e.log.Warn("unparseable schedule, skipping task",
						logx.Int64("task", t.ID), logx.String("schedule", t.Schedule()), logx.Err(err))
					continue
				}
				if now.Before(at) {
					continue
				}
				if e.deliver(ctx, t) {
					t.Status = task.StatusDone
					changed = true
				}

			case task.ModeDaily:
				if t.LastFiredDate == today {
					continue
				}
				at, err := t.DailyAt()
				if err != nil {
					e.log.Warn("unparseable schedule, skipping task",
						logx.Int64("task", t.ID), logx.String("schedule", t.Schedule()), logx.Err(err))
					continue
				}
				// Minute resolution: due once now's time-of-day passes the
				// scheduled hour:minute. May lag up to one interval.
				if now.Hour() < at.Hour() ||
					(now.Hour() == at.Hour() && now.Minute() < at.Minute()) {
					continue
				}
				if e.deliver(ctx, t) {
					t.LastFiredDate = today
					changed = true
				}
			}
		}
		return tasks, changed, nil
	})
	if err != nil {
		e.log.Error("evaluation cycle aborted", logx.Err(err))
	}
}

func (e *Engine) deliver(ctx context.Context, t *task.Task) bool {
	if err := e.port.Deliver(ctx, t.ChannelID, t.Message); err != nil {
		e.log.Warn("delivery failed",
			logx.Int64("task", t.ID), logx.String("channel", t.ChannelID), logx.Err(err))
		return false
	}
	e.log.Info("task delivered",
		logx.Int64("task", t.ID), logx.String("channel", t.ChannelID), logx.String("mode", string(t.Mode)))
	return true
}
