package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// fadeState is the controller's externally visible state.
type fadeState int32

const (
	fadeIdle fadeState = iota
	fadeFading
)

func (s fadeState) String() string {
	switch s {
	case fadeIdle:
		return "idle"
	case fadeFading:
		return "fading"
	default:
		return "unknown"
	}
}

// fadeController owns the activity → full → quiet period → ramp cycle.
//
// There is at most one fade task. Activity cancels it, waits for it to exit,
// sends the full level and only then starts the replacement, so the full
// level always precedes the new task's steps on the command channel and no
// step of the old task can follow it.
type fadeController struct {
	cfg    FadeConfig
	cmds   chan<- int32
	status *statusPublisher
	logger *slog.Logger

	// mu serializes Activity/Stop; cancel and done belong to the current task.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	fading  atomic.Bool
	started atomic.Int64
}

func newFadeController(cfg FadeConfig, cmds chan<- int32, status *statusPublisher, logger *slog.Logger) *fadeController {
	return &fadeController{
		cfg:    cfg,
		cmds:   cmds,
		status: status,
		logger: logger.With("component", "fade"),
	}
}

// Activity restarts the cycle. It blocks while the command channel is full
// and returns ctx.Err() if ctx ends first, in which case no task is running.
func (c *fadeController) Activity(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopLocked() {
		c.logger.Debug("fade interrupted by activity")
	}

	select {
	case c.cmds <- c.cfg.Full:
	case <-ctx.Done():
		return ctx.Err()
	}

	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	c.fading.Store(true)
	n := c.started.Inc()
	c.status.Publish(statusFadeChanged{State: fadeFading, At: time.Now()})
	c.logger.Debug("fade scheduled", "fade", n, "quiet_period", c.cfg.QuietPeriod)

	go c.run(taskCtx, done)
	return nil
}

// Stop cancels the current fade task, if any, and waits for it to exit.
func (c *fadeController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopLocked() {
		c.status.Publish(statusFadeChanged{State: fadeIdle, At: time.Now()})
	}
}

// State reports whether a fade task is running.
func (c *fadeController) State() fadeState {
	if c.fading.Load() {
		return fadeFading
	}
	return fadeIdle
}

// Started returns how many fade tasks have been started.
func (c *fadeController) Started() int64 {
	return c.started.Load()
}

// stopLocked cancels and joins the current task. It reports whether a task
// was still running. c.mu must be held.
func (c *fadeController) stopLocked() bool {
	if c.cancel == nil {
		return false
	}

	running := false
	select {
	case <-c.done:
	default:
		running = true
	}

	c.cancel()
	<-c.done

	c.cancel = nil
	c.done = nil
	if running {
		c.fading.Store(false)
	}
	return running
}

// run is one fade task. After it observes cancellation it sends nothing.
func (c *fadeController) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	if !sleepCtx(ctx, c.cfg.QuietPeriod) {
		return
	}

	for i := int32(0); i < c.cfg.Steps; i++ {
		if ctx.Err() != nil {
			return
		}
		// With room in cmds and ctx already done, select may still pick the
		// send. That step lands before Activity's FULL, which waits on done,
		// so nothing from this task can follow FULL.
		select {
		case c.cmds <- c.cfg.Level(i):
		case <-ctx.Done():
			return
		}
		if !sleepCtx(ctx, c.cfg.StepInterval) {
			return
		}
	}

	c.fading.Store(false)
	c.status.Publish(statusFadeChanged{State: fadeIdle, At: time.Now()})
	c.logger.Debug("fade complete")
}

// sleepCtx waits for d or until ctx ends. It returns false if ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
