// Package workerpool implements the "worker bridge" of SPEC_FULL.md
// §4.8: a bounded pool of goroutines standing in for the single
// background worker the original describes, since Go has no
// structured-clone message-port boundary to simulate — offloading a
// task to a goroutine pool is the semantically equivalent primitive
// spec.md's Design Notes call out ("a pure-main-thread fallback using
// a background-priority scheduler ... is allowed and semantically
// equivalent provided the 30s timeout remains"). Sizing and metrics
// are modeled on the teacher's provider.Pool; periodic draining is
// modeled on provider.HealthPoller.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskKind identifies which CPU-heavy job a Task performs.
type TaskKind string

const (
	TaskEncrypt       TaskKind = "encrypt"
	TaskDecrypt       TaskKind = "decrypt"
	TaskArchiveBuild  TaskKind = "archive_build"
	TaskArchivePrune  TaskKind = "archive_prune"
	TaskPromptBuild   TaskKind = "prompt_build"
	// TaskTimeout is the safety timeout of spec §5: a task exceeding it
	// is rejected and its result channel closed.
	TaskTimeout = 30 * time.Second
)

// Task is a unit of offloaded work: Kind identifies the handler,
// Payload/Result are opaque to the pool, and ID lets the
// caller match a submitted task to its eventual result, mirroring the
// structured-clone message port's UUID correlation id (spec §5).
type Task struct {
	ID      uuid.UUID
	Kind    TaskKind
	Payload any
}

// Result is delivered on the channel returned by Submit.
type Result struct {
	TaskID uuid.UUID
	Value  any
	Err    error
}

// Handler performs the work for one TaskKind.
type Handler func(ctx context.Context, payload any) (any, error)

// Config sizes the pool, modeled on the teacher's provider.PoolConfig.
type Config struct {
	Workers int
}

// DefaultConfig returns production-grade pool defaults.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Pool is the bounded task-offload worker pool.
type Pool struct {
	logger   zerolog.Logger
	handlers map[TaskKind]Handler
	tasks    chan taskEnvelope

	wg     sync.WaitGroup
	cancel context.CancelFunc

	submitted int64
	completed int64
	timedOut  int64
	failed    int64
}

type taskEnvelope struct {
	task   Task
	result chan Result
}

// New constructs a Pool whose task queue holds cfg.Workers*4 tasks. No
// goroutines run until Start is called; Start's argument sets how many.
func New(cfg Config, logger zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg = DefaultConfig()
	}
	return &Pool{
		logger:   logger.With().Str("component", "workerpool").Logger(),
		handlers: make(map[TaskKind]Handler),
		tasks:    make(chan taskEnvelope, cfg.Workers*4),
	}
}

// Register installs the handler for a TaskKind. Call before Start.
func (p *Pool) Register(kind TaskKind, h Handler) {
	p.handlers[kind] = h
}

// Start launches the worker goroutines.
func (p *Pool) Start(workers int) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	if workers <= 0 {
		workers = DefaultConfig().Workers
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Stop cancels in-flight work and waits for workers to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	close(p.tasks)
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(ctx, env)
		}
	}
}

func (p *Pool) run(ctx context.Context, env taskEnvelope) {
	handler, ok := p.handlers[env.task.Kind]
	if !ok {
		env.result <- Result{TaskID: env.task.ID, Err: fmt.Errorf("workerpool: no handler registered for %s", env.task.Kind)}
		atomic.AddInt64(&p.failed, 1)
		close(env.result)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, TaskTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := handler(taskCtx, env.task.Payload)
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-taskCtx.Done():
		atomic.AddInt64(&p.timedOut, 1)
		env.result <- Result{TaskID: env.task.ID, Err: fmt.Errorf("workerpool: task %s timed out after %s", env.task.Kind, TaskTimeout)}
	case o := <-done:
		if o.err != nil {
			atomic.AddInt64(&p.failed, 1)
		} else {
			atomic.AddInt64(&p.completed, 1)
		}
		env.result <- Result{TaskID: env.task.ID, Value: o.value, Err: o.err}
	}
	close(env.result)
}

// Submit enqueues a task and returns a channel that receives exactly
// one Result.
func (p *Pool) Submit(kind TaskKind, payload any) <-chan Result {
	atomic.AddInt64(&p.submitted, 1)
	env := taskEnvelope{
		task:   Task{ID: uuid.New(), Kind: kind, Payload: payload},
		result: make(chan Result, 1),
	}
	p.tasks <- env
	return env.result
}

// Metrics is a point-in-time snapshot of pool activity.
type Metrics struct {
	Submitted int64
	Completed int64
	TimedOut  int64
	Failed    int64
}

// Stats returns current pool metrics.
func (p *Pool) Stats() Metrics {
	return Metrics{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		TimedOut:  atomic.LoadInt64(&p.timedOut),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}
