// Package dispatch runs the protocol handler once per target on a bounded
// worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RomanRII/NetExec/internal/targets"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Unit is the work done for one target. Errors are reported per target and
// never stop sibling units.
type Unit func(ctx context.Context, t targets.Target) error

// Observer is notified as units finish. display.Progress satisfies it.
type Observer interface {
	Start()
	Increment(success bool, d time.Duration)
	Stop()
}

// Result summarizes a run.
type Result struct {
	Submitted int
	Succeeded int
	Failed    int
}

// Engine runs at most Width+1 units at once. The extra slot is reserved for
// handlers that also serve module callbacks.
type Engine struct {
	Width int
	// RateLimit caps unit starts per second; zero disables pacing.
	RateLimit int
	Observer  Observer
	Log       *zap.SugaredLogger
}

// PanicError wraps a panic recovered from a unit.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Run submits one unit per target in order and returns once every submitted
// unit has returned. On cancellation no further units are submitted and
// ctx.Err() is returned.
func (e *Engine) Run(ctx context.Context, list []targets.Target, unit Unit) (Result, error) {
	log := e.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	width := e.Width
	if width < 1 {
		width = 1
	}

	var limiter *rate.Limiter
	if e.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.RateLimit), e.RateLimit)
	}

	if e.Observer != nil {
		e.Observer.Start()
		defer e.Observer.Stop()
	}

	sem := semaphore.NewWeighted(int64(width) + 1)
	var (
		wg        sync.WaitGroup
		submitted int
		succeeded atomic.Int64
		failed    atomic.Int64
	)

	for _, t := range list {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		submitted++
		wg.Add(1)
		go func(t targets.Target) {
			defer wg.Done()
			defer sem.Release(1)

			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					failed.Add(1)
					e.observe(false, 0)
					return
				}
			}

			start := time.Now()
			err := runUnit(ctx, unit, t)
			elapsed := time.Since(start)

			if err != nil {
				failed.Add(1)
				var pe *PanicError
				switch {
				case errors.As(err, &pe):
					log.Errorw("unit panicked", "target", t.String(), "panic", pe.Value, "stack", string(pe.Stack))
				case errors.Is(err, context.Canceled) && ctx.Err() != nil:
					log.Debugw("unit cancelled", "target", t.String())
				default:
					log.Errorw("unit failed", "target", t.String(), "error", err)
				}
			} else {
				succeeded.Add(1)
			}
			e.observe(err == nil, elapsed)
		}(t)
	}

	wg.Wait()

	res := Result{
		Submitted: submitted,
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	log.Debugw("dispatch finished", "submitted", res.Submitted, "succeeded", res.Succeeded, "failed", res.Failed)
	return res, ctx.Err()
}

func (e *Engine) observe(ok bool, d time.Duration) {
	if e.Observer != nil {
		e.Observer.Increment(ok, d)
	}
}

func runUnit(ctx context.Context, unit Unit, t targets.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return unit(ctx, t)
}
