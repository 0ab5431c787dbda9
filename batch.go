// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mpq

import (
	"context"
	"runtime"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// loopBatch is the number of operations between exit condition checks.
const loopBatch = 4096

// WaitStrategy decides how a drain or fill loop idles when the queue is
// empty (drain) or full (fill).
//
// Idle receives the number of consecutive idle rounds so far and returns
// the new count. Loops reset the count to zero after progress.
//
// Stateful strategies are not safe for concurrent use by several loops.
type WaitStrategy interface {
	Idle(idleCounter int) int
}

// WaitFunc adapts a function to WaitStrategy.
type WaitFunc func(idleCounter int) int

// Idle calls f(idleCounter).
func (f WaitFunc) Idle(idleCounter int) int { return f(idleCounter) }

// ExitCondition is polled between batches of a drain or fill loop.
// The loop stops once KeepRunning returns false. It is never polled in the
// middle of a batch.
type ExitCondition interface {
	KeepRunning() bool
}

// ExitFunc adapts a function to ExitCondition.
type ExitFunc func() bool

// KeepRunning calls f().
func (f ExitFunc) KeepRunning() bool { return f() }

// Forever returns an ExitCondition that never stops the loop.
func Forever() ExitCondition {
	return ExitFunc(func() bool { return true })
}

// ContextExit returns an ExitCondition that stops the loop once ctx is done.
func ContextExit(ctx context.Context) ExitCondition {
	return ExitFunc(func() bool { return ctx.Err() == nil })
}

// BusySpin returns immediately. Lowest latency, burns a core.
type BusySpin struct{}

// Idle implements WaitStrategy.
func (BusySpin) Idle(idleCounter int) int { return idleCounter + 1 }

// SpinWait issues CPU pause instructions with growing length.
type SpinWait struct {
	sw spin.Wait
}

// Idle implements WaitStrategy.
func (s *SpinWait) Idle(idleCounter int) int {
	if idleCounter == 0 {
		s.sw.Reset()
	}
	s.sw.Once()
	return idleCounter + 1
}

// YieldWait yields the processor to other goroutines.
type YieldWait struct{}

// Idle implements WaitStrategy.
func (YieldWait) Idle(idleCounter int) int {
	runtime.Gosched()
	return idleCounter + 1
}

// BackoffWait delegates to [iox.Backoff] for adaptive external waiting.
type BackoffWait struct {
	b iox.Backoff
}

// Idle implements WaitStrategy.
func (s *BackoffWait) Idle(idleCounter int) int {
	if idleCounter == 0 {
		s.b.Reset()
	}
	s.b.Wait()
	return idleCounter + 1
}

// SleepWait spins for Spins rounds, yields for Yields rounds, then parks
// the goroutine for Sleep on every further round.
type SleepWait struct {
	Spins  int
	Yields int
	Sleep  time.Duration
}

// Idle implements WaitStrategy.
func (s SleepWait) Idle(idleCounter int) int {
	switch {
	case idleCounter < s.Spins:
		var sw spin.Wait
		sw.Once()
	case idleCounter < s.Spins+s.Yields:
		runtime.Gosched()
	default:
		time.Sleep(s.Sleep)
	}
	return idleCounter + 1
}

func drainN[T any](poll func() (T, error), fn func(T), limit int) int {
	n := 0
	for n < limit {
		elem, err := poll()
		if err != nil {
			break
		}
		fn(elem)
		n++
	}
	return n
}

func drainLoop[T any](poll func() (T, error), fn func(T), w WaitStrategy, exit ExitCondition) {
	idle := 0
	for exit.KeepRunning() {
		for range loopBatch {
			elem, err := poll()
			if err != nil {
				idle = w.Idle(idle)
				continue
			}
			idle = 0
			fn(elem)
		}
	}
}

func fillLoop[T any](fill func(func() T, int) int, s func() T, w WaitStrategy, exit ExitCondition) {
	idle := 0
	for exit.KeepRunning() {
		if fill(s, loopBatch) == 0 {
			idle = w.Idle(idle)
			continue
		}
		idle = 0
	}
}
