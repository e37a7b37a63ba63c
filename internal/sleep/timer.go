/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sleep implements the sleep timer: a single cancellable delayed
// action, normally a volume fade that ends with playback paused.
package sleep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/telemetry"
)

// VolumeControl is the shared volume cell the fade works on.
type VolumeControl interface {
	Volume() float64
	SetVolume(v float64)
}

// Action runs once the timer deadline passes. It must return promptly when
// ctx is cancelled. initial is the volume captured when the timer was armed.
type Action func(ctx context.Context, volume VolumeControl, initial float64)

type task struct {
	deadline      time.Time
	initialVolume float64
	cancel        context.CancelFunc
	done          chan struct{}
	onExpire      func(context.Context)
	fired         atomic.Bool // deadline passed, action running
	finished      atomic.Bool // action ran to completion
}

// Timer runs at most one cancellable Action at a time.
type Timer struct {
	mu       sync.Mutex
	volume   VolumeControl
	logger   zerolog.Logger
	now      func() time.Time
	task     *task
	onExpire func(context.Context)
}

// NewTimer creates a timer operating on volume.
func NewTimer(volume VolumeControl, logger zerolog.Logger) *Timer {
	return &Timer{
		volume: volume,
		logger: logger.With().Str("component", "sleep-timer").Logger(),
		now:    time.Now,
	}
}

// OnExpire registers fn to run when a deadline passes, before its Action.
// fn receives the task context and must return once it is cancelled.
func (t *Timer) OnExpire(fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}

// Set cancels any existing task, restoring the volume it captured, and
// then arms action to run after delay. A zero delay only cancels.
func (t *Timer) Set(delay time.Duration, action Action) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()

	if delay <= 0 || action == nil {
		telemetry.SleepTimerArmed.Set(0)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	tk := &task{
		deadline:      t.now().Add(delay),
		initialVolume: t.volume.Volume(),
		cancel:        cancel,
		done:          make(chan struct{}),
		onExpire:      t.onExpire,
	}
	t.task = tk
	telemetry.SleepTimerArmed.Set(1)

	t.logger.Info().
		Dur("delay", delay).
		Float64("initial_volume", tk.initialVolume).
		Msg("sleep timer armed")

	go func() {
		defer close(tk.done)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		tk.fired.Store(true)
		if tk.onExpire != nil {
			tk.onExpire(ctx)
		}

		action(ctx, t.volume, tk.initialVolume)
		if ctx.Err() == nil {
			tk.finished.Store(true)
			telemetry.SleepTimerArmed.Set(0)
			t.logger.Info().Msg("sleep timer finished")
		}
	}()
}

// Cancel stops any pending or running task and restores its volume.
func (t *Timer) Cancel() {
	t.Set(0, nil)
}

// cancelLocked stops the current task and waits for it to exit before the
// captured volume is restored, so a late fade step cannot overwrite it.
// A finished task already restored its volume and is only dropped.
func (t *Timer) cancelLocked() {
	if t.task == nil {
		return
	}
	tk := t.task
	t.task = nil

	tk.cancel()
	<-tk.done
	if tk.finished.Load() {
		return
	}
	t.volume.SetVolume(tk.initialVolume)

	t.logger.Debug().Float64("volume", tk.initialVolume).Msg("sleep timer cleared")
}

// Remaining returns the time left until the deadline while one is pending.
func (t *Timer) Remaining() (time.Duration, bool) {
	deadline, ok := t.Deadline()
	if !ok {
		return 0, false
	}
	left := deadline.Sub(t.now())
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// Deadline returns the deadline of the current task while it has not
// yet passed.
func (t *Timer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.task == nil || t.task.fired.Load() {
		return time.Time{}, false
	}
	return t.task.deadline, true
}

// Active reports whether a task is pending or its action is still running.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.task != nil && !t.task.finished.Load()
}
