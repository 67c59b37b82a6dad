// Package timectrl drives the simulation frame loop and exposes the clock
// used to timestamp vehicle state changes.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock reports the current simulation time.
type SimClock interface {
	Now() time.Time
}

// SystemClock is a SimClock backed by the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between frames.
	RealTime Mode = iota
	// Accelerated steps frames back to back.
	Accelerated
)

// Listener is invoked once per frame with the frame index and the
// simulation time after the step.
type Listener func(frame uint32, now time.Time)

// TimeController advances simulation time in fixed frames and notifies
// registered listeners. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	frame       uint32

	listeners []Listener
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Frame returns the number of frames stepped so far.
func (tc *TimeController) Frame() uint32 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.frame
}

// SetTime overrides the current simulation time.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every frame.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Step advances one frame and runs the listeners synchronously.
func (tc *TimeController) Step() {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	frame := tc.frame
	tc.frame++
	now := tc.currentTime
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(frame, now)
	}
}

// Run steps frames until ctx is cancelled or maxFrames have been stepped
// (zero means unbounded). It returns the number of frames stepped.
func (tc *TimeController) Run(ctx context.Context, maxFrames uint32) uint32 {
	var ticker *time.Ticker
	if tc.Mode == RealTime && tc.Tick > 0 {
		ticker = time.NewTicker(tc.Tick)
		defer ticker.Stop()
	}

	var stepped uint32
	for maxFrames == 0 || stepped < maxFrames {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return stepped
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return stepped
		}
		tc.Step()
		stepped++
	}
	return stepped
}

// Start runs the controller in a separate goroutine. The returned channel is
// closed when Run returns.
func (tc *TimeController) Start(ctx context.Context, maxFrames uint32) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.Run(ctx, maxFrames)
	}()
	return done
}
