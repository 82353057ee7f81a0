// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package timeutil provides small time-related helpers used by the
// swarm's stalled-request watchdog.
package timeutil

import (
	"sync"
	"time"
)

// Timer wraps time.Timer with idempotent Start/Cancel: calling either
// twice in a row is a no-op rather than a panic or a leaked goroutine,
// which time.Timer's own Stop/Reset semantics make easy to get wrong.
type Timer struct {
	C <-chan time.Time

	mu      sync.Mutex
	d       time.Duration
	t       *time.Timer
	started bool
	fired   bool
	ch      chan time.Time
}

// NewTimer returns a new, unstarted Timer that fires after d once Start
// is called.
func NewTimer(d time.Duration) *Timer {
	c := make(chan time.Time, 1)
	return &Timer{C: c, ch: c, d: d, t: nil}
}

// Start begins the countdown. Returns false if the timer was already
// started.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return false
	}
	t.started = true
	ch := t.ch
	timer := time.AfterFunc(t.d, func() {
		t.mu.Lock()
		fired := !t.fired
		t.fired = true
		t.mu.Unlock()
		if fired {
			select {
			case ch <- time.Now():
			default:
			}
		}
	})
	t.t = timer
	return true
}

// Cancel stops a started timer before it fires. Returns false if the
// timer was never started, already canceled, or already fired.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.fired || t.t == nil {
		return false
	}
	stopped := t.t.Stop()
	if !stopped {
		return false
	}
	t.started = false
	return true
}
