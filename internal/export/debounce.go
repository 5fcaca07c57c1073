/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before an automatic export fires.
const DefaultDebounce = 1200 * time.Millisecond

// Debouncer runs fn once input has been quiet for the configured period.
// Scheduling again before it fires replaces the pending firing.
type Debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64
	stopped bool
}

func NewDebouncer(quiet time.Duration, fn func()) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultDebounce
	}
	return &Debouncer{quiet: quiet, fn: fn}
}

// Schedule (re)starts the quiet period. replaced is true when a pending firing was superseded.
func (d *Debouncer) Schedule() (replaced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	replaced = d.cancelLocked()
	gen := d.gen
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
	return replaced
}

// Flush runs a pending firing immediately on the caller's goroutine.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if !d.cancelLocked() {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()
	d.fn()
	return true
}

// Cancel drops a pending firing.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

// Stop cancels and refuses further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

// Pending reports whether a firing is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) cancelLocked() bool {
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	// a callback already waiting on the lock sees a newer generation and returns
	d.gen++
	return true
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.gen++
	d.mu.Unlock()
	d.fn()
}
