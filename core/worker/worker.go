// worker.go - halting goroutine worker helper
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package worker provides a helper for managing a group of goroutines
// that should halt together.
package worker

import "sync"

// Worker is a struct that can be embedded to add support for spawning
// goroutines that can be cleanly halted.
type Worker struct {
	sync.WaitGroup

	initOnce  sync.Once
	closeOnce sync.Once
	haltCh    chan interface{}
}

// Go spawns a goroutine managed by the Worker.
func (w *Worker) Go(fn func()) {
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// HaltCh returns a channel that is closed when Halt is called.
func (w *Worker) HaltCh() chan interface{} {
	w.initOnce.Do(func() {
		w.haltCh = make(chan interface{})
	})
	return w.haltCh
}

// Halt closes the channel returned by HaltCh, and waits for every
// goroutine spawned via Go to return.
func (w *Worker) Halt() {
	ch := w.HaltCh()
	w.closeOnce.Do(func() {
		close(ch)
	})
	w.Wait()
}
