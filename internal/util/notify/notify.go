// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package notify holds a single mutable value alongside a channel that
// closes whenever the value changes, giving readers a way to block
// until the next update without polling.
package notify

import "sync"

// Var holds a value of type T plus a channel that is closed each time
// Set is called. A reader calls Get, observes the value and the
// channel, and can later select on the channel to learn the value has
// moved on without re-acquiring any lock.
type Var[T any] struct {
	mu      sync.Mutex
	value   T
	changed chan struct{}
}

// NewVar returns a Var initialized to v.
func NewVar[T any](v T) *Var[T] {
	return &Var[T]{value: v, changed: make(chan struct{})}
}

// Get returns the current value and a channel that closes the next
// time Set is called.
func (v *Var[T]) Get() (T, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.changed
}

// Set updates the value and closes (and replaces) the change channel,
// waking every goroutine blocked on a channel returned by a previous
// Get.
func (v *Var[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	close(v.changed)
	v.changed = make(chan struct{})
}

// Update atomically replaces the value with fn's result applied to the
// current value, and wakes waiters. It saves callers the
// read-modify-write race of a plain Get-then-Set pair.
func (v *Var[T]) Update(fn func(T) T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = fn(v.value)
	close(v.changed)
	v.changed = make(chan struct{})
}
