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

// Package scheduler owns the module graph and drives it forward one
// tick at a time: computing run order, evaluating readiness,
// terminating zombies, and invoking each ready module's outer run()
// loop.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/progressivis/internal/module"
	"github.com/cockroachdb/progressivis/internal/types"
	"github.com/cockroachdb/progressivis/internal/util/ident"
	"github.com/cockroachdb/progressivis/internal/util/notify"
	"github.com/cockroachdb/progressivis/internal/util/stopper"
	"github.com/sirupsen/logrus"
)

// idlePollInterval bounds how long the worker goroutine waits between
// idle ticks when nothing has woken it explicitly.
const idlePollInterval = 50 * time.Millisecond

// errQueueCapacity bounds the Errors() channel; once full, further
// errors are logged and dropped rather than blocking the tick loop.
const errQueueCapacity = 64

// TickFunc and IdleFunc are the user-supplied hooks run at each tick
// boundary and whenever no module was ready, respectively.
type TickFunc func(*Scheduler)
type IdleFunc func(*Scheduler)

// Scheduler owns a graph of modules and drives them through
// successive ticks, either synchronously via Tick or on a background
// worker via Start/Stop/Join.
type Scheduler struct {
	mu       sync.Mutex
	modules  map[ident.ModuleID]*module.Module
	seq      map[ident.ModuleID]int
	nextSeq  int
	ticking  bool
	oneshots []func(*Scheduler)

	orderDirty bool
	order      []ident.ModuleID

	runNumber types.RunNumber
	now       func() time.Time

	tickProc TickFunc
	idleProc IdleFunc

	wake   *notify.Var[int]
	errs   chan error
	stopCx *stopper.Context
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		modules: make(map[ident.ModuleID]*module.Module),
		seq:     make(map[ident.ModuleID]int),
		now:     time.Now,
		wake:    notify.NewVar(0),
		errs:    make(chan error, errQueueCapacity),
	}
}

// SetClock overrides the Scheduler's time source; intended for
// deterministic tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Errors returns a channel every StepError recorded by a module run is
// published to. WiringErrors are returned to the caller of Validate or
// ConnectInput and are not published here. Readers should drain it
// continuously; once full, new errors are logged and dropped.
func (s *Scheduler) Errors() <-chan error { return s.errs }

func (s *Scheduler) publishErr(err error) {
	select {
	case s.errs <- err:
	default:
		logrus.WithError(err).Warn("scheduler: error channel full, dropping")
	}
}

// AddModule registers m in the graph. It is an error to add a module
// whose id already exists.
func (s *Scheduler) AddModule(m *module.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.modules[m.ID()]; exists {
		return types.NewGraphError("duplicate module id " + string(m.ID()))
	}
	s.modules[m.ID()] = m
	s.seq[m.ID()] = s.nextSeq
	s.nextSeq++
	s.orderDirty = true
	s.bumpLocked()
	return nil
}

// RemoveModule removes a module from the graph. Removing a module
// while a tick is in progress is illegal; callers must defer the
// removal with AddOneshotTickProc instead.
func (s *Scheduler) RemoveModule(id ident.ModuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticking {
		return types.NewGraphError("cannot remove module " + string(id) + " mid-tick; use AddOneshotTickProc")
	}
	if _, exists := s.modules[id]; !exists {
		return types.NewGraphError("unknown module id " + string(id))
	}
	delete(s.modules, id)
	delete(s.seq, id)
	s.orderDirty = true
	s.bumpLocked()
	return nil
}

// Exists reports whether id names a module currently in the graph.
func (s *Scheduler) Exists(id ident.ModuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.modules[id]
	return ok
}

// GenerateID returns a fresh module id with the given prefix.
func (s *Scheduler) GenerateID(prefix string) ident.ModuleID { return ident.Generate(prefix) }

// AddOneshotTickProc queues fn to run once, at the start of the next
// tick boundary, with the graph lock-free at the time of the call (fn
// may freely call AddModule/RemoveModule).
func (s *Scheduler) AddOneshotTickProc(fn func(*Scheduler)) {
	s.mu.Lock()
	s.oneshots = append(s.oneshots, fn)
	s.bumpLocked()
	s.mu.Unlock()
}

func (s *Scheduler) bumpLocked() {
	s.wake.Update(func(n int) int { return n + 1 })
}

// RunNumber returns the current logical clock value.
func (s *Scheduler) RunNumber() types.RunNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runNumber
}

func (s *Scheduler) computeOrder() []ident.ModuleID {
	if !s.orderDirty && s.order != nil {
		return s.order
	}
	ids := make([]ident.ModuleID, 0, len(s.modules))
	edges := make(map[ident.ModuleID][]ident.ModuleID, len(s.modules))
	for id := range s.modules {
		ids = append(ids, id)
	}
	for id, m := range s.modules {
		for _, producer := range m.Producers() {
			edges[producer] = append(edges[producer], id)
		}
	}
	s.order = runOrder(ids, edges, s.seq)
	s.orderDirty = false
	return s.order
}

func (s *Scheduler) allTerminatedLocked() bool {
	for _, m := range s.modules {
		if !m.Terminated() && !m.Invalid() {
			return false
		}
	}
	return len(s.modules) > 0
}

// Tick advances the scheduler by exactly one run: it drains queued
// one-shot procs, invokes the tick hook, cleans up zombies, evaluates
// readiness, and runs every ready module. It returns false once every
// module is terminated or invalid, signaling the caller that no
// further tick can make progress.
func (s *Scheduler) Tick() bool {
	s.mu.Lock()
	oneshots := s.oneshots
	s.oneshots = nil
	tickProc := s.tickProc
	idleProc := s.idleProc
	s.mu.Unlock()

	for _, fn := range oneshots {
		fn(s)
	}

	s.mu.Lock()
	s.runNumber++
	rn := s.runNumber
	s.mu.Unlock()

	if tickProc != nil {
		tickProc(s)
	}

	s.mu.Lock()
	order := s.computeOrder()
	modules := make([]*module.Module, 0, len(order))
	for _, id := range order {
		if m, ok := s.modules[id]; ok {
			modules = append(modules, m)
		}
	}
	s.mu.Unlock()

	for _, m := range modules {
		m.CleanupRun(rn)
	}

	var ready []*module.Module
	for _, m := range modules {
		if m.IsReady() {
			ready = append(ready, m)
		}
	}

	if len(ready) == 0 {
		if idleProc != nil {
			idleProc(s)
		}
		s.mu.Lock()
		more := !s.allTerminatedLocked()
		s.mu.Unlock()
		return more
	}

	s.mu.Lock()
	s.ticking = true
	s.mu.Unlock()

	for _, m := range ready {
		m.Run(rn, s.now)
		if err := m.LastError(); err != nil {
			s.publishErr(err)
		}
	}

	s.mu.Lock()
	s.ticking = false
	more := !s.allTerminatedLocked()
	s.mu.Unlock()
	return more
}

// Start spawns a background goroutine that calls Tick in a loop,
// invoking tickProc/idleProc as configured, until Stop is called or
// every module terminates.
func (s *Scheduler) Start(tickProc TickFunc, idleProc IdleFunc) error {
	s.mu.Lock()
	if s.stopCx != nil {
		s.mu.Unlock()
		return types.NewGraphError("scheduler already started")
	}
	s.tickProc = tickProc
	s.idleProc = idleProc
	s.stopCx = stopper.WithContext(context.Background())
	ctx := s.stopCx
	s.mu.Unlock()

	ctx.Go(func() error {
		for {
			select {
			case <-ctx.Stopping():
				return nil
			default:
			}
			if more := s.Tick(); !more {
				return nil
			}
			_, changed := s.wake.Get()
			select {
			case <-ctx.Stopping():
				return nil
			case <-changed:
			case <-time.After(idlePollInterval):
			}
		}
	})
	return nil
}

// Stop asks the worker goroutine started by Start to wind down,
// waiting up to timeout (0 means wait indefinitely).
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	ctx := s.stopCx
	s.mu.Unlock()
	if ctx != nil {
		ctx.Stop(timeout)
	}
}

// Join blocks until the worker goroutine started by Start has
// returned.
func (s *Scheduler) Join() {
	s.mu.Lock()
	ctx := s.stopCx
	s.mu.Unlock()
	if ctx != nil {
		ctx.Wait()
	}
}

// ModuleSnapshot is one module's entry in a ToJSON snapshot.
type ModuleSnapshot struct {
	ID           string  `json:"id"`
	State        string  `json:"state"`
	LastUpdate   int64   `json:"last_update"`
	IsRunning    bool    `json:"is_running"`
	IsTerminated bool    `json:"is_terminated"`
	StartTime    *string `json:"start_time,omitempty"`
	EndTime      *string `json:"end_time,omitempty"`
}

// Snapshot is the shape returned by ToJSON.
type Snapshot struct {
	RunNumber int64            `json:"run_number"`
	Modules   []ModuleSnapshot `json:"modules"`
}

// ToJSON renders a snapshot of the graph's current state. short omits
// the per-module start/end time fields, matching the "long form"
// distinction of the original implementation's to_json.
func (s *Scheduler) ToJSON(short bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{RunNumber: int64(s.runNumber)}
	order := s.computeOrder()
	for _, id := range order {
		m, ok := s.modules[id]
		if !ok {
			continue
		}
		entry := ModuleSnapshot{
			ID:           string(m.ID()),
			State:        m.State().String(),
			LastUpdate:   int64(m.LastUpdate()),
			IsRunning:    m.IsRunning(),
			IsTerminated: m.Terminated(),
		}
		if !short {
			if !m.StartTime().IsZero() {
				ts := m.StartTime().Format(time.RFC3339Nano)
				entry.StartTime = &ts
			}
			if !m.EndTime().IsZero() {
				ts := m.EndTime().Format(time.RFC3339Nano)
				entry.EndTime = &ts
			}
		}
		snap.Modules = append(snap.Modules, entry)
	}
	return json.Marshal(snap)
}
