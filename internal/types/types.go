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

// Package types contains the external contracts that the progressivis
// CORE consumes but does not implement: the Table handle, and the
// error kinds raised throughout the scheduler, module, and slot
// packages.
package types

import (
	"fmt"

	"github.com/cockroachdb/progressivis/internal/util/ident"
	"github.com/pkg/errors"
)

// UpdateColumn is the name of the reserved per-row column that a Table
// exposes through UpdatedAt.
const UpdateColumn = "_update"

// ParamsSlot and TraceSlot are the two distinguished slot names every
// module carries.
const (
	ParamsSlot = ident.SlotName("_params")
	TraceSlot  = ident.SlotName("_trace")
)

// RunNumber is the scheduler-wide, strictly increasing logical clock.
// It also doubles as the value written into a row's UpdateColumn.
type RunNumber int64

// Table is the abstract handle the CORE accesses rows through. Physical
// storage (memory-mapped arrays, compressed columns) is out of scope;
// any type satisfying this interface may be wired into a Slot.
type Table interface {
	// Len returns the number of rows currently visible.
	Len() int
	// Index returns the current row index, in ascending order.
	Index() []int64
	// Columns returns the table's current column set, in no
	// particular order.
	Columns() []string
	// At returns the value of the given column at the given row.
	At(row int64, col string) (any, bool)
	// UpdatedAt returns the run number at which the given row was
	// last written. ok is false if the row does not exist.
	UpdatedAt(row int64) (RunNumber, bool)
}

// WiringError is raised by Slot/Module validation: a duplicate slot
// name, a type mismatch between a producer output and a consumer
// input, or a missing required slot.
type WiringError struct {
	Module ident.ModuleID
	Reason string
}

func (e *WiringError) Error() string {
	return fmt.Sprintf("wiring error in module %s: %s", e.Module, e.Reason)
}

// NewWiringError constructs a WiringError with a stack trace attached.
func NewWiringError(module ident.ModuleID, reason string) error {
	return errors.WithStack(&WiringError{Module: module, Reason: reason})
}

// GraphError is raised by Scheduler graph operations: a duplicate
// module id on AddModule, an unknown id on RemoveModule, or an attempt
// to remove a module while a tick is in progress.
type GraphError struct {
	Reason string
}

func (e *GraphError) Error() string { return "graph error: " + e.Reason }

// NewGraphError constructs a GraphError with a stack trace attached.
func NewGraphError(reason string) error {
	return errors.WithStack(&GraphError{Reason: reason})
}

// StepError wraps a non-terminal failure raised by a module's RunStep.
// The module transitions to zombie; the Tracer records the exception;
// the Scheduler surfaces the error on its error channel.
type StepError struct {
	Module ident.ModuleID
	Cause  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step error in module %s: %v", e.Module, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// NewStepError constructs a StepError with a stack trace attached.
func NewStepError(module ident.ModuleID, cause error) error {
	return errors.WithStack(&StepError{Module: module, Cause: cause})
}

// ErrTerminated is returned by RunStep to signal clean exhaustion: the
// module has no more work to produce, ever. It is the Go rendering of
// the "stop-iteration as termination signal" design note — a value,
// not a panic or a sentinel exception.
var ErrTerminated = errors.New("module exhausted")

// IsWiringError reports whether err is (or wraps) a *WiringError.
func IsWiringError(err error) (*WiringError, bool) {
	var w *WiringError
	return w, errors.As(err, &w)
}

// IsStepError reports whether err is (or wraps) a *StepError.
func IsStepError(err error) (*StepError, bool) {
	var s *StepError
	return s, errors.As(err, &s)
}

// IsGraphError reports whether err is (or wraps) a *GraphError.
func IsGraphError(err error) (*GraphError, bool) {
	var g *GraphError
	return g, errors.As(err, &g)
}
