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

// Package ident gives the two kinds of name used throughout the
// scheduler, module, and slot packages their own types, rather than
// passing bare strings.
package ident

import (
	"fmt"
	"sync/atomic"
)

// ModuleID names a module within a single Scheduler's graph. No two
// modules in a graph share an id at the same time; once a module is
// removed, its id may be added again.
type ModuleID string

// String implements fmt.Stringer.
func (m ModuleID) String() string { return string(m) }

// Empty reports whether the id is the zero value.
func (m ModuleID) Empty() bool { return m == "" }

// SlotName names an input or output slot on a module. Slot names are
// unique per direction within a single module: a module may have an
// input and an output both named "result".
type SlotName string

// String implements fmt.Stringer.
func (s SlotName) String() string { return string(s) }

// Empty reports whether the name is the zero value.
func (s SlotName) Empty() bool { return s == "" }

var moduleSeq atomic.Int64

// Generate returns a fresh ModuleID built from prefix and an
// internal, process-wide monotonic counter. It never collides with
// another call to Generate, but callers that assign their own ids are
// free to ignore it entirely.
func Generate(prefix string) ModuleID {
	n := moduleSeq.Add(1)
	return ModuleID(fmt.Sprintf("%s_%d", prefix, n))
}
