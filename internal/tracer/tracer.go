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

// Package tracer keeps an append-only history of a single module's
// runs and steps, feeding both the time predictor and external
// diagnostics (via Prometheus counters).
package tracer

import (
	"time"

	"github.com/cockroachdb/progressivis/internal/predictor"
	"github.com/cockroachdb/progressivis/internal/types"
	"github.com/cockroachdb/progressivis/internal/util/ident"
)

// DefaultCapacity bounds the number of completed run records a Tracer
// retains.
const DefaultCapacity = 256

// Record is one completed outer run() call: its time window, the
// totals accumulated across its run_step calls, and how it ended.
type Record struct {
	RunNumber  types.RunNumber
	StartTime  time.Time
	EndTime    time.Time
	StepsRun   int
	Reads      int
	Updates    int
	Creates    int
	Terminated bool
	Exception  error
}

// Duration returns EndTime - StartTime.
func (r Record) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// Tracer records one module's run history. It is not safe for
// concurrent use; the owning Module serializes access to it the same
// way it serializes access to its own state.
type Tracer struct {
	module   ident.ModuleID
	capacity int
	records  []Record // ring, oldest first, capped at capacity

	current *Record
}

// New returns a Tracer for the named module with the default
// capacity.
func New(module ident.ModuleID) *Tracer {
	return &Tracer{module: module, capacity: DefaultCapacity}
}

// StartRun opens a new in-flight record for runNumber. It is an error
// for callers to call StartRun twice without an intervening EndRun;
// the Module base never does this.
func (t *Tracer) StartRun(runNumber types.RunNumber, now time.Time) {
	t.current = &Record{RunNumber: runNumber, StartTime: now}
}

// BeforeRunStep marks the start of a single run_step call. It exists
// as a named hook so callers mirror the module's own before/after step
// bracketing, even though the Tracer doesn't need the timestamp until
// AfterRunStep.
func (t *Tracer) BeforeRunStep() {}

// StepMetrics is what a module's run_step call reports about the work
// it just did.
type StepMetrics struct {
	StepsRun int
	Reads    int
	Updates  int
	Creates  int
}

// AfterRunStep folds one run_step's results into the in-flight record
// and updates the per-step Prometheus histogram.
func (t *Tracer) AfterRunStep(stepDuration time.Duration, m StepMetrics) {
	if t.current != nil {
		t.current.StepsRun += m.StepsRun
		t.current.Reads += m.Reads
		t.current.Updates += m.Updates
		t.current.Creates += m.Creates
	}
	label := string(t.module)
	stepDurations.WithLabelValues(label).Observe(stepDuration.Seconds())
	stepsRunTotal.WithLabelValues(label).Add(float64(m.StepsRun))
}

// RunStopped is the hook called when the in-flight run ends because
// the module had nothing left to do this quantum (blocked), as opposed
// to exhausting the quantum or failing. The Tracer records nothing for
// it; Record has no field for this outcome.
func (t *Tracer) RunStopped() {}

// Exception records a non-terminal failure against the in-flight run.
func (t *Tracer) Exception(err error) {
	if t.current != nil {
		t.current.Exception = err
	}
	exceptionsTotal.WithLabelValues(string(t.module)).Inc()
}

// Terminated marks the in-flight run as ending in termination.
func (t *Tracer) Terminated() {
	if t.current != nil {
		t.current.Terminated = true
	}
	terminatedTotal.WithLabelValues(string(t.module)).Inc()
}

// EndRun closes the in-flight record and appends it to the history,
// evicting the oldest record if at capacity.
func (t *Tracer) EndRun(now time.Time) {
	if t.current == nil {
		return
	}
	t.current.EndTime = now
	runDurations.WithLabelValues(string(t.module)).Observe(t.current.Duration().Seconds())

	t.records = append(t.records, *t.current)
	if over := len(t.records) - t.capacity; over > 0 {
		t.records = t.records[over:]
	}
	t.current = nil
}

// TraceStats returns the most recent maxRuns completed records, oldest
// first. maxRuns <= 0 returns every retained record.
func (t *Tracer) TraceStats(maxRuns int) []Record {
	if maxRuns <= 0 || maxRuns > len(t.records) {
		maxRuns = len(t.records)
	}
	out := make([]Record, maxRuns)
	copy(out, t.records[len(t.records)-maxRuns:])
	return out
}

// Samples converts the most recent maxRuns records into predictor
// input, one sample per completed run.
func (t *Tracer) Samples(maxRuns int) []predictor.Sample {
	records := t.TraceStats(maxRuns)
	out := make([]predictor.Sample, len(records))
	for i, r := range records {
		out[i] = predictor.Sample{Steps: r.StepsRun, Duration: r.Duration()}
	}
	return out
}

// traceColumns are the columns exposed by AsTable, mirroring Record's
// fields.
var traceColumns = []string{"run_number", "steps_run", "reads", "updates", "creates", "terminated"}

// traceTable adapts a Tracer's history to the types.Table contract, so
// it can be wired as the distinguished "_trace" output slot.
type traceTable struct {
	records []Record
}

func (tt *traceTable) Len() int          { return len(tt.records) }
func (tt *traceTable) Columns() []string { return traceColumns }

func (tt *traceTable) Index() []int64 {
	out := make([]int64, len(tt.records))
	for i, r := range tt.records {
		out[i] = int64(r.RunNumber)
	}
	return out
}

func (tt *traceTable) find(row int64) (Record, bool) {
	for _, r := range tt.records {
		if int64(r.RunNumber) == row {
			return r, true
		}
	}
	return Record{}, false
}

func (tt *traceTable) At(row int64, col string) (any, bool) {
	r, ok := tt.find(row)
	if !ok {
		return nil, false
	}
	switch col {
	case "run_number":
		return int64(r.RunNumber), true
	case "steps_run":
		return r.StepsRun, true
	case "reads":
		return r.Reads, true
	case "updates":
		return r.Updates, true
	case "creates":
		return r.Creates, true
	case "terminated":
		return r.Terminated, true
	default:
		return nil, false
	}
}

// UpdatedAt returns the record's own run number: trace rows are
// written once and never revised.
func (tt *traceTable) UpdatedAt(row int64) (types.RunNumber, bool) {
	r, ok := tt.find(row)
	if !ok {
		return 0, false
	}
	return r.RunNumber, true
}

// AsTable exposes the Tracer's full retained history as a types.Table,
// snapshotted at call time, for wiring to the distinguished "_trace"
// output slot.
func (t *Tracer) AsTable() types.Table {
	return &traceTable{records: t.TraceStats(0)}
}
