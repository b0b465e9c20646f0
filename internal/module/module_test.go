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

package module

import (
	"testing"
	"time"

	"github.com/cockroachdb/progressivis/internal/slot"
	"github.com/cockroachdb/progressivis/internal/types"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by a fixed step every time it is called, so a
// Run() loop can be driven deterministically without sleeping.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type constStepper struct {
	next   State
	err    error
	result StepResult
}

func (s *constStepper) RunStep(types.RunNumber, int, time.Time) (StepResult, error) {
	if s.err != nil {
		return StepResult{}, s.err
	}
	r := s.result
	r.NextState = s.next
	return r, nil
}

func TestValidateSourceModuleIsReady(t *testing.T) {
	m := New("A", &constStepper{next: StateReady}, nil)
	require.NoError(t, m.Validate())
	require.Equal(t, StateReady, m.State())
	require.True(t, m.IsReady())
}

func TestValidateConsumerBecomesBlockedThenReadyWhenUpstreamAdvances(t *testing.T) {
	producer := New("A", &constStepper{next: StateReady}, nil)
	producer.SetOutput("result", &fakeTestTable{index: []int64{0}})
	require.NoError(t, producer.Validate())

	consumer := New("B", &constStepper{next: StateReady}, nil)
	consumer.DeclareInput(slot.Descriptor{Name: "input", Required: true})
	require.NoError(t, consumer.ConnectInput("input", producer, "result", true, false, false))
	require.NoError(t, consumer.Validate())
	require.Equal(t, StateBlocked, consumer.State())
	require.False(t, consumer.IsReady())

	producer.lastUpdate = 1
	require.True(t, consumer.IsReady())
}

func TestZombieByStarvation(t *testing.T) {
	producer := New("A", &constStepper{next: StateReady}, nil)
	producer.state = StateTerminated

	consumer := New("B", &constStepper{next: StateReady}, nil)
	consumer.DeclareInput(slot.Descriptor{Name: "input", Required: true})
	require.NoError(t, consumer.ConnectInput("input", producer, "result", true, false, false))
	consumer.state = StateBlocked

	require.False(t, consumer.IsReady())
	require.Equal(t, StateZombie, consumer.State())
}

func TestCleanupRunTerminatesZombie(t *testing.T) {
	m := New("A", &constStepper{}, nil)
	m.state = StateZombie
	m.CleanupRun(1)
	require.Equal(t, StateTerminated, m.State())
	require.True(t, m.Terminated())
}

func TestRunRewritesUpdatesWhenOnlyCreatesReported(t *testing.T) {
	stepper := &constStepper{next: StateBlocked, result: StepResult{StepsRun: 3, Creates: 3}}
	m := New("A", stepper, nil)
	require.NoError(t, m.Validate())

	clock := &fakeClock{now: time.Unix(0, 0), step: time.Millisecond}
	m.Run(1, clock.Now)

	stats := m.Tracer().TraceStats(0)
	require.Len(t, stats, 1)
	require.Equal(t, 3, stats[0].Updates)
	require.Equal(t, 3, stats[0].Creates)
}

func TestRunStopsOnTerminatedSignal(t *testing.T) {
	stepper := &constStepper{err: types.ErrTerminated}
	m := New("A", stepper, nil)
	require.NoError(t, m.Validate())

	clock := &fakeClock{now: time.Unix(0, 0), step: time.Millisecond}
	m.Run(1, clock.Now)

	require.Equal(t, StateZombie, m.State())
}

func TestRunRespectsQuantum(t *testing.T) {
	stepper := &constStepper{next: StateReady, result: StepResult{StepsRun: 1}}
	m := New("A", stepper, nil)
	require.NoError(t, m.Validate())
	m.SetCurrentParams(Params{"quantum": 0.1})

	// Each call to the clock advances 30ms; run_step itself is
	// instant, so the loop should stop once elapsed time exceeds the
	// 100ms quantum rather than running forever.
	clock := &fakeClock{now: time.Unix(0, 0), step: 30 * time.Millisecond}
	m.Run(1, clock.Now)

	stats := m.Tracer().TraceStats(0)
	require.Len(t, stats, 1)
	require.GreaterOrEqual(t, stats[0].StepsRun, 1)
}

func TestAbsorbParamsLatestRowWins(t *testing.T) {
	producer := New("params-src", &constStepper{next: StateReady}, nil)
	producer.SetOutput("result", &paramsTable{
		rows: map[int64]map[string]any{
			0: {"quantum": 0.5},
		},
		updatedAt: map[int64]types.RunNumber{0: 7},
	})
	producer.lastUpdate = 7

	m := New("A", &constStepper{next: StateBlocked}, nil)
	m.DeclareInput(slot.Descriptor{Name: types.ParamsSlot})
	require.NoError(t, m.ConnectInput(types.ParamsSlot, producer, "result", true, true, false))

	clock := &fakeClock{now: time.Unix(0, 0), step: time.Millisecond}
	m.Run(7, clock.Now)

	require.Equal(t, 0.5, m.CurrentParams()["quantum"])
}

// fakeTestTable and paramsTable are minimal types.Table fakes for
// module-level tests; changemgr and slot already have their own.

type fakeTestTable struct{ index []int64 }

func (t *fakeTestTable) Len() int                                { return len(t.index) }
func (t *fakeTestTable) Index() []int64                          { return t.index }
func (t *fakeTestTable) Columns() []string                       { return nil }
func (t *fakeTestTable) At(int64, string) (any, bool)            { return nil, false }
func (t *fakeTestTable) UpdatedAt(int64) (types.RunNumber, bool) { return 0, false }

type paramsTable struct {
	rows      map[int64]map[string]any
	updatedAt map[int64]types.RunNumber
}

func (t *paramsTable) Len() int { return len(t.rows) }
func (t *paramsTable) Index() []int64 {
	out := make([]int64, 0, len(t.rows))
	for row := range t.rows {
		out = append(out, row)
	}
	return out
}
func (t *paramsTable) Columns() []string { return []string{"quantum"} }
func (t *paramsTable) At(row int64, col string) (any, bool) {
	v, ok := t.rows[row][col]
	return v, ok
}
func (t *paramsTable) UpdatedAt(row int64) (types.RunNumber, bool) {
	rn, ok := t.updatedAt[row]
	return rn, ok
}
