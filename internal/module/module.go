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

// Package module implements the state machine, parameter handling,
// and per-run outer loop shared by every concrete module. Concrete
// behavior is supplied by a RunStepper; everything else — readiness,
// quanta, parameter absorption, Tracer bookkeeping — lives here.
package module

import (
	"time"

	"github.com/cockroachdb/progressivis/internal/predictor"
	"github.com/cockroachdb/progressivis/internal/slot"
	"github.com/cockroachdb/progressivis/internal/tracer"
	"github.com/cockroachdb/progressivis/internal/types"
	"github.com/cockroachdb/progressivis/internal/util/ident"
	"github.com/pkg/errors"
)

// State is one point in a Module's lifecycle.
type State int

const (
	StateCreated State = iota
	StateReady
	StateBlocked
	StateRunning
	StateZombie
	StateTerminated
	StateInvalid
)

var stateNames = [...]string{
	StateCreated:    "created",
	StateReady:      "ready",
	StateBlocked:    "blocked",
	StateRunning:    "running",
	StateZombie:     "zombie",
	StateTerminated: "terminated",
	StateInvalid:    "invalid",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// StepResult is what a RunStepper reports after processing one batch
// of work.
type StepResult struct {
	NextState State
	StepsRun  int
	Reads     int
	Updates   int
	Creates   int
}

// RunStepper is the contract a concrete module implements: given a
// step size and a deadline, do bounded work and report what happened.
// Returning types.ErrTerminated signals clean exhaustion; any other
// non-nil error is a StepError.
type RunStepper interface {
	RunStep(runNumber types.RunNumber, stepSize int, deadline time.Time) (StepResult, error)
}

// Hooks lets a module override the default readiness and step-size
// policies without defining a whole new RunStepper-wrapping type, the
// same way the original's Every/Wait convenience modules overrode
// is_ready/predict_step_size directly.
type Hooks struct {
	// IsReadyHook, if set, replaces the default readiness rule
	// entirely.
	IsReadyHook func(m *Module) bool
	// PredictStepSizeHook, if set, replaces the predictor for this
	// module; it receives the time budget for the next step.
	PredictStepSizeHook func(duration time.Duration) int
	// EndRunHook, if set, runs after every outer run() call finishes.
	EndRunHook func(runNumber types.RunNumber)
}

// Module is the shared base every concrete module embeds or wraps. It
// owns the state machine, the input Slots, the output tables, the
// Tracer, and the Predictor, and drives the per-run outer loop around
// a caller-supplied RunStepper.
type Module struct {
	id    ident.ModuleID
	group string

	stepper RunStepper
	hooks   Hooks

	inputDescriptors  []slot.Descriptor
	outputDescriptors []slot.Descriptor

	inputs          map[ident.SlotName]*slot.Slot
	outputs         map[ident.SlotName]types.Table
	outputConsumers map[ident.SlotName]int

	paramDescriptors []ParamDescriptor
	params           Params

	tracer          *tracer.Tracer
	predictor       *predictor.Predictor
	defaultStepSize int
	defaultQuantum  float64

	state      State
	lastUpdate types.RunNumber
	startTime  time.Time
	endTime    time.Time

	lastErr error
}

// New constructs a Module in state created. id must be unique within
// its Scheduler's graph.
func New(id ident.ModuleID, stepper RunStepper, paramDescriptors []ParamDescriptor) *Module {
	return &Module{
		id:               id,
		stepper:          stepper,
		inputs:           make(map[ident.SlotName]*slot.Slot),
		outputs:          make(map[ident.SlotName]types.Table),
		outputConsumers:  make(map[ident.SlotName]int),
		paramDescriptors: paramDescriptors,
		params:           Defaults(paramDescriptors),
		tracer:           tracer.New(id),
		predictor:        predictor.New(1),
		defaultStepSize:  1,
		defaultQuantum:   0.1,
		state:            StateCreated,
	}
}

// ID returns the module's identifier.
func (m *Module) ID() ident.ModuleID { return m.id }

// Group returns the module's group tag, or "" if unset.
func (m *Module) Group() string { return m.group }

// SetGroup sets the module's group tag.
func (m *Module) SetGroup(g string) { m.group = g }

// State returns the module's current lifecycle state.
func (m *Module) State() State { return m.state }

// Terminated reports whether the module is in state terminated.
func (m *Module) Terminated() bool { return m.state == StateTerminated }

// Invalid reports whether the module is in state invalid.
func (m *Module) Invalid() bool { return m.state == StateInvalid }

// IsRunning reports whether the module is mid-run().
func (m *Module) IsRunning() bool { return m.state == StateRunning }

// StartTime returns the start of the run() call in progress, and is
// zero between runs. EndTime returns the deadline of the current or
// most recent run() call, and is zero if the module has never run.
func (m *Module) StartTime() time.Time { return m.startTime }
func (m *Module) EndTime() time.Time   { return m.endTime }

// Producers returns the distinct set of upstream module ids this
// module reads from through its connected input Slots.
func (m *Module) Producers() []ident.ModuleID {
	seen := make(map[ident.ModuleID]bool, len(m.inputs))
	var out []ident.ModuleID
	for _, s := range m.inputs {
		id := s.Producer.ID()
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// LastUpdate returns the run number of the module's most recently
// completed run, or 0 if it has never run.
func (m *Module) LastUpdate() types.RunNumber { return m.lastUpdate }

// Tracer returns the module's Tracer, for Scheduler-level diagnostics
// or wiring the distinguished "_trace" output.
func (m *Module) Tracer() *tracer.Tracer { return m.tracer }

// SetPredictor replaces the module's default Predictor.
func (m *Module) SetPredictor(p *predictor.Predictor) { m.predictor = p }

// SetHooks installs optional readiness/step-size/end-run overrides.
func (m *Module) SetHooks(h Hooks) { m.hooks = h }

// CurrentParams returns the module's current parameter values.
func (m *Module) CurrentParams() Params { return m.params }

// SetCurrentParams replaces the module's parameter values outright,
// bypassing the `_params` slot. Intended for tests and for direct
// external configuration before the module starts running.
func (m *Module) SetCurrentParams(p Params) { m.params = p }

// LastError returns the most recent StepError recorded against this
// module, if any, so a Scheduler can surface it after run() returns.
func (m *Module) LastError() error { return m.lastErr }

// DeclareInput registers an input Slot descriptor that must be
// connected (if Required) before the module validates successfully.
func (m *Module) DeclareInput(d slot.Descriptor) { m.inputDescriptors = append(m.inputDescriptors, d) }

// DeclareOutput registers an output Slot descriptor.
func (m *Module) DeclareOutput(d slot.Descriptor) {
	m.outputDescriptors = append(m.outputDescriptors, d)
}

// SetOutput assigns the current table backing a named output. Modules
// call this whenever they replace or first create an output table.
func (m *Module) SetOutput(name ident.SlotName, table types.Table) {
	m.outputs[name] = table
}

// Output returns the current table for a named output, implementing
// slot.Producer.
func (m *Module) Output(name ident.SlotName) (types.Table, bool) {
	t, ok := m.outputs[name]
	return t, ok
}

// ConnectInput creates and connects a Slot from producer's named
// output to this module's named input, replacing any existing Slot on
// that input name.
func (m *Module) ConnectInput(name ident.SlotName, producer *Module, outputName ident.SlotName, bufferCreated, bufferUpdated, bufferDeleted bool) error {
	s := slot.New(producer, outputName, m.id, name, bufferCreated, bufferUpdated, bufferDeleted)
	if err := s.Connect(nil, nil); err != nil {
		return err
	}
	m.inputs[name] = s
	producer.outputConsumers[outputName]++
	return nil
}

// Input returns the connected Slot for a named input, if any.
func (m *Module) Input(name ident.SlotName) (*slot.Slot, bool) {
	s, ok := m.inputs[name]
	return s, ok
}

// Validate runs wiring validation and transitions the module to ready,
// blocked, or invalid accordingly.
func (m *Module) Validate() error {
	if err := slot.ValidateInputs(m.id, m.inputDescriptors, m.inputs); err != nil {
		m.state = StateInvalid
		return err
	}
	if err := slot.ValidateOutputs(m.id, m.outputDescriptors, m.outputConsumers); err != nil {
		m.state = StateInvalid
		return err
	}
	if len(m.inputs) == 0 {
		m.state = StateReady
	} else {
		m.state = StateBlocked
	}
	return nil
}

// IsReady reports whether the Scheduler should invoke run() on this
// module this tick. It implements the readiness rule of §4.6: source
// modules and modules already marked ready are always ready; blocked
// modules are ready iff at least one connected input has advanced past
// our own last_update, and become zombie by starvation if every
// upstream is itself terminated or invalid.
func (m *Module) IsReady() bool {
	if m.hooks.IsReadyHook != nil {
		return m.hooks.IsReadyHook(m)
	}
	if m.state == StateTerminated || m.state == StateInvalid {
		return false
	}
	if len(m.inputs) == 0 {
		return true
	}
	if m.state == StateReady {
		return true
	}
	if m.state != StateBlocked {
		return false
	}

	inCount, termCount, readyCount := 0, 0, 0
	for _, s := range m.inputs {
		inCount++
		p := s.Producer
		if p.Terminated() || p.Invalid() {
			termCount++
			continue
		}
		if p.LastUpdate() > m.lastUpdate {
			readyCount++
		}
	}
	if termCount == inCount {
		m.state = StateZombie
		return false
	}
	return readyCount != 0
}

// CleanupRun transitions a zombie module to terminated. The Scheduler
// calls this once per module at the start of every tick, before
// evaluating readiness.
func (m *Module) CleanupRun(runNumber types.RunNumber) {
	if m.state == StateZombie {
		m.state = StateTerminated
		m.tracer.Terminated()
	}
}

// predictStepSize chooses a step size for the given time budget,
// deferring to the installed hook if any.
func (m *Module) predictStepSize(duration time.Duration) int {
	if m.hooks.PredictStepSizeHook != nil {
		return m.hooks.PredictStepSizeHook(duration)
	}
	return m.predictor.Predict(duration, m.tracer.Samples(predictor.DefaultWindow))
}

// quantum returns the module's current wall-clock budget per run(),
// taken from params["quantum"] if present and positive, else the
// module's configured default.
func (m *Module) quantum() time.Duration {
	if v, ok := m.params["quantum"]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	q := m.defaultQuantum
	if q <= 0 {
		q = 0.1
	}
	return time.Duration(q * float64(time.Second))
}

// absorbParams pulls any pending `_params` slot rows and merges the
// most recently updated one into the module's current params, per the
// "latest row wins, missing fields fall back" rule.
func (m *Module) absorbParams(runNumber types.RunNumber) {
	s, ok := m.inputs[types.ParamsSlot]
	if !ok {
		return
	}
	s.Refresh(runNumber)
	table, ok := s.Data()
	if !ok {
		return
	}
	rows := append(s.NextCreated(-1).Indices(), s.NextUpdated(-1).Indices()...)
	var latestRow int64 = -1
	var latestAt types.RunNumber = -1
	for _, row := range rows {
		if at, ok := table.UpdatedAt(row); ok && at > latestAt {
			latestAt = at
			latestRow = row
		}
	}
	if latestRow < 0 {
		return
	}
	override := make(Params, len(table.Columns()))
	for _, col := range table.Columns() {
		if v, ok := table.At(latestRow, col); ok {
			override[col] = v
		}
	}
	m.params = m.params.Merge(override)
}

// Run executes the module's outer loop for runNumber: it absorbs
// pending parameters, then repeatedly calls the RunStepper until the
// module's time quantum is exhausted or run_step reports a non-ready
// state.
func (m *Module) Run(runNumber types.RunNumber, now func() time.Time) {
	m.state = StateRunning
	m.startTime = now()
	quantum := m.quantum()
	m.endTime = m.startTime.Add(quantum)
	m.tracer.StartRun(runNumber, m.startTime)

	m.absorbParams(runNumber)

	maxStepTime := quantum / 4
	ranAtLeastOneStep := false

	for {
		current := now()
		remaining := m.endTime.Sub(current)
		if remaining <= 0 {
			break
		}
		budget := maxStepTime
		if remaining < budget {
			budget = remaining
		}
		stepSize := m.predictStepSize(budget)
		if stepSize <= 0 {
			break
		}

		m.tracer.BeforeRunStep()
		stepStart := now()
		result, err := m.stepper.RunStep(runNumber, stepSize, m.endTime)
		stepDuration := now().Sub(stepStart)
		ranAtLeastOneStep = true

		if err != nil {
			if errors.Is(err, types.ErrTerminated) {
				m.tracer.AfterRunStep(stepDuration, tracer.StepMetrics{})
				m.tracer.Terminated()
				m.state = StateZombie
				break
			}
			m.lastErr = types.NewStepError(m.id, err)
			m.tracer.AfterRunStep(stepDuration, tracer.StepMetrics{})
			m.tracer.Exception(m.lastErr)
			m.state = StateZombie
			break
		}

		result, ruleErr := applyUpdatesCreatesRule(result)
		if ruleErr != nil {
			m.lastErr = types.NewStepError(m.id, ruleErr)
			m.tracer.AfterRunStep(stepDuration, tracer.StepMetrics{})
			m.tracer.Exception(m.lastErr)
			m.state = StateZombie
			break
		}
		m.tracer.AfterRunStep(stepDuration, tracer.StepMetrics{
			StepsRun: result.StepsRun,
			Reads:    result.Reads,
			Updates:  result.Updates,
			Creates:  result.Creates,
		})

		m.state = result.NextState
		switch result.NextState {
		case StateReady:
			continue
		case StateBlocked:
			m.tracer.RunStopped()
		case StateZombie:
		}
		break
	}

	if !ranAtLeastOneStep && m.state == StateRunning {
		m.state = StateReady
	}

	m.tracer.EndRun(now())
	m.lastUpdate = runNumber
	m.startTime = time.Time{}
	if m.hooks.EndRunHook != nil {
		m.hooks.EndRunHook(runNumber)
	}
}

// applyUpdatesCreatesRule enforces updates >= creates: a module that
// reports creates with no updates at all is rewritten to report the
// creates as updates too, since every created row is implicitly
// "updated" from nothing. Any other violation of updates >= creates is
// a contract error the RunStepper must fix, not something the
// framework can silently repair.
func applyUpdatesCreatesRule(r StepResult) (StepResult, error) {
	if r.Creates > 0 && r.Updates == 0 {
		r.Updates = r.Creates
	}
	if r.Creates > r.Updates {
		return r, errors.Errorf("run_step reported creates=%d > updates=%d", r.Creates, r.Updates)
	}
	return r, nil
}
