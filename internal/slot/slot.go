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

// Package slot connects one output of an upstream module to one named
// input of a downstream module. A Slot is the only way a module reads
// another module's table; it owns a Change Manager that tracks what
// has changed since the consumer last looked.
package slot

import (
	"reflect"

	"github.com/cockroachdb/progressivis/internal/changemgr"
	"github.com/cockroachdb/progressivis/internal/types"
	"github.com/cockroachdb/progressivis/internal/util/ident"
	"github.com/cockroachdb/progressivis/internal/util/indexset"
	"github.com/pkg/errors"
)

// Producer is the minimal view of a module a Slot needs of its
// upstream endpoint: an id (for error messages and readiness checks)
// and a way to fetch the named output's current table.
type Producer interface {
	ID() ident.ModuleID
	Output(name ident.SlotName) (types.Table, bool)
	// LastUpdate returns the run number at which the producer itself
	// last ran, used by the Module readiness rule.
	LastUpdate() types.RunNumber
	// Terminated and Invalid report the producer's lifecycle state,
	// used by the Module readiness rule to detect death-by-starvation.
	Terminated() bool
	Invalid() bool
}

// Descriptor declares one input or output a module class accepts:
// its name, the reflect.Type its table handle must satisfy, and
// whether it must be connected for the module to be valid.
type Descriptor struct {
	Name     ident.SlotName
	Type     reflect.Type
	Required bool
}

// Slot is a directed edge: (producer, producer output name, consumer,
// consumer input name), plus the Change Manager tracking what the
// consumer has and hasn't seen of the producer's output.
type Slot struct {
	Producer     Producer
	OutputName   ident.SlotName
	ConsumerID   ident.ModuleID
	InputName    ident.SlotName
	bufferCreated, bufferUpdated, bufferDeleted bool

	manager *changemgr.Manager
}

// New constructs an unconnected Slot descriptor binding. Connect must
// be called before the Slot is usable.
func New(producer Producer, outputName ident.SlotName, consumerID ident.ModuleID, inputName ident.SlotName, bufferCreated, bufferUpdated, bufferDeleted bool) *Slot {
	return &Slot{
		Producer:      producer,
		OutputName:    outputName,
		ConsumerID:    consumerID,
		InputName:     inputName,
		bufferCreated: bufferCreated,
		bufferUpdated: bufferUpdated,
		bufferDeleted: bufferDeleted,
	}
}

// Connect verifies that producerType (the producer's declared output
// type) is assignable to consumerType (the consumer's declared input
// type) and, if so, instantiates the owned Change Manager. It is an
// error to Connect a Slot twice.
func (s *Slot) Connect(producerType, consumerType reflect.Type) error {
	if s.manager != nil {
		return types.NewWiringError(s.ConsumerID, "slot "+string(s.InputName)+" already connected")
	}
	if producerType != nil && consumerType != nil && !producerType.AssignableTo(consumerType) {
		return types.NewWiringError(s.ConsumerID,
			"output "+string(s.OutputName)+" of type "+producerType.String()+
				" is not assignable to input "+string(s.InputName)+" of type "+consumerType.String())
	}
	s.manager = changemgr.New(s.bufferCreated, s.bufferUpdated, s.bufferDeleted)
	return nil
}

// Connected reports whether Connect has succeeded.
func (s *Slot) Connected() bool { return s.manager != nil }

// Data returns the producer's current output table.
func (s *Slot) Data() (types.Table, bool) {
	return s.Producer.Output(s.OutputName)
}

// Refresh diffs the producer's current output against what this Slot
// last saw, recording the result for runNumber. It is a no-op if the
// Slot isn't connected or the producer has no such output.
func (s *Slot) Refresh(runNumber types.RunNumber) {
	if s.manager == nil {
		return
	}
	table, ok := s.Data()
	if !ok {
		return
	}
	s.manager.Update(runNumber, table)
}

func (s *Slot) requireManager() *changemgr.Manager {
	if s.manager == nil {
		panic(errors.Errorf("slot %s->%s used before Connect", s.OutputName, s.InputName))
	}
	return s.manager
}

// NextCreated, NextUpdated, and NextDeleted delegate to the owned
// Change Manager.
func (s *Slot) NextCreated(n int) indexset.Selection { return s.requireManager().NextCreated(n) }
func (s *Slot) NextUpdated(n int) indexset.Selection { return s.requireManager().NextUpdated(n) }
func (s *Slot) NextDeleted(n int) indexset.Selection { return s.requireManager().NextDeleted(n) }

// HasCreated, HasUpdated, and HasDeleted delegate to the owned Change
// Manager.
func (s *Slot) HasCreated() bool { return s.requireManager().HasCreated() }
func (s *Slot) HasUpdated() bool { return s.requireManager().HasUpdated() }
func (s *Slot) HasDeleted() bool { return s.requireManager().HasDeleted() }

// NextState delegates to the owned Change Manager.
func (s *Slot) NextState() changemgr.State { return s.requireManager().NextState() }

// LastUpdate returns the run number at which this Slot's Change
// Manager last refreshed.
func (s *Slot) LastUpdate() types.RunNumber { return s.requireManager().LastUpdate() }

// Reset returns the owned Change Manager to its pristine state.
func (s *Slot) Reset() { s.requireManager().Reset() }

// ValidateInputs checks that every required input descriptor in want
// has a corresponding, connected entry in have, returning a
// WiringError naming the first missing or unconnected one.
func ValidateInputs(moduleID ident.ModuleID, want []Descriptor, have map[ident.SlotName]*Slot) error {
	for _, d := range want {
		s, ok := have[d.Name]
		if !ok || s == nil {
			if d.Required {
				return types.NewWiringError(moduleID, "missing required input slot "+string(d.Name))
			}
			continue
		}
		if d.Required && !s.Connected() {
			return types.NewWiringError(moduleID, "required input slot "+string(d.Name)+" is not connected")
		}
	}
	return nil
}

// ValidateOutputs checks that every required output descriptor in
// want has at least one downstream consumer among consumers.
func ValidateOutputs(moduleID ident.ModuleID, want []Descriptor, consumers map[ident.SlotName]int) error {
	for _, d := range want {
		if !d.Required {
			continue
		}
		if consumers[d.Name] == 0 {
			return types.NewWiringError(moduleID, "required output slot "+string(d.Name)+" has no consumer")
		}
	}
	return nil
}
