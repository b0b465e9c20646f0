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

package slot

import (
	"reflect"
	"testing"

	"github.com/cockroachdb/progressivis/internal/types"
	"github.com/cockroachdb/progressivis/internal/util/ident"
	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	index []int64
}

func (t *fakeTable) Len() int                                    { return len(t.index) }
func (t *fakeTable) Index() []int64                               { return t.index }
func (t *fakeTable) Columns() []string                            { return nil }
func (t *fakeTable) At(int64, string) (any, bool)                 { return nil, false }
func (t *fakeTable) UpdatedAt(int64) (types.RunNumber, bool)      { return 0, false }

type fakeProducer struct {
	id     ident.ModuleID
	output *fakeTable
	last   types.RunNumber
}

func (p *fakeProducer) ID() ident.ModuleID { return p.id }
func (p *fakeProducer) Output(name ident.SlotName) (types.Table, bool) {
	if name != "result" {
		return nil, false
	}
	return p.output, true
}
func (p *fakeProducer) LastUpdate() types.RunNumber { return p.last }
func (p *fakeProducer) Terminated() bool            { return false }
func (p *fakeProducer) Invalid() bool               { return false }

func TestConnectRejectsTypeMismatch(t *testing.T) {
	p := &fakeProducer{id: "A", output: &fakeTable{index: []int64{0, 1}}}
	s := New(p, "result", "B", "input", true, false, false)

	err := s.Connect(reflect.TypeOf(1), reflect.TypeOf("s"))
	require.Error(t, err)
	we, ok := types.IsWiringError(err)
	require.True(t, ok)
	require.Equal(t, ident.ModuleID("B"), we.Module)
	require.False(t, s.Connected())
}

func TestConnectAndRefreshDelegatesToChangeManager(t *testing.T) {
	p := &fakeProducer{id: "A", output: &fakeTable{index: []int64{0, 1, 2}}, last: 1}
	s := New(p, "result", "B", "input", true, false, false)
	require.NoError(t, s.Connect(nil, nil))

	s.Refresh(1)
	require.True(t, s.HasCreated())
	require.Equal(t, []int64{0, 1, 2}, s.NextCreated(-1).Indices())
}

func TestValidateInputsFlagsMissingRequired(t *testing.T) {
	want := []Descriptor{{Name: "input", Required: true}}
	err := ValidateInputs("B", want, map[ident.SlotName]*Slot{})
	require.Error(t, err)
	_, ok := types.IsWiringError(err)
	require.True(t, ok)
}

func TestValidateOutputsFlagsNoConsumer(t *testing.T) {
	want := []Descriptor{{Name: "result", Required: true}}
	err := ValidateOutputs("A", want, map[ident.SlotName]int{"result": 0})
	require.Error(t, err)
}
