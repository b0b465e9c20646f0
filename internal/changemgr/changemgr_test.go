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

package changemgr

import (
	"testing"

	"github.com/cockroachdb/progressivis/internal/types"
	"github.com/stretchr/testify/require"
)

// fakeTable is a minimal types.Table backed by plain maps, for testing
// the Manager in isolation from any real storage.
type fakeTable struct {
	index   []int64
	updated map[int64]types.RunNumber
}

func newFakeTable(index []int64) *fakeTable {
	return &fakeTable{index: index, updated: map[int64]types.RunNumber{}}
}

func (t *fakeTable) Len() int                              { return len(t.index) }
func (t *fakeTable) Index() []int64                        { return t.index }
func (t *fakeTable) Columns() []string                     { return nil }
func (t *fakeTable) At(int64, string) (any, bool)          { return nil, false }
func (t *fakeTable) UpdatedAt(row int64) (types.RunNumber, bool) {
	rn, ok := t.updated[row]
	return rn, ok
}

func (t *fakeTable) touch(run types.RunNumber, rows ...int64) {
	for _, r := range rows {
		t.updated[r] = run
	}
}

func TestFirstUpdateBuffersAllAsCreated(t *testing.T) {
	m := New(true, false, false)
	tbl := newFakeTable([]int64{0, 1, 2})
	tbl.touch(1, 0, 1, 2)

	m.Update(1, tbl)

	require.True(t, m.HasCreated())
	require.Equal(t, 3, m.CreatedLength())
	require.False(t, m.HasUpdated())
	require.False(t, m.HasDeleted())
	require.Equal(t, StateReady, m.NextState())
}

func TestAppendOnlyFastPath(t *testing.T) {
	m := New(true, true, true)
	tbl := newFakeTable([]int64{0, 1})
	tbl.touch(1, 0, 1)
	m.Update(1, tbl)
	m.NextCreated(-1) // drain

	tbl.index = []int64{0, 1, 2, 3}
	tbl.touch(2, 2, 3)
	m.Update(2, tbl)

	require.Equal(t, []int64{2, 3}, m.NextCreated(-1).Indices())
	require.False(t, m.HasUpdated(), "created rows must not double-count as updated")
	require.False(t, m.HasDeleted())
}

func TestUpdatedRowsAreReported(t *testing.T) {
	m := New(true, true, false)
	tbl := newFakeTable([]int64{0, 1, 2})
	tbl.touch(1, 0, 1, 2)
	m.Update(1, tbl)
	m.NextCreated(-1)

	tbl.touch(2, 1)
	m.Update(2, tbl)

	require.Equal(t, []int64{1}, m.NextUpdated(-1).Indices())
}

func TestDeletionWithBuffering(t *testing.T) {
	m := New(true, false, true)
	tbl := newFakeTable([]int64{0, 1, 2, 3})
	tbl.touch(1, 0, 1, 2, 3)
	m.Update(1, tbl)
	m.NextCreated(-1)

	tbl.index = []int64{0, 2}
	m.Update(2, tbl)
	require.Equal(t, []int64{1, 3}, m.NextDeleted(-1).Indices())

	// a second deletion round is buffered too; the first round was
	// drained above, so only the newly deleted row is pending.
	tbl.index = []int64{0}
	m.Update(3, tbl)
	require.Equal(t, []int64{2}, m.NextDeleted(-1).Indices())
}

func TestUnbufferedKindsAreTransient(t *testing.T) {
	m := New(false, false, false)
	tbl := newFakeTable([]int64{0, 1})
	tbl.touch(1, 0, 1)
	m.Update(1, tbl)

	// created rows are not buffered, so NextCreated never returns them.
	require.Nil(t, m.NextCreated(-1).Indices())
	require.Equal(t, StateBlocked, m.NextState())
}

func TestDisjointness(t *testing.T) {
	m := New(true, true, true)
	tbl := newFakeTable([]int64{0, 1, 2, 3, 4})
	tbl.touch(1, 0, 1, 2, 3, 4)
	m.Update(1, tbl)
	m.NextCreated(-1)

	tbl.index = []int64{0, 2, 3, 5}
	tbl.touch(2, 2, 5)
	m.Update(2, tbl)

	created := m.NextCreated(-1).Indices()
	updated := m.NextUpdated(-1).Indices()
	deleted := m.NextDeleted(-1).Indices()

	seen := map[int64]int{}
	for _, r := range created {
		seen[r]++
	}
	for _, r := range updated {
		seen[r]++
	}
	for _, r := range deleted {
		seen[r]++
	}
	for row, count := range seen {
		require.Equalf(t, 1, count, "row %d reported in more than one bucket", row)
	}
}

func TestResetClearsEveryBuffer(t *testing.T) {
	m := New(true, true, true)
	tbl := newFakeTable([]int64{0, 1})
	tbl.touch(1, 0, 1)
	m.Update(1, tbl)
	require.True(t, m.HasCreated())

	m.Reset()

	require.False(t, m.HasCreated())
	require.False(t, m.HasUpdated())
	require.False(t, m.HasDeleted())
	require.Equal(t, types.RunNumber(0), m.LastUpdate())
}

func TestUpdateIsIdempotentForStaleRunNumber(t *testing.T) {
	m := New(true, false, false)
	tbl := newFakeTable([]int64{0})
	tbl.touch(1, 0)
	m.Update(1, tbl)
	before := m.CreatedLength()

	m.Update(1, tbl) // same run number again: no-op
	require.Equal(t, before, m.CreatedLength())

	m.Update(0, tbl) // stale run number: no-op
	require.Equal(t, before, m.CreatedLength())
}
