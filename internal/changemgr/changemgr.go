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

// Package changemgr tracks, between runs, which rows of a Table were
// created, updated, or deleted since the last time a Slot read it. It
// is the data-plane half of a Slot: the Slot owns the wiring, the
// Manager owns the diffing.
package changemgr

import (
	"sort"

	"github.com/cockroachdb/progressivis/internal/types"
	"github.com/cockroachdb/progressivis/internal/util/indexset"
	"github.com/sirupsen/logrus"
)

// State is the readiness a Manager contributes to its owning Slot's
// consumer.
type State int

const (
	// StateBlocked means no buffered kind of change has any rows
	// pending delivery.
	StateBlocked State = iota
	// StateReady means at least one buffered kind of change has rows
	// pending delivery.
	StateReady
)

// Manager tracks the set of created, updated, and deleted rows of a
// single Table between successive calls to Update. Each of the three
// kinds is independently buffered or not: a buffered kind accumulates
// across calls until a consumer drains it with the matching Next*
// method; an unbuffered kind reports only what changed on the most
// recent Update and is discarded on the next call.
//
// A Manager is not safe for concurrent use; callers serialize access
// through the owning Slot.
type Manager struct {
	bufferCreated bool
	bufferUpdated bool
	bufferDeleted bool

	lastUpdate types.RunNumber
	index      []int64 // sorted ascending, the full row index as of lastUpdate

	created *indexset.RowSet
	updated *indexset.RowSet
	deleted *indexset.RowSet
}

// New returns a Manager with the given per-kind buffering policy.
func New(bufferCreated, bufferUpdated, bufferDeleted bool) *Manager {
	m := &Manager{
		bufferCreated: bufferCreated,
		bufferUpdated: bufferUpdated,
		bufferDeleted: bufferDeleted,
	}
	m.Reset()
	return m
}

// Reset discards all buffered state and forgets the last observed
// index, as if Update had never been called.
func (m *Manager) Reset() {
	m.lastUpdate = 0
	m.index = nil
	m.created = indexset.New()
	m.updated = indexset.New()
	m.deleted = indexset.New()
}

// NextState reports whether any buffered kind of change currently has
// rows pending delivery.
func (m *Manager) NextState() State {
	if m.bufferCreated && m.HasCreated() {
		return StateReady
	}
	if m.bufferUpdated && m.HasUpdated() {
		return StateReady
	}
	if m.bufferDeleted && m.HasDeleted() {
		return StateReady
	}
	return StateBlocked
}

// LastUpdate returns the run number of the most recent successful
// Update call, or 0 if Update has never succeeded.
func (m *Manager) LastUpdate() types.RunNumber { return m.lastUpdate }

// Update diffs table against the index remembered from the previous
// call and merges the result into the buffered created/updated/deleted
// sets according to each kind's buffering policy. Calls with a
// runNumber that has already been observed, or a nil table, are
// no-ops.
func (m *Manager) Update(runNumber types.RunNumber, table types.Table) {
	if table == nil || runNumber <= m.lastUpdate {
		return
	}
	index := table.Index()
	if hasDuplicates(index) {
		logrus.WithField("run_number", runNumber).
			Error("changemgr: cannot update changes, index has duplicates")
		return
	}

	var created, updated, deleted *indexset.RowSet
	if m.lastUpdate == 0 {
		created = indexset.FromSlice(index)
		updated = indexset.New()
		deleted = indexset.New()
	} else {
		len1, len2 := len(m.index), len(index)
		if len1 <= len2 && equalPrefix(m.index, index[:len1]) {
			// Append-only fast path: every previously-known row is
			// still at the same position, so only the suffix can
			// contain newly created rows.
			deleted = indexset.New()
			created = indexset.FromSlice(index[len1:])
			updated = rowsUpdatedSince(table, m.index[:len1], m.lastUpdate)
		} else {
			oldSet := indexset.FromSlice(m.index)
			newSet := indexset.FromSlice(index)
			deleted = indexset.Difference(oldSet, newSet)
			created = indexset.Difference(newSet, oldSet)
			kept := indexset.Intersection(oldSet, newSet)
			updated = rowsUpdatedSince(table, kept.Slice(), m.lastUpdate)
		}
	}

	if m.bufferCreated {
		// Rows still waiting in the created buffer don't also need
		// to be reported as updated.
		updated = indexset.Difference(updated, m.created)
		m.created = indexset.Union(indexset.Difference(m.created, deleted), created)
	} else {
		m.created = created
	}

	if m.bufferDeleted {
		m.deleted = indexset.Union(m.deleted, deleted)
	} else {
		m.deleted = deleted
	}

	if m.bufferUpdated {
		m.updated = indexset.Union(indexset.Difference(m.updated, deleted), updated)
	} else {
		m.updated = updated
	}

	m.index = append([]int64(nil), index...)
	m.lastUpdate = runNumber

	logrus.WithFields(logrus.Fields{
		"run_number": runNumber,
		"updated":    m.updated.Len(),
		"created":    m.created.Len(),
		"deleted":    m.deleted.Len(),
	}).Debug("changemgr: updated")
}

func rowsUpdatedSince(table types.Table, rows []int64, since types.RunNumber) *indexset.RowSet {
	out := indexset.New()
	for _, row := range rows {
		if at, ok := table.UpdatedAt(row); ok && at > since {
			out.Add(row)
		}
	}
	return out
}

func hasDuplicates(sorted []int64) bool {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return true
		}
	}
	return false
}

func equalPrefix(full []int64, prefix []int64) bool {
	if len(full) != len(prefix) {
		return false
	}
	for i := range full {
		if full[i] != prefix[i] {
			return false
		}
	}
	return true
}

// FlushCreated, FlushUpdated, and FlushDeleted discard the
// corresponding buffer without returning its contents.
func (m *Manager) FlushCreated() { m.created = indexset.New() }
func (m *Manager) FlushUpdated() { m.updated = indexset.New() }
func (m *Manager) FlushDeleted() { m.deleted = indexset.New() }

// FlushAll discards every buffer.
func (m *Manager) FlushAll() {
	m.FlushCreated()
	m.FlushUpdated()
	m.FlushDeleted()
}

// NextCreated returns up to n created row ids, in ascending order, and
// removes them from the buffer, as a Selection per the as_slice
// contract: a contiguous Range when the drained ids happen to form
// one, else the raw slice. n < 0 returns every buffered row. If
// created rows are not buffered, NextCreated always returns the zero
// Selection: only Update populates a transient view of the last run's
// creations, and a consumer that isn't buffering has no way to
// retrieve it through this method.
func (m *Manager) NextCreated(n int) indexset.Selection {
	return next(m.created, &m.created, m.bufferCreated, n)
}

// NextUpdated is the Updated analog of NextCreated.
func (m *Manager) NextUpdated(n int) indexset.Selection {
	return next(m.updated, &m.updated, m.bufferUpdated, n)
}

// NextDeleted is the Deleted analog of NextCreated.
func (m *Manager) NextDeleted(n int) indexset.Selection {
	return next(m.deleted, &m.deleted, m.bufferDeleted, n)
}

func next(buf *indexset.RowSet, slot **indexset.RowSet, buffered bool, n int) indexset.Selection {
	if !buffered {
		return indexset.Selection{}
	}
	all := buf.Slice()
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	if n < 0 || n > len(all) {
		n = len(all)
	}
	ret := all[:n]
	*slot = indexset.FromSlice(all[n:])
	return indexset.IndicesToSlice(ret)
}

// HasCreated, HasUpdated, and HasDeleted report whether the
// corresponding buffer currently holds any rows.
func (m *Manager) HasCreated() bool { return !m.created.Empty() }
func (m *Manager) HasUpdated() bool { return !m.updated.Empty() }
func (m *Manager) HasDeleted() bool { return !m.deleted.Empty() }

// CreatedLength, UpdatedLength, and DeletedLength report the size of
// the corresponding buffer.
func (m *Manager) CreatedLength() int { return m.created.Len() }
func (m *Manager) UpdatedLength() int { return m.updated.Len() }
func (m *Manager) DeletedLength() int { return m.deleted.Len() }
