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

// Package indexset holds sets of table row indices, the unit the
// Change Manager buffers created, updated, and deleted rows in. Row
// indices are int64, but the common case (small, densely-packed,
// monotonically assigned ids) compresses well into a roaring bitmap;
// rows with an index outside uint32 range spill into a side set.
package indexset

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// RowSet is a set of table row indices. The zero value is an empty,
// ready-to-use set.
type RowSet struct {
	bits *roaring.Bitmap
	// overflow holds indices that don't fit in uint32; rare in
	// practice, but int64 is the contract and roaring is 32-bit.
	overflow map[int64]struct{}
}

// New returns an empty RowSet.
func New() *RowSet {
	return &RowSet{bits: roaring.New()}
}

// FromSlice returns a RowSet containing exactly the given indices.
func FromSlice(idx []int64) *RowSet {
	s := New()
	s.AddAll(idx)
	return s
}

func (s *RowSet) ensure() {
	if s.bits == nil {
		s.bits = roaring.New()
	}
}

func fitsUint32(v int64) bool { return v >= 0 && v <= 0xFFFFFFFF }

// Add inserts a single index.
func (s *RowSet) Add(idx int64) {
	s.ensure()
	if fitsUint32(idx) {
		s.bits.Add(uint32(idx))
		return
	}
	if s.overflow == nil {
		s.overflow = make(map[int64]struct{})
	}
	s.overflow[idx] = struct{}{}
}

// AddAll inserts every index in idx.
func (s *RowSet) AddAll(idx []int64) {
	for _, v := range idx {
		s.Add(v)
	}
}

// Contains reports whether idx is a member.
func (s *RowSet) Contains(idx int64) bool {
	if s == nil {
		return false
	}
	if fitsUint32(idx) {
		return s.bits != nil && s.bits.Contains(uint32(idx))
	}
	_, ok := s.overflow[idx]
	return ok
}

// Len returns the number of members.
func (s *RowSet) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	if s.bits != nil {
		n = int(s.bits.GetCardinality())
	}
	return n + len(s.overflow)
}

// Empty reports whether the set has no members.
func (s *RowSet) Empty() bool { return s.Len() == 0 }

// Slice returns the set's members in ascending order.
func (s *RowSet) Slice() []int64 {
	if s == nil {
		return nil
	}
	out := make([]int64, 0, s.Len())
	if s.bits != nil {
		it := s.bits.Iterator()
		for it.HasNext() {
			out = append(out, int64(it.Next()))
		}
	}
	if len(s.overflow) > 0 {
		for v := range s.overflow {
			out = append(out, v)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	}
	return out
}

// Clone returns an independent copy of s.
func (s *RowSet) Clone() *RowSet {
	out := New()
	if s == nil {
		return out
	}
	if s.bits != nil {
		out.bits = s.bits.Clone()
	}
	if len(s.overflow) > 0 {
		out.overflow = make(map[int64]struct{}, len(s.overflow))
		for k := range s.overflow {
			out.overflow[k] = struct{}{}
		}
	}
	return out
}

// Union returns a new set containing every index in a or b.
func Union(a, b *RowSet) *RowSet {
	out := a.Clone()
	if b == nil {
		return out
	}
	out.ensure()
	if b.bits != nil {
		out.bits.Or(b.bits)
	}
	for v := range b.overflow {
		out.Add(v)
	}
	return out
}

// Difference returns a new set containing every index in a that is not
// in b (a \ b).
func Difference(a, b *RowSet) *RowSet {
	out := a.Clone()
	if b == nil {
		return out
	}
	if out.bits != nil && b.bits != nil {
		out.bits.AndNot(b.bits)
	}
	for v := range b.overflow {
		delete(out.overflow, v)
	}
	return out
}

// Intersection returns a new set containing every index present in
// both a and b.
func Intersection(a, b *RowSet) *RowSet {
	out := New()
	if a == nil || b == nil {
		return out
	}
	if a.bits != nil && b.bits != nil {
		out.bits = roaring.And(a.bits, b.bits)
	}
	for v := range a.overflow {
		if _, ok := b.overflow[v]; ok {
			out.Add(v)
		}
	}
	return out
}

// Equal reports whether a and b contain exactly the same indices.
func Equal(a, b *RowSet) bool {
	if a.Len() != b.Len() {
		return false
	}
	if a.bits != nil || b.bits != nil {
		switch {
		case a.bits == nil:
			if b.bits.GetCardinality() != 0 {
				return false
			}
		case b.bits == nil:
			if a.bits.GetCardinality() != 0 {
				return false
			}
		default:
			if !a.bits.Equals(b.bits) {
				return false
			}
		}
	}
	if len(a.overflow) != len(b.overflow) {
		return false
	}
	for v := range a.overflow {
		if _, ok := b.overflow[v]; !ok {
			return false
		}
	}
	return true
}

// Range is a contiguous, half-open row index interval [Start, End).
type Range struct {
	Start, End int64
}

// Ranges collapses a sorted slice of indices into contiguous half-open
// intervals. IndicesToSlice builds on it to prefer a compact range
// representation when the indices are contiguous. Expanding every
// Range back to individual indices and
// concatenating reproduces the input exactly.
func Ranges(sorted []int64) []Range {
	if len(sorted) == 0 {
		return nil
	}
	var out []Range
	start := sorted[0]
	prev := sorted[0]
	for _, v := range sorted[1:] {
		if v == prev+1 {
			prev = v
			continue
		}
		out = append(out, Range{Start: start, End: prev + 1})
		start, prev = v, v
	}
	out = append(out, Range{Start: start, End: prev + 1})
	return out
}

// Expand is the inverse of Ranges: it returns every index covered by
// rs, in ascending order.
func Expand(rs []Range) []int64 {
	if len(rs) == 0 {
		return nil
	}
	var n int
	for _, r := range rs {
		n += int(r.End - r.Start)
	}
	out := make([]int64, 0, n)
	for _, r := range rs {
		for v := r.Start; v < r.End; v++ {
			out = append(out, v)
		}
	}
	return out
}

// Selection is the result of the as_slice contract: a single
// contiguous Range when the indices it carries happen to be
// contiguous, else the raw ascending slice. It lets a caller like
// changemgr.Manager.next hand back a compact representation without
// the consumer needing to know which case it got until it asks for
// the indices.
type Selection struct {
	IsRange bool
	Range   Range
	Raw     []int64
}

// Indices expands sel back into its individual row indices, in
// ascending order.
func (sel Selection) Indices() []int64 {
	if sel.IsRange {
		return Expand([]Range{sel.Range})
	}
	return sel.Raw
}

// Len reports how many indices sel carries.
func (sel Selection) Len() int {
	if sel.IsRange {
		return int(sel.Range.End - sel.Range.Start)
	}
	return len(sel.Raw)
}

// IndicesToSlice implements the C1 as_slice contract: given a sorted
// slice of row indices, it returns a Selection holding a single
// contiguous Range when sorted collapses into exactly one, else the
// raw slice unchanged.
func IndicesToSlice(sorted []int64) Selection {
	if ranges := Ranges(sorted); len(ranges) == 1 {
		return Selection{IsRange: true, Range: ranges[0]}
	}
	return Selection{Raw: sorted}
}
