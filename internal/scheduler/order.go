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

package scheduler

import "github.com/cockroachdb/progressivis/internal/util/ident"

// runOrder computes a run order over the module graph: producers
// before consumers, falling back to insertion order within any
// strongly-connected component (cycle). edges maps a module id to the
// ids of modules that consume its output; seq gives each module id its
// insertion order for tie-breaking within a cycle.
func runOrder(ids []ident.ModuleID, edges map[ident.ModuleID][]ident.ModuleID, seq map[ident.ModuleID]int) []ident.ModuleID {
	t := &tarjan{
		edges: edges,
		index: make(map[ident.ModuleID]int),
		low:   make(map[ident.ModuleID]int),
		onStk: make(map[ident.ModuleID]bool),
	}
	// Iterate in insertion order so that, absent any cycle
	// constraints, component discovery is itself deterministic.
	ordered := append([]ident.ModuleID(nil), ids...)
	sortBySeq(ordered, seq)
	for _, id := range ordered {
		if _, ok := t.index[id]; !ok {
			t.strongConnect(id)
		}
	}

	// Tarjan emits components in reverse topological order relative
	// to edges pointing producer -> consumer (a component is only
	// fully popped once every component it can reach has already been
	// popped). Reverse it to get producer-before-consumer order.
	components := t.components
	for i, j := 0, len(components)-1; i < j; i, j = i+1, j-1 {
		components[i], components[j] = components[j], components[i]
	}

	out := make([]ident.ModuleID, 0, len(ids))
	for _, comp := range components {
		sortBySeq(comp, seq)
		out = append(out, comp...)
	}
	return out
}

func sortBySeq(ids []ident.ModuleID, seq map[ident.ModuleID]int) {
	// Insertion sort: component sizes are small in practice (cycles
	// among dataflow modules are rare and deliberately small), and
	// this keeps the dependency-free tie-break trivially auditable.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && seq[ids[j-1]] > seq[ids[j]]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// tarjan computes strongly-connected components via Tarjan's
// algorithm, iteratively to avoid recursion depth limits on large
// graphs.
type tarjan struct {
	edges map[ident.ModuleID][]ident.ModuleID

	counter int
	index   map[ident.ModuleID]int
	low     map[ident.ModuleID]int
	onStk   map[ident.ModuleID]bool
	stack   []ident.ModuleID

	components [][]ident.ModuleID
}

type frame struct {
	node     ident.ModuleID
	children []ident.ModuleID
	pos      int
}

func (t *tarjan) strongConnect(start ident.ModuleID) {
	var stack []*frame
	push := func(n ident.ModuleID) {
		t.index[n] = t.counter
		t.low[n] = t.counter
		t.counter++
		t.stack = append(t.stack, n)
		t.onStk[n] = true
		stack = append(stack, &frame{node: n, children: t.edges[n]})
	}
	push(start)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if f.pos < len(f.children) {
			child := f.children[f.pos]
			f.pos++
			if _, seen := t.index[child]; !seen {
				push(child)
				continue
			}
			if t.onStk[child] {
				if t.index[child] < t.low[f.node] {
					t.low[f.node] = t.index[child]
				}
			}
			continue
		}

		// All children explored; pop and propagate low-link to parent.
		stack = stack[:len(stack)-1]
		if t.low[f.node] == t.index[f.node] {
			var comp []ident.ModuleID
			for {
				n := t.stack[len(t.stack)-1]
				t.stack = t.stack[:len(t.stack)-1]
				t.onStk[n] = false
				comp = append(comp, n)
				if n == f.node {
					break
				}
			}
			t.components = append(t.components, comp)
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			if t.low[f.node] < t.low[parent.node] {
				t.low[parent.node] = t.low[f.node]
			}
		}
	}
}
