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

import (
	"testing"

	"github.com/cockroachdb/progressivis/internal/util/ident"
	"github.com/stretchr/testify/require"
)

func indexOf(order []ident.ModuleID, id ident.ModuleID) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestAcyclicOrderIsTopological(t *testing.T) {
	ids := []ident.ModuleID{"A", "B", "C"}
	edges := map[ident.ModuleID][]ident.ModuleID{
		"A": {"B"},
		"B": {"C"},
	}
	seq := map[ident.ModuleID]int{"A": 0, "B": 1, "C": 2}

	order := runOrder(ids, edges, seq)
	require.Less(t, indexOf(order, "A"), indexOf(order, "B"))
	require.Less(t, indexOf(order, "B"), indexOf(order, "C"))
}

func TestDiamondOrderRespectsAllEdges(t *testing.T) {
	ids := []ident.ModuleID{"A", "B", "C", "D"}
	edges := map[ident.ModuleID][]ident.ModuleID{
		"A": {"B", "C"},
		"B": {"D"},
		"C": {"D"},
	}
	seq := map[ident.ModuleID]int{"A": 0, "B": 1, "C": 2, "D": 3}

	order := runOrder(ids, edges, seq)
	require.Less(t, indexOf(order, "A"), indexOf(order, "B"))
	require.Less(t, indexOf(order, "A"), indexOf(order, "C"))
	require.Less(t, indexOf(order, "B"), indexOf(order, "D"))
	require.Less(t, indexOf(order, "C"), indexOf(order, "D"))
}

func TestCycleFallsBackToInsertionOrder(t *testing.T) {
	ids := []ident.ModuleID{"A", "B", "C"}
	edges := map[ident.ModuleID][]ident.ModuleID{
		"A": {"B"},
		"B": {"A"},
	}
	seq := map[ident.ModuleID]int{"A": 0, "B": 1, "C": 2}

	order := runOrder(ids, edges, seq)
	require.Less(t, indexOf(order, "A"), indexOf(order, "B"), "within the cycle, insertion order breaks ties")
	require.Len(t, order, 3)
}

func TestAcyclicSubgraphAroundACycle(t *testing.T) {
	ids := []ident.ModuleID{"A", "B", "C", "D"}
	edges := map[ident.ModuleID][]ident.ModuleID{
		"A": {"B"},
		"B": {"C"},
		"C": {"B", "D"}, // B <-> C cycle, with C also feeding D
	}
	seq := map[ident.ModuleID]int{"A": 0, "B": 1, "C": 2, "D": 3}

	order := runOrder(ids, edges, seq)
	require.Less(t, indexOf(order, "A"), indexOf(order, "B"))
	require.Less(t, indexOf(order, "B"), indexOf(order, "D"))
	require.Less(t, indexOf(order, "C"), indexOf(order, "D"))
}
