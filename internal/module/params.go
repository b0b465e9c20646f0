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

import "github.com/spf13/pflag"

// ParamDescriptor names one entry of a module class's parameter set:
// its name, a human-readable type tag, and its default value. A
// module class computes its full descriptor list once, combining its
// own declarations with its ancestors' (mirroring the metaclass
// collection the original implementation performed per instance).
type ParamDescriptor struct {
	Name    string
	Type    string
	Default any
}

// Params is a module's current parameter values, keyed by name. It is
// the typed-struct-per-module rendering of the "dataframe as a dict"
// parameter view: callers type-assert field values rather than
// walking a generic attribute protocol.
type Params map[string]any

// Clone returns an independent copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a new Params with every field of overrides replacing
// the corresponding field of p; fields present only in p are kept
// unchanged. This is the "latest row wins, missing fields fall back"
// rule from the per-run parameter absorption step.
func (p Params) Merge(overrides Params) Params {
	out := p.Clone()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Defaults builds the initial Params for a module class from its
// descriptor list.
func Defaults(descriptors []ParamDescriptor) Params {
	out := make(Params, len(descriptors))
	for _, d := range descriptors {
		out[d.Name] = d.Default
	}
	return out
}

// QuantumConfig is the portion of a module's configuration that can be
// bound to a command-line flag set by an external driver; the core
// itself never parses flags, per the CLI-entry-point non-goal, but it
// exposes the same Bind/Preflight contract the teacher's service
// configs use so a caller can wire one in.
type QuantumConfig struct {
	// Quantum is the default wall-clock budget, in seconds, for a
	// module's outer run() loop when its params table doesn't
	// override "quantum".
	Quantum float64
}

// Bind registers the quantum flag on flags.
func (c *QuantumConfig) Bind(flags *pflag.FlagSet) {
	flags.Float64Var(&c.Quantum, "defaultQuantum", 0.1,
		"default wall-clock budget, in seconds, for a module's run() loop")
}

// Preflight validates the configuration.
func (c *QuantumConfig) Preflight() error {
	if c.Quantum <= 0 {
		c.Quantum = 0.1
	}
	return nil
}
