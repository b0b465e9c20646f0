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

// Package wire assembles a default Runtime (a Scheduler plus the
// shared pieces every module wants: a quantum configuration and a
// default Predictor) the way the original's main() wired together a
// Scheduler and its modules by hand. InjectRuntime is the entry point;
// Set is exposed for callers that want to fold these providers into a
// larger Wire graph of their own.
package wire

import (
	"github.com/cockroachdb/progressivis/internal/module"
	"github.com/cockroachdb/progressivis/internal/predictor"
	"github.com/cockroachdb/progressivis/internal/scheduler"
	"github.com/cockroachdb/progressivis/internal/util/ident"
	"github.com/google/wire"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideQuantumConfig,
	ProvidePredictor,
	ProvideScheduler,
	ProvideRuntime,
)

// Runtime bundles the Scheduler with the shared quantum configuration
// and the default Predictor, mirroring the way the original's Factory
// bundled a connection pool with the configuration values derived from
// it. Modules constructed through NewModule receive the Predictor; the
// quantum configuration is not applied to them.
type Runtime struct {
	Scheduler        *scheduler.Scheduler
	QuantumConfig    *module.QuantumConfig
	DefaultPredictor *predictor.Predictor
}

// ProvideQuantumConfig is called by Wire to construct the
// --defaultQuantum contract.
func ProvideQuantumConfig() *module.QuantumConfig {
	return &module.QuantumConfig{Quantum: 0.1}
}

// ProvidePredictor is called by Wire to construct the default
// Predictor new modules are seeded with.
func ProvidePredictor(cfg *module.QuantumConfig) *predictor.Predictor {
	return predictor.New(1)
}

// ProvideScheduler is called by Wire to construct an empty Scheduler.
func ProvideScheduler() *scheduler.Scheduler {
	return scheduler.New()
}

// ProvideRuntime is called by Wire to assemble the Runtime from its
// constituent pieces.
func ProvideRuntime(
	sched *scheduler.Scheduler, cfg *module.QuantumConfig, pred *predictor.Predictor,
) *Runtime {
	return &Runtime{Scheduler: sched, QuantumConfig: cfg, DefaultPredictor: pred}
}

// NewModule constructs a Module seeded with the Runtime's default
// Predictor and registers it with the Runtime's Scheduler in one call,
// the way Factory.New wrapped construction and registration of a
// logical replication loop together.
func (r *Runtime) NewModule(
	id ident.ModuleID, stepper module.RunStepper, paramDescriptors []module.ParamDescriptor,
) (*module.Module, error) {
	m := module.New(id, stepper, paramDescriptors)
	m.SetPredictor(r.DefaultPredictor)
	if err := r.Scheduler.AddModule(m); err != nil {
		return nil, err
	}
	return m, nil
}
