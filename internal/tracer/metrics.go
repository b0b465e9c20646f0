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

package tracer

import (
	"github.com/cockroachdb/progressivis/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "module_step_duration_seconds",
		Help:    "the length of time a single run_step call took",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ModuleLabels)
	stepsRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "module_steps_run_total",
		Help: "the number of items processed across all run_step calls",
	}, metrics.ModuleLabels)
	runDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "module_run_duration_seconds",
		Help:    "the length of time a single outer run() call took",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ModuleLabels)
	exceptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "module_exceptions_total",
		Help: "the number of run_step calls that failed with a non-terminal error",
	}, metrics.ModuleLabels)
	terminatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "module_terminated_total",
		Help: "the number of times a module transitioned to terminated",
	}, metrics.ModuleLabels)
)
