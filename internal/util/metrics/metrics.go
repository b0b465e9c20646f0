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

// Package metrics holds the Prometheus bucket and label conventions
// shared by every package that exports runtime metrics, so histograms
// for different subsystems remain comparable.
package metrics

// LatencyBuckets are the histogram buckets (in seconds) used for every
// duration metric exported by this module: run_step execution time and
// outer run() duration share the same buckets so they can be overlaid
// on a single dashboard.
var LatencyBuckets = []float64{
	.00025, .0005, .001, .002, .004, .008, .016, .032, .064, .128, .256,
	.512, 1, 2, 4, 8,
}

// ModuleLabels names the label set attached to per-module metrics.
var ModuleLabels = []string{"module"}
