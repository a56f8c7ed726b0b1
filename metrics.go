// Copyright 2026 Plinth AI
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

package genscore

import "github.com/prometheus/client_golang/prometheus"

var (
	generationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Subsystem: "genscore",
			Name:      "generation_ops_total",
			Help:      "The total number of prompt generations by outcome.",
		},
		[]string{"status"},
	)
	evalRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Subsystem: "genscore",
			Name:      "eval_runs_total",
			Help:      "The total number of classifier invocations.",
		},
	)
)

func init() {
	prometheus.MustRegister(generationOps)
	prometheus.MustRegister(evalRuns)
}
