// Copyright 2025 AgentMesh
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

package mesh

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the mesh's Prometheus instrumentation, exposed on the
// admin server's /metrics endpoint.
type Metrics struct {
	Requests        *prometheus.CounterVec
	PolicyDenials   prometheus.Counter
	MaskedFields    prometheus.Counter
	DispatchLatency prometheus.Histogram
	registry        *prometheus.Registry
}

// NewMetrics builds and registers the mesh metric set
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_requests_total",
			Help: "Governed and registry requests by subject and outcome",
		}, []string{"subject", "outcome"}),
		PolicyDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_policy_denials_total",
			Help: "Requests denied by the policy evaluator",
		}),
		MaskedFields: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_masked_fields_total",
			Help: "Field paths masked in governed replies",
		}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mesh_adapter_dispatch_seconds",
			Help:    "Adapter request/reply latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		registry: reg,
	}

	reg.MustRegister(m.Requests, m.PolicyDenials, m.MaskedFields, m.DispatchLatency)
	return m
}

// Registry exposes the Prometheus registry for the HTTP handler
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveReply records the outcome of one request/reply exchange
func (m *Metrics) ObserveReply(subject, outcome string) {
	m.Requests.WithLabelValues(subject, outcome).Inc()
	if outcome == "denied" {
		m.PolicyDenials.Inc()
	}
}
