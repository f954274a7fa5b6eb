/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics registers the Prometheus collectors for the scheduling,
// verification and submission engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "care_commons"

var (
	VisitsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "visits_created_total",
		Help:      "Visits created, by origin (manual or pattern).",
	}, []string{"origin"})

	VisitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "visit_transitions_total",
		Help:      "Visit status transitions applied.",
	}, []string{"to"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evv",
		Name:      "verifications_total",
		Help:      "Clock event verifications, by event and derived level.",
	}, []string{"event", "level"})

	GeofenceChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evv",
		Name:      "geofence_checks_total",
		Help:      "Geofence checks, by outcome.",
	}, []string{"outcome"})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submission",
		Name:      "submissions_total",
		Help:      "Aggregator submission attempts, by vendor and resulting status.",
	}, []string{"aggregator", "status"})

	SubmissionRetriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "submission",
		Name:      "retries_swept_total",
		Help:      "Due retries processed by the sweep controller.",
	})

	VMURsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vmur",
		Name:      "expired_total",
		Help:      "Pending unlock requests expired by the sweep controller.",
	})

	AddressCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "address_lookups_total",
		Help:      "Address lookups, by cache outcome.",
	}, []string{"outcome"})
)
