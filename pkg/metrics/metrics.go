package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitationTransitions counts status applications by target status and
	// whether the status actually changed (transition|reapply).
	InvitationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpaccess_invitation_transitions_total",
			Help: "Total number of invitation status applications",
		},
		[]string{"status", "kind"},
	)

	// EventsPublished counts events delivered on the in-process bus.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpaccess_events_published_total",
			Help: "Total number of invitation events published",
		},
		[]string{"type"},
	)

	// EnrollmentOutcomes counts workflow enrollment results by target system
	// (local|platform) and outcome (created|existing|error).
	EnrollmentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpaccess_enrollment_outcomes_total",
			Help: "Total number of enrollment ensure operations",
		},
		[]string{"system", "outcome"},
	)

	// EligibilityCacheLookups counts aggregator cache hits and misses.
	EligibilityCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpaccess_eligibility_cache_lookups_total",
			Help: "Aggregator cache lookups by result (hit|miss|skip)",
		},
		[]string{"result"},
	)

	// BulkImportRows counts bulk import rows by import type and result.
	BulkImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpaccess_bulk_import_rows_total",
			Help: "Bulk import rows processed by type (invitations|learners) and result (created|failed)",
		},
		[]string{"type", "result"},
	)
)
