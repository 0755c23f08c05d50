package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    bookingCommitted = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "coachbook",
            Name:      "booking_committed_total",
            Help:      "Count of committed bookings by duration class.",
        },
        []string{"duration"},
    )

    bookingRejected = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "coachbook",
            Name:      "booking_rejected_total",
            Help:      "Count of rejected booking commits by reason.",
        },
        []string{"reason"},
    )

    cacheHits = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "coachbook",
            Name:      "availability_cache_hits_total",
            Help:      "Count of availability reads served from cache.",
        },
    )

    cacheMisses = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "coachbook",
            Name:      "availability_cache_misses_total",
            Help:      "Count of availability reads that required recompute.",
        },
    )

    busyQueries = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "coachbook",
            Name:      "busy_queries_total",
            Help:      "Count of busy-interval queries by outcome.",
        },
        []string{"outcome"},
    )

    spendConflicts = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "coachbook",
            Name:      "credit_spend_conflicts_total",
            Help:      "Count of optimistic-write conflicts on the purchase ledger.",
        },
    )

    httpRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "coachbook",
            Name:      "http_requests_total",
            Help:      "Count of HTTP API requests by endpoint.",
        },
        []string{"endpoint"},
    )
)

// Register registers metrics (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(
            bookingCommitted, bookingRejected,
            cacheHits, cacheMisses,
            busyQueries, spendConflicts, httpRequests,
        )
    })
}

func IncBookingCommitted(duration string) {
    bookingCommitted.WithLabelValues(duration).Inc()
}

func IncBookingRejected(reason string) {
    bookingRejected.WithLabelValues(reason).Inc()
}

func IncCacheHit()  { cacheHits.Inc() }
func IncCacheMiss() { cacheMisses.Inc() }

func IncBusyQuery(outcome string) {
    busyQueries.WithLabelValues(outcome).Inc()
}

func IncSpendConflict() { spendConflicts.Inc() }

func IncHTTP(endpoint string) {
    httpRequests.WithLabelValues(endpoint).Inc()
}
