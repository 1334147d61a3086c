package versioned

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var CommitCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nessie",
	Subsystem: "versioned",
	Name:      "commits",
}, []string{"result"})

var CommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "nessie",
	Subsystem: "versioned",
	Name:      "commit_duration_seconds",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
})

var CommitAttempts = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "nessie",
	Subsystem: "versioned",
	Name:      "commit_cas_retries",
})

var RefUpdateCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nessie",
	Subsystem: "versioned",
	Name:      "ref_updates",
}, []string{"op", "result"})

var AssetDeleteCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nessie",
	Subsystem: "versioned",
	Name:      "asset_deletes",
}, []string{"result"})

// Collectors returns every metric of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommitCount,
		CommitDuration,
		CommitAttempts,
		RefUpdateCount,
		AssetDeleteCount,
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
