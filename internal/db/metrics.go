package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainprojector_maintenance_runs_total",
		Help: "Maintenance runs by outcome (ok, error)",
	}, []string{"outcome"})

	maintenanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainprojector_maintenance_duration_seconds",
		Help:    "Time spent holding block writes for maintenance",
		Buckets: prometheus.DefBuckets,
	})

	maintenanceLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainprojector_maintenance_last_run_timestamp_seconds",
		Help: "Unix time of the last maintenance run",
	})

	maintenanceReclaimed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainprojector_maintenance_reclaimed_bytes",
		Help: "Bytes freed by the last maintenance run",
	})

	walCheckpoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainprojector_wal_checkpoints_total",
		Help: "WAL checkpoints by mode",
	}, []string{"mode"})

	vacuumRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainprojector_vacuums_total",
		Help: "VACUUM statements executed",
	})

	databaseSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainprojector_db_size_bytes",
		Help: "Size of the database file plus its WAL and shm files",
	})

	storageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainprojector_storage_errors_total",
		Help: "SQLite errors by class (transient, unrecoverable)",
	}, []string{"class"})
)

func recordMaintenance(elapsed time.Duration, size, reclaimed int64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	maintenanceRuns.WithLabelValues(outcome).Inc()
	maintenanceDuration.Observe(elapsed.Seconds())
	maintenanceLastRun.SetToCurrentTime()
	maintenanceReclaimed.Set(float64(reclaimed))
	if size > 0 {
		databaseSize.Set(float64(size))
	}
}
