package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entityWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_entity_writes_total",
			Help: "Total number of entity writes by entity type and operation",
		},
		[]string{"entity_type", "operation"},
	)

	txOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_entity_transactions_total",
			Help: "Total number of entity store transactions by outcome",
		},
		[]string{"outcome"},
	)
)

func EntityWriteInc(entityType, operation string) {
	entityWrites.WithLabelValues(entityType, operation).Inc()
}

func TxOutcomeInc(outcome string) {
	txOutcomes.WithLabelValues(outcome).Inc()
}
