package reorg

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainprojector_reorgs_detected_total",
			Help: "Total number of blockchain reorganizations detected",
		},
	)

	reorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainprojector_reorg_depth_blocks",
			Help:    "Depth of blockchain reorganizations in blocks",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	reorgLastDetected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_reorg_last_detected_timestamp",
			Help: "Unix timestamp of last reorg detection",
		},
	)

	undoEntriesReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainprojector_undo_entries_replayed_total",
			Help: "Total number of undo entries replayed during rollbacks",
		},
	)

	undoBlocksPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainprojector_undo_blocks_pruned_total",
			Help: "Total number of block hashes pruned once their blocks became final",
		},
	)

	finalizedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_finalized_block",
			Help: "Newest block whose undo records have been discarded",
		},
	)

	leaseLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainprojector_lease_lost_total",
			Help: "Total number of times the pipeline lease was found held by another owner",
		},
	)
)

func ReorgDetectedLog(depth uint64) {
	reorgsDetected.Inc()
	reorgDepth.Observe(float64(depth))
	reorgLastDetected.Set(float64(time.Now().UTC().Unix()))
}

func UndoEntriesReplayedInc(count int) {
	undoEntriesReplayed.Add(float64(count))
}

func UndoBlocksPrunedInc(count int64) {
	undoBlocksPruned.Add(float64(count))
}

func FinalizedBlockLog(block uint64) {
	finalizedBlock.Set(float64(block))
}

func LeaseLostInc() {
	leaseLost.Inc()
}
