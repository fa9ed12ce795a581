package prb

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openzfs/zfs-sub013/internal/ring"
)

// metrics holds the Prometheus collectors this module's components report
// through, plus a small in-memory trace of write-latency samples (backed
// by internal/ring). The trace is unexported; nothing outside this package
// reads it.
type metrics struct {
	entriesWritten   prometheus.Counter
	bytesWritten     prometheus.Counter
	writeObsolete    prometheus.Counter
	writeWouldSleep  prometheus.Counter
	writeLatency     prometheus.Histogram
	gcReclaimed      prometheus.Counter
	replayEntries    prometheus.Counter
	claimEntries     prometheus.Counter

	recentWriteLatenciesUs *ring.Buffer[int64]
}

const recentSampleCap = 64

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		entriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zil_pmem_prb",
			Name:      "entries_written_total",
			Help:      "Total number of entries durably written.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zil_pmem_prb",
			Name:      "bytes_written_total",
			Help:      "Total entry bytes (header+body+padding) durably written.",
		}),
		writeObsolete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zil_pmem_prb",
			Name:      "write_obsolete_total",
			Help:      "Total WriteEntry calls rejected as obsolete.",
		}),
		writeWouldSleep: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zil_pmem_prb",
			Name:      "write_would_sleep_total",
			Help:      "Total non-blocking WriteEntry calls that found no free chunk.",
		}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zil_pmem_prb",
			Name:      "write_latency_seconds",
			Help:      "Latency of successful WriteEntry calls.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		gcReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zil_pmem_prb",
			Name:      "gc_chunks_reclaimed_total",
			Help:      "Total chunks returned to the free list by GC.",
		}),
		replayEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zil_pmem_prb",
			Name:      "replay_entries_total",
			Help:      "Total entries delivered to replay callbacks.",
		}),
		claimEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zil_pmem_prb",
			Name:      "claim_entries_total",
			Help:      "Total entries observed during claim.",
		}),
		recentWriteLatenciesUs: ring.New[int64](recentSampleCap),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.entriesWritten, m.bytesWritten, m.writeObsolete,
			m.writeWouldSleep, m.writeLatency, m.gcReclaimed,
			m.replayEntries, m.claimEntries,
		} {
			// Registration errors (e.g. AlreadyRegisteredError from a
			// shared default registerer across multiple PRB instances in
			// the same process, as happens in tests) are not fatal: the
			// collector still works for this instance's direct use.
			_ = reg.Register(c)
		}
	}

	return m
}

// observeWriteLatencyUs records us both in the Prometheus histogram and in
// the samples trace, keeping the trace sorted and capped at
// recentSampleCap entries. Once it would grow past that, the front of the
// sorted trace is evicted, i.e. the smallest samples, not the oldest.
func (m *metrics) observeWriteLatencyUs(us int64) {
	m.writeLatency.Observe(float64(us) / 1e6)

	r := m.recentWriteLatenciesUs
	r.Insert(r.Search(us), us)
	if over := r.Len() - recentSampleCap; over > 0 {
		r.RemoveBefore(over)
	}
}
