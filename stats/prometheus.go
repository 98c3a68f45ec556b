package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pilotproto/udpconn/wire"
)

const namespace = "udpconn"

// PrometheusMetrics holds the process-wide counters a PrometheusTracker
// reports into, built with promauto the same way the reference
// corpus's metrics packages do, so every connection's Tracker can
// share one registration instead of each minting its own collectors.
type PrometheusMetrics struct {
	PacketsSent prometheus.Counter
	PacketsRecv prometheus.Counter
	BytesSent   prometheus.Counter
	BytesRecv   prometheus.Counter
	PingMS      prometheus.Histogram
}

// NewPrometheusMetrics registers udpconn's collectors against reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total data packets sent across all connections.",
		}),
		PacketsRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total data packets received across all connections.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent across all connections.",
		}),
		BytesRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received across all connections.",
		}),
		PingMS: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ping_milliseconds",
			Help:      "Smoothed round-trip estimate at the time each stats block is sent.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

// PrometheusTracker wraps a Tracker, mirroring its counters into a
// shared PrometheusMetrics in addition to the per-connection
// udpconn.EndpointStats bookkeeping.
type PrometheusTracker struct {
	*Tracker
	metrics *PrometheusMetrics
}

// NewPrometheusTracker builds a PrometheusTracker reporting into metrics.
func NewPrometheusTracker(metrics *PrometheusMetrics) *PrometheusTracker {
	return &PrometheusTracker{Tracker: NewTracker(), metrics: metrics}
}

// TrackSentPacket overrides Tracker.TrackSentPacket to also update the
// shared Prometheus counters.
func (p *PrometheusTracker) TrackSentPacket(seq uint64, size int, now time.Time) {
	p.Tracker.TrackSentPacket(seq, size, now)
	p.metrics.PacketsSent.Inc()
	p.metrics.BytesSent.Add(float64(size))
}

// TrackRecvPacket overrides Tracker.TrackRecvPacket to also update the
// shared Prometheus counters.
func (p *PrometheusTracker) TrackRecvPacket(seq uint64, size int, now time.Time) {
	p.Tracker.TrackRecvPacket(seq, size, now)
	p.metrics.PacketsRecv.Inc()
	p.metrics.BytesRecv.Add(float64(size))
}

// PopulateStats overrides Tracker.PopulateStats to also observe the
// current ping estimate into the shared histogram.
func (p *PrometheusTracker) PopulateStats(now time.Time) (wire.MsgStats, uint32) {
	m, flags := p.Tracker.PopulateStats(now)
	p.metrics.PingMS.Observe(float64(p.Tracker.SmoothedPingMS()))
	return m, flags
}
