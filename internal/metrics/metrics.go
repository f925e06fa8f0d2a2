// Package metrics exposes a prometheus.Collector gathering the speaker
// engine's and RTP receiver's operational counters at scrape time, in the
// teacher's interfaces-plus-gather-on-scrape style rather than polling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransmitStatsProvider exposes the RTP transmitter's counters.
type TransmitStatsProvider interface {
	PacketsSent() uint64
	BytesSent() uint64
	RecipientCount() int
}

// ReceiveStatsProvider exposes the RTP receiver's counters.
type ReceiveStatsProvider interface {
	PacketsReceived() uint64
	PacketsDropped() uint64
	PacketsLate() uint64
}

// JitterBufferProvider exposes the receive-side heap's current occupancy.
type JitterBufferProvider interface {
	HeapDepth() int
	BufferedSamples() uint64
}

// TrackEntry is one track's current ring-buffer occupancy for metrics.
type TrackEntry struct {
	ID        string
	Occupancy int // bytes currently buffered
	Capacity  int
}

// TrackStatsProvider exposes the speaker engine's live track set.
type TrackStatsProvider interface {
	ActiveTrackCount() int
	Tracks() []TrackEntry
}

// Collector is a prometheus.Collector gathering transmitter, receiver,
// jitter-buffer, and track metrics. Any provider may be nil if the
// process doesn't run that subsystem (the speaker daemon has no
// ReceiveStatsProvider/JitterBufferProvider; the player daemon has no
// TransmitStatsProvider/TrackStatsProvider).
type Collector struct {
	transmit  TransmitStatsProvider
	receive   ReceiveStatsProvider
	jitter    JitterBufferProvider
	tracks    TrackStatsProvider
	startTime time.Time

	packetsSentDesc     *prometheus.Desc
	bytesSentDesc       *prometheus.Desc
	recipientsDesc      *prometheus.Desc
	packetsRecvDesc     *prometheus.Desc
	packetsDroppedDesc  *prometheus.Desc
	packetsLateDesc     *prometheus.Desc
	heapDepthDesc       *prometheus.Desc
	bufferedSamplesDesc *prometheus.Desc
	activeTracksDesc    *prometheus.Desc
	trackOccupancyDesc  *prometheus.Desc
	uptimeDesc          *prometheus.Desc
}

// NewCollector creates a Collector. Any provider may be nil.
func NewCollector(
	transmit TransmitStatsProvider,
	receive ReceiveStatsProvider,
	jitter JitterBufferProvider,
	tracks TrackStatsProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		transmit:  transmit,
		receive:   receive,
		jitter:    jitter,
		tracks:    tracks,
		startTime: startTime,

		packetsSentDesc: prometheus.NewDesc(
			"disorder_rtp_packets_sent_total",
			"Total RTP packets sent by the transmitter",
			nil, nil,
		),
		bytesSentDesc: prometheus.NewDesc(
			"disorder_rtp_bytes_sent_total",
			"Total RTP payload bytes sent by the transmitter",
			nil, nil,
		),
		recipientsDesc: prometheus.NewDesc(
			"disorder_rtp_recipients",
			"Number of registered recipients in request destination mode",
			nil, nil,
		),
		packetsRecvDesc: prometheus.NewDesc(
			"disorder_rtp_packets_received_total",
			"Total RTP packets received",
			nil, nil,
		),
		packetsDroppedDesc: prometheus.NewDesc(
			"disorder_rtp_packets_dropped_total",
			"Total RTP packets dropped (malformed, header extension set, or late)",
			nil, nil,
		),
		packetsLateDesc: prometheus.NewDesc(
			"disorder_rtp_packets_late_total",
			"Total RTP packets dropped for arriving after the playback cursor",
			nil, nil,
		),
		heapDepthDesc: prometheus.NewDesc(
			"disorder_jitter_heap_depth",
			"Number of packets currently queued in the jitter buffer heap",
			nil, nil,
		),
		bufferedSamplesDesc: prometheus.NewDesc(
			"disorder_jitter_buffered_samples",
			"Total samples currently buffered across all queued packets",
			nil, nil,
		),
		activeTracksDesc: prometheus.NewDesc(
			"disorder_speaker_active_tracks",
			"Number of tracks currently known to the speaker engine",
			nil, nil,
		),
		trackOccupancyDesc: prometheus.NewDesc(
			"disorder_speaker_track_buffer_bytes",
			"Bytes currently buffered in a track's ring buffer",
			[]string{"track_id"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"disorder_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsSentDesc
	ch <- c.bytesSentDesc
	ch <- c.recipientsDesc
	ch <- c.packetsRecvDesc
	ch <- c.packetsDroppedDesc
	ch <- c.packetsLateDesc
	ch <- c.heapDepthDesc
	ch <- c.bufferedSamplesDesc
	ch <- c.activeTracksDesc
	ch <- c.trackOccupancyDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector, querying every present
// provider at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.transmit != nil {
		ch <- prometheus.MustNewConstMetric(c.packetsSentDesc, prometheus.CounterValue, float64(c.transmit.PacketsSent()))
		ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(c.transmit.BytesSent()))
		ch <- prometheus.MustNewConstMetric(c.recipientsDesc, prometheus.GaugeValue, float64(c.transmit.RecipientCount()))
	}

	if c.receive != nil {
		ch <- prometheus.MustNewConstMetric(c.packetsRecvDesc, prometheus.CounterValue, float64(c.receive.PacketsReceived()))
		ch <- prometheus.MustNewConstMetric(c.packetsDroppedDesc, prometheus.CounterValue, float64(c.receive.PacketsDropped()))
		ch <- prometheus.MustNewConstMetric(c.packetsLateDesc, prometheus.CounterValue, float64(c.receive.PacketsLate()))
	}

	if c.jitter != nil {
		ch <- prometheus.MustNewConstMetric(c.heapDepthDesc, prometheus.GaugeValue, float64(c.jitter.HeapDepth()))
		ch <- prometheus.MustNewConstMetric(c.bufferedSamplesDesc, prometheus.GaugeValue, float64(c.jitter.BufferedSamples()))
	}

	if c.tracks != nil {
		ch <- prometheus.MustNewConstMetric(c.activeTracksDesc, prometheus.GaugeValue, float64(c.tracks.ActiveTrackCount()))
		for _, tr := range c.tracks.Tracks() {
			ch <- prometheus.MustNewConstMetric(c.trackOccupancyDesc, prometheus.GaugeValue, float64(tr.Occupancy), tr.ID)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
