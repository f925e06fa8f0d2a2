package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeTransmit struct{ sent, bytes uint64; recipients int }

func (f fakeTransmit) PacketsSent() uint64   { return f.sent }
func (f fakeTransmit) BytesSent() uint64     { return f.bytes }
func (f fakeTransmit) RecipientCount() int   { return f.recipients }

type fakeTracks struct{ entries []TrackEntry }

func (f fakeTracks) ActiveTrackCount() int   { return len(f.entries) }
func (f fakeTracks) Tracks() []TrackEntry    { return f.entries }

func TestCollectorDescribeEmitsAllDescriptors(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil, time.Now())
	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var count int
	for range ch {
		count++
	}
	if count != 11 {
		t.Fatalf("Describe emitted %d descriptors, want 11", count)
	}
}

func TestCollectorCollectSkipsNilProviders(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil, time.Now())
	ch := make(chan prometheus.Metric, 32)
	c.Collect(ch)
	close(ch)

	// Only uptime should be emitted when every provider is nil.
	var count int
	for range ch {
		count++
	}
	if count != 1 {
		t.Fatalf("Collect with all-nil providers emitted %d metrics, want 1 (uptime only)", count)
	}
}

func TestCollectorCollectGathersTransmitAndTrackStats(t *testing.T) {
	transmit := fakeTransmit{sent: 42, bytes: 4096, recipients: 3}
	tracks := fakeTracks{entries: []TrackEntry{{ID: "t1", Occupancy: 512, Capacity: 1 << 20}}}
	c := NewCollector(transmit, nil, nil, tracks, time.Now())

	ch := make(chan prometheus.Metric, 32)
	c.Collect(ch)
	close(ch)

	var count int
	for range ch {
		count++
	}
	// packets sent, bytes sent, recipients, active tracks, one track gauge, uptime.
	if count != 6 {
		t.Fatalf("Collect emitted %d metrics, want 6", count)
	}
}
