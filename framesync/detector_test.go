package framesync

import (
	"testing"

	"github.com/cwsl/wwvclock"
)

type recordingFrameTimeSink struct {
	updates []wwvclock.FrameTime
}

func (r *recordingFrameTimeSink) OnFrameTime(ft wwvclock.FrameTime) {
	r.updates = append(r.updates, ft)
}

func markerAt(leadingEdgeMS float64) wwvclock.MarkerEvent {
	return wwvclock.MarkerEvent{TrailingEdgeMS: leadingEdgeMS + 800, DurationMS: 800}
}

func TestSyncDetectorLocksAfterThreeConsecutiveMarkers(t *testing.T) {
	sink := &recordingFrameTimeSink{}
	d := NewDetector(DefaultConfig(), sink, nil)

	d.OnConfirmedMarker(markerAt(0))
	if d.state != wwvclock.SyncAcquiring {
		t.Fatalf("expected ACQUIRING after first marker, got %v", d.state)
	}

	d.OnConfirmedMarker(markerAt(60000))
	if d.state != wwvclock.SyncAcquiring {
		t.Fatalf("expected still ACQUIRING after second marker, got %v", d.state)
	}

	d.OnConfirmedMarker(markerAt(120000))
	if d.state != wwvclock.SyncLocked {
		t.Fatalf("expected LOCKED after three consecutive matching markers, got %v", d.state)
	}
}

func TestSyncDetectorEntersRecoveringWhenMarkerMissed(t *testing.T) {
	sink := &recordingFrameTimeSink{}
	d := NewDetector(DefaultConfig(), sink, nil)

	d.OnConfirmedMarker(markerAt(0))
	d.OnConfirmedMarker(markerAt(60000))
	d.OnConfirmedMarker(markerAt(120000))
	if d.state != wwvclock.SyncLocked {
		t.Fatalf("expected LOCKED before the missed marker, got %v", d.state)
	}

	// Advance past two full minutes without ever calling OnConfirmedMarker
	// again; the second minute wrap should find awaitingMarker still true.
	d.Advance(d.anchorMS + 125000)

	if d.state != wwvclock.SyncRecovering {
		t.Fatalf("expected RECOVERING after a missed minute marker, got %v", d.state)
	}
}

func TestSyncDetectorRecoversOnMatchingMarker(t *testing.T) {
	sink := &recordingFrameTimeSink{}
	d := NewDetector(DefaultConfig(), sink, nil)

	d.OnConfirmedMarker(markerAt(0))
	d.OnConfirmedMarker(markerAt(60000))
	d.OnConfirmedMarker(markerAt(120000))
	d.Advance(d.anchorMS + 125000)
	if d.state != wwvclock.SyncRecovering {
		t.Fatalf("precondition failed: expected RECOVERING, got %v", d.state)
	}

	// A marker landing on the predicted cadence should bring it back to LOCKED.
	d.OnConfirmedMarker(markerAt(240000))
	if d.state != wwvclock.SyncLocked {
		t.Fatalf("expected LOCKED after a recovering marker matched the cadence, got %v", d.state)
	}
}

func TestSyncDetectorTimesOutToSearching(t *testing.T) {
	sink := &recordingFrameTimeSink{}
	d := NewDetector(DefaultConfig(), sink, nil)

	d.OnConfirmedMarker(markerAt(0))
	d.OnConfirmedMarker(markerAt(60000))
	d.OnConfirmedMarker(markerAt(120000))
	d.Advance(d.anchorMS + 125000)
	if d.state != wwvclock.SyncRecovering {
		t.Fatalf("precondition failed: expected RECOVERING, got %v", d.state)
	}

	d.Advance(d.recoveringSinceMS + wwvclock.SyncRecoverTimeoutMS + 1000)

	if d.state != wwvclock.SyncSearching {
		t.Fatalf("expected SEARCHING after the recover timeout elapsed, got %v", d.state)
	}
	if d.haveAnchor {
		t.Fatal("expected the anchor to be dropped once SEARCHING resumes")
	}
}

func TestSyncDetectorTickEvidenceRequiresAnchor(t *testing.T) {
	sink := &recordingFrameTimeSink{}
	d := NewDetector(DefaultConfig(), sink, nil)

	d.OnTick(wwvclock.TickEvent{TrailingEdgeMS: 0})
	if d.confidence != 0 {
		t.Fatalf("expected no confidence boost before an anchor exists, got %v", d.confidence)
	}

	d.OnConfirmedMarker(markerAt(0))
	d.Advance(1000)
	before := d.confidence
	d.OnTick(wwvclock.TickEvent{TrailingEdgeMS: 1000})
	if d.confidence <= before {
		t.Fatalf("expected a tick within tolerance to boost confidence, before=%v after=%v", before, d.confidence)
	}
}

func TestSyncDetectorTickMarkerEvidenceIsHalfWeight(t *testing.T) {
	sink := &recordingFrameTimeSink{}
	d := NewDetector(DefaultConfig(), sink, nil)

	d.OnConfirmedMarker(markerAt(0))
	before := d.confidence
	d.OnTickMarker(wwvclock.TickMarkerEvent{LeadingEdgeMS: 60000})
	boosted := d.confidence - before

	d2 := NewDetector(DefaultConfig(), sink, nil)
	d2.OnConfirmedMarker(markerAt(0))
	before2 := d2.confidence
	d2.OnConfirmedMarker(markerAt(60000))
	fullBoost := d2.confidence - before2

	if boosted <= 0 || boosted >= fullBoost {
		t.Fatalf("expected a half-weight boost smaller than a confirmed marker's, got %v vs %v", boosted, fullBoost)
	}
}

func TestSyncDetectorPMarkerEvidenceRequiresAnchor(t *testing.T) {
	sink := &recordingFrameTimeSink{}
	d := NewDetector(DefaultConfig(), sink, nil)

	d.OnSymbol(wwvclock.SymbolEvent{Symbol: wwvclock.SymbolPMarker, Second: 9, TimestampMS: 9000})
	if d.confidence != 0 {
		t.Fatalf("expected no confidence boost before an anchor exists, got %v", d.confidence)
	}

	d.OnConfirmedMarker(markerAt(0))
	before := d.confidence
	d.OnSymbol(wwvclock.SymbolEvent{Symbol: wwvclock.SymbolPMarker, Second: 9, TimestampMS: 9000})
	if d.confidence <= before {
		t.Fatalf("expected a P-marker at the predicted position to boost confidence, before=%v after=%v", before, d.confidence)
	}
}
