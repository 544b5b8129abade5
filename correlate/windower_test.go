package correlate

import (
	"testing"

	"github.com/cwsl/wwvclock"
)

type recordingSymbolSink struct {
	symbols []wwvclock.SymbolEvent
}

func (r *recordingSymbolSink) OnSymbol(ev wwvclock.SymbolEvent) { r.symbols = append(r.symbols, ev) }

func lockedFrameTime(second int, anchorMS float64) wwvclock.FrameTime {
	return wwvclock.FrameTime{
		CurrentSecond:  second,
		State:          wwvclock.SyncLocked,
		MinuteAnchorMS: anchorMS,
	}
}

func TestBCDWindowerClassifiesZeroSymbol(t *testing.T) {
	sink := &recordingSymbolSink{}
	w := NewBCDWindower(DefaultBCDWindowerConfig(), sink, nil)

	w.Advance(lockedFrameTime(1, 0))
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 1000, DurationMS: 200, PeakEnergy: 0.01})
	w.Advance(lockedFrameTime(2, 0))

	if len(sink.symbols) != 1 {
		t.Fatalf("expected exactly one symbol emitted, got %d", len(sink.symbols))
	}
	if sink.symbols[0].Symbol != wwvclock.SymbolZero {
		t.Fatalf("expected SymbolZero, got %v", sink.symbols[0].Symbol)
	}
	if sink.symbols[0].Second != 1 {
		t.Fatalf("expected second 1, got %d", sink.symbols[0].Second)
	}
}

func TestBCDWindowerClassifiesOneSymbol(t *testing.T) {
	sink := &recordingSymbolSink{}
	w := NewBCDWindower(DefaultBCDWindowerConfig(), sink, nil)

	w.Advance(lockedFrameTime(5, 0))
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 5000, DurationMS: 500, PeakEnergy: 0.01})
	w.Advance(lockedFrameTime(6, 0))

	if len(sink.symbols) != 1 || sink.symbols[0].Symbol != wwvclock.SymbolOne {
		t.Fatalf("expected SymbolOne, got %+v", sink.symbols)
	}
}

func TestBCDWindowerClassifiesPMarkerOnlyAtPositionSeconds(t *testing.T) {
	sink := &recordingSymbolSink{}
	w := NewBCDWindower(DefaultBCDWindowerConfig(), sink, nil)

	// Second 9 is a valid P-marker position.
	w.Advance(lockedFrameTime(9, 0))
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 9000, DurationMS: 800, PeakEnergy: 0.01})
	w.Advance(lockedFrameTime(10, 0))

	if len(sink.symbols) != 1 || sink.symbols[0].Symbol != wwvclock.SymbolPMarker {
		t.Fatalf("expected SymbolPMarker at second 9, got %+v", sink.symbols)
	}
}

func TestBCDWindowerDowngradesLongPulseAtNonPositionSecond(t *testing.T) {
	sink := &recordingSymbolSink{}
	w := NewBCDWindower(DefaultBCDWindowerConfig(), sink, nil)

	// Second 10 is not a valid P-marker position, so an 800ms pulse there
	// must downgrade to ONE rather than classify as a position marker.
	w.Advance(lockedFrameTime(10, 0))
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 10000, DurationMS: 800, PeakEnergy: 0.01})
	w.Advance(lockedFrameTime(11, 0))

	if len(sink.symbols) != 1 || sink.symbols[0].Symbol != wwvclock.SymbolOne {
		t.Fatalf("expected downgrade to SymbolOne at second 10, got %+v", sink.symbols)
	}
}

func TestBCDWindowerEmitsNoneWithNoEvidence(t *testing.T) {
	sink := &recordingSymbolSink{}
	w := NewBCDWindower(DefaultBCDWindowerConfig(), sink, nil)

	// Second 3 gets no pulses at all from either source.
	w.Advance(lockedFrameTime(3, 0))
	w.Advance(lockedFrameTime(4, 0))

	if len(sink.symbols) != 1 {
		t.Fatalf("expected a SymbolEvent for the empty second, got %d", len(sink.symbols))
	}
	ev := sink.symbols[0]
	if ev.Symbol != wwvclock.SymbolNone {
		t.Fatalf("expected SymbolNone for a second with no pulses, got %v", ev.Symbol)
	}
	if ev.Second != 3 {
		t.Fatalf("expected second 3, got %d", ev.Second)
	}
	if ev.Source != wwvclock.EvidenceNone {
		t.Fatalf("expected EvidenceNone, got %v", ev.Source)
	}
}

// TestBCDWindowerPulsesAtOneTwoNineProduceNoneElsewhere mirrors the
// documented scenario of pulses only at seconds 1, 2 and 9: every other
// second in between must still emit a NONE symbol rather than nothing.
func TestBCDWindowerPulsesAtOneTwoNineProduceNoneElsewhere(t *testing.T) {
	sink := &recordingSymbolSink{}
	w := NewBCDWindower(DefaultBCDWindowerConfig(), sink, nil)

	w.Advance(lockedFrameTime(1, 0))
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 1000, DurationMS: 200, PeakEnergy: 0.01})
	w.Advance(lockedFrameTime(2, 0))
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 2000, DurationMS: 500, PeakEnergy: 0.01})
	w.Advance(lockedFrameTime(3, 0))
	for second := 4; second <= 9; second++ {
		w.Advance(lockedFrameTime(second, 0))
		if second == 9 {
			w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 9000, DurationMS: 800, PeakEnergy: 0.01})
		}
	}
	w.Advance(lockedFrameTime(10, 0))

	if len(sink.symbols) != 9 {
		t.Fatalf("expected one SymbolEvent per second from 1 through 9, got %d", len(sink.symbols))
	}
	want := map[int]wwvclock.Symbol{
		1: wwvclock.SymbolZero,
		2: wwvclock.SymbolOne,
		9: wwvclock.SymbolPMarker,
	}
	for _, ev := range sink.symbols {
		if expected, ok := want[ev.Second]; ok {
			if ev.Symbol != expected {
				t.Errorf("second %d: expected %v, got %v", ev.Second, expected, ev.Symbol)
			}
			continue
		}
		if ev.Symbol != wwvclock.SymbolNone {
			t.Errorf("second %d: expected SymbolNone, got %v", ev.Second, ev.Symbol)
		}
	}
}

func TestBCDWindowerConfidenceIsHighestWithBothSources(t *testing.T) {
	sink := &recordingSymbolSink{}
	w := NewBCDWindower(DefaultBCDWindowerConfig(), sink, nil)

	w.Advance(lockedFrameTime(1, 0))
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 1000, DurationMS: 100, PeakEnergy: 0.01})
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceTime, StartMS: 1190, DurationMS: 100, PeakEnergy: 0.01})
	w.OnBcdPulse(wwvclock.BcdPulseEvent{Source: wwvclock.BcdSourceFreq, StartMS: 1005, DurationMS: 210, PeakEnergy: 0.01})
	w.Advance(lockedFrameTime(2, 0))

	if len(sink.symbols) != 1 {
		t.Fatalf("expected one symbol, got %d", len(sink.symbols))
	}
	if sink.symbols[0].Source != wwvclock.EvidenceBoth {
		t.Fatalf("expected EvidenceBoth, got %v", sink.symbols[0].Source)
	}
	if sink.symbols[0].Confidence != 1.0 {
		t.Fatalf("expected full confidence with both sources, got %v", sink.symbols[0].Confidence)
	}
}
