package correlate

import (
	"log"

	"github.com/cwsl/wwvclock"
)

// SymbolSink receives classified BCD symbols, at most one per second.
type SymbolSink interface {
	OnSymbol(wwvclock.SymbolEvent)
}

type windowerState int

const (
	windowerAcquiring windowerState = iota
	windowerTentative
	windowerTracking
)

// BCDWindowerConfig holds the windower's tunables.
type BCDWindowerConfig struct {
	ToleranceMS      float64
	EnergyThreshold  float64
	SymbolZeroMaxMS  float64
	SymbolOneMaxMS   float64
	SymbolPMaxMS     float64
	MinDetectableMS  float64
	TrackingStreak   int
}

// DefaultBCDWindowerConfig returns the windower's defaults.
func DefaultBCDWindowerConfig() BCDWindowerConfig {
	return BCDWindowerConfig{
		ToleranceMS:     wwvclock.WindowToleranceMS,
		EnergyThreshold: wwvclock.EnergyThresholdLow,
		SymbolZeroMaxMS: wwvclock.SymbolZeroMaxMS,
		SymbolOneMaxMS:  wwvclock.SymbolOneMaxMS,
		SymbolPMaxMS:    wwvclock.SymbolPMarkerMaxMS,
		MinDetectableMS: wwvclock.SymbolMinDetectableMS,
		TrackingStreak:  wwvclock.WindowerTrackingStreak,
	}
}

type sourceAccumulator struct {
	count       int
	firstMS     float64
	lastMS      float64
	durationSum float64
	energySum   float64
}

func (a *sourceAccumulator) add(ev wwvclock.BcdPulseEvent) {
	if a.count == 0 {
		a.firstMS = ev.StartMS
	}
	a.lastMS = ev.StartMS
	a.durationSum += ev.DurationMS
	a.energySum += ev.PeakEnergy
	a.count++
}

// BCDWindower classifies a stream of BcdPulseEvents into one Symbol per
// second, anchored to the sync detector's minute anchor. It is driven
// entirely by FrameTime: callers must call Advance on every sync update and
// OnBcdPulse on every detector pulse.
type BCDWindower struct {
	cfg    BCDWindowerConfig
	sink   SymbolSink
	logger *log.Logger

	haveAnchor   bool
	anchorMS     float64
	windowSecond int
	windowOpenMS float64

	time sourceAccumulator
	freq sourceAccumulator

	state          windowerState
	haveSymbols    int
	lastSymbolMS   float64
	haveLastSymbol bool
	trackingStreak int
}

// NewBCDWindower constructs a windower.
func NewBCDWindower(cfg BCDWindowerConfig, sink SymbolSink, logger *log.Logger) *BCDWindower {
	return &BCDWindower{cfg: cfg, sink: sink, logger: logger}
}

// Advance supplies the latest FrameTime from the sync detector, opening and
// closing one-second windows as current_second/minute_anchor_ms evolve.
func (w *BCDWindower) Advance(ft wwvclock.FrameTime) {
	if ft.State != wwvclock.SyncLocked {
		return
	}
	if !w.haveAnchor || ft.MinuteAnchorMS != w.anchorMS {
		if w.haveAnchor {
			w.closeWindow(w.windowSecond)
		}
		w.haveAnchor = true
		w.anchorMS = ft.MinuteAnchorMS
		w.openWindow(ft.CurrentSecond)
		return
	}
	if ft.CurrentSecond == w.windowSecond {
		return
	}
	w.closeWindow(w.windowSecond)
	w.openWindow(ft.CurrentSecond)
}

func (w *BCDWindower) openWindow(second int) {
	w.windowSecond = second
	w.windowOpenMS = w.anchorMS + float64(second)*1000
	w.time = sourceAccumulator{}
	w.freq = sourceAccumulator{}
}

// OnBcdPulse implements detect.BcdPulseSink.
func (w *BCDWindower) OnBcdPulse(ev wwvclock.BcdPulseEvent) {
	if !w.haveAnchor {
		return
	}
	windowStart := w.windowOpenMS - w.cfg.ToleranceMS
	windowEnd := w.windowOpenMS + 1000 + w.cfg.ToleranceMS
	if ev.StartMS < windowStart || ev.StartMS > windowEnd {
		return
	}
	switch ev.Source {
	case wwvclock.BcdSourceTime:
		w.time.add(ev)
	case wwvclock.BcdSourceFreq:
		w.freq.add(ev)
	}
}

// closeWindow is the single canonical window-close implementation: every
// path that ends a second's accumulation (anchor rollover or close below)
// routes through here.
func (w *BCDWindower) closeWindow(second int) {
	durationMS, haveEstimate := estimateDuration(w.time, w.freq)
	if !haveEstimate {
		w.advanceWindowerState(w.windowOpenMS)
		ev := wwvclock.SymbolEvent{
			Symbol:      wwvclock.SymbolNone,
			Second:      second,
			TimestampMS: w.windowOpenMS,
			Source:      wwvclock.EvidenceNone,
		}
		if w.sink != nil {
			w.sink.OnSymbol(ev)
		}
		w.logf("second=%d symbol=%s duration=0ms confidence=0.00", second, wwvclock.SymbolNone)
		return
	}

	sym := classifySymbol(durationMS, second, w.cfg)
	confidence := symbolConfidence(w.time, w.freq, w.cfg)

	source := wwvclock.EvidenceNone
	switch {
	case w.time.count > 0 && w.freq.count > 0:
		source = wwvclock.EvidenceBoth
	case w.time.count > 0:
		source = wwvclock.EvidenceTime
	case w.freq.count > 0:
		source = wwvclock.EvidenceFreq
	}

	w.advanceWindowerState(w.windowOpenMS)

	ev := wwvclock.SymbolEvent{
		Symbol:      sym,
		Second:      second,
		TimestampMS: w.windowOpenMS,
		DurationMS:  durationMS,
		Confidence:  confidence,
		Source:      source,
	}
	if w.sink != nil {
		w.sink.OnSymbol(ev)
	}
	w.logf("second=%d symbol=%s duration=%.1fms confidence=%.2f", second, sym, durationMS, confidence)
}

func (w *BCDWindower) advanceWindowerState(windowOpenMS float64) {
	if w.haveLastSymbol {
		interval := windowOpenMS - w.lastSymbolMS
		if interval >= 900 && interval <= 1100 {
			w.trackingStreak++
		} else {
			w.trackingStreak = 0
		}
	}
	w.lastSymbolMS = windowOpenMS
	w.haveLastSymbol = true
	w.haveSymbols++

	switch {
	case w.trackingStreak >= w.cfg.TrackingStreak:
		w.state = windowerTracking
	case w.haveSymbols >= 1:
		w.state = windowerTentative
	}
}

// estimateDuration implements the windower's per-second duration estimate:
// two-or-more events from a source use last-minus-first; a single event
// uses its own reported duration; with both sources, the two estimates are
// averaged; with neither, there is nothing to classify.
func estimateDuration(time, freq sourceAccumulator) (float64, bool) {
	timeEstimate, haveTime := sourceEstimate(time)
	freqEstimate, haveFreq := sourceEstimate(freq)
	switch {
	case haveTime && haveFreq:
		return (timeEstimate + freqEstimate) / 2, true
	case haveTime:
		return timeEstimate, true
	case haveFreq:
		return freqEstimate, true
	default:
		return 0, false
	}
}

func sourceEstimate(a sourceAccumulator) (float64, bool) {
	switch {
	case a.count >= 2:
		return a.lastMS - a.firstMS, true
	case a.count == 1:
		return a.durationSum, true
	default:
		return 0, false
	}
}

func classifySymbol(durationMS float64, second int, cfg BCDWindowerConfig) wwvclock.Symbol {
	switch {
	case durationMS < cfg.MinDetectableMS:
		return wwvclock.SymbolNone
	case durationMS <= cfg.SymbolZeroMaxMS:
		return wwvclock.SymbolZero
	case durationMS <= cfg.SymbolOneMaxMS:
		return wwvclock.SymbolOne
	default:
		// Both the (650, 900] and >900ms bands are position-gated: only a
		// valid P-marker second may classify as P_MARKER, otherwise the
		// duration overrun is treated as a mis-measured ONE.
		if wwvclock.IsPMarkerSecond(second) {
			return wwvclock.SymbolPMarker
		}
		return wwvclock.SymbolOne
	}
}

func symbolConfidence(time, freq sourceAccumulator, cfg BCDWindowerConfig) float64 {
	confidence := 0.6
	if time.count > 0 && freq.count > 0 {
		confidence = 1.0
	}
	qualityOK := (time.count >= 2 || freq.count >= 2) && (time.energySum+freq.energySum) > cfg.EnergyThreshold
	if !qualityOK {
		confidence /= 2
	}
	return confidence
}

func (w *BCDWindower) logf(format string, args ...interface{}) {
	if w.logger != nil {
		w.logger.Printf("[BCDWindower] "+format, args...)
	}
}
