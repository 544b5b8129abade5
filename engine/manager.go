package engine

import (
	"fmt"
	"log"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/correlate"
	"github.com/cwsl/wwvclock/detect"
	"github.com/cwsl/wwvclock/dsp"
	"github.com/cwsl/wwvclock/framesync"
	"github.com/google/uuid"
)

// Manager owns the full detector graph: the filter front ends, every leaf
// detector, the three correlators, and the sync state machine, plus the
// side channels (Prometheus, CSV/JSON logs, UDP or MQTT telemetry) that
// observe it. It implements every sink interface in the detect, correlate
// and framesync packages so it can sit at the center of the fanout instead
// of each component wiring directly to the next.
type Manager struct {
	cfg    Config
	runID  string
	logger *log.Logger

	metrics   *Metrics
	telemetry TelemetrySink
	tickLog   *CSVEventLog
	markerLog *CSVEventLog
	bcdLog    *CSVEventLog
	syncLog   *JSONLineLog

	syncBandFilter *dsp.ComplexCascade
	reinforce      *dsp.ComplexComb
	dataBandFilter *dsp.ComplexCascade

	tickDetector   *detect.TickDetector
	markerDetector *detect.MarkerDetector
	slowMarker     *detect.SlowMarkerScanner
	bcdTime        *detect.BcdTimeDetector
	bcdFreq        *detect.BcdFreqDetector
	toneCarrier    *detect.ToneTracker
	tone500        *detect.ToneTracker
	tone600        *detect.ToneTracker

	tickCorrelator   *correlate.TickCorrelator
	markerCorrelator *correlate.MarkerCorrelator
	bcdWindower      *correlate.BCDWindower
	sync             *framesync.Detector

	currentMS           float64
	lastTickRejected    int64
	lastBcdFreqRejected int64
}

// NewManager builds the full detector graph from cfg. Logging, Prometheus
// and telemetry sinks are constructed according to cfg and may end up nil
// (disabled); every call site on a nil sink is a no-op.
func NewManager(cfg Config, logger *log.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		runID:  uuid.New().String(),
		logger: logger,
	}

	if cfg.Prometheus.Enabled {
		m.metrics = NewMetrics()
	}

	if err := m.openLogs(cfg.Logging); err != nil {
		return nil, err
	}

	if cfg.MQTT.Enabled {
		sink, err := NewMQTTTelemetrySink(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		m.telemetry = sink
	} else if cfg.Telemetry.Enabled {
		sink, err := NewUDPTelemetrySink(cfg.Telemetry.Addr)
		if err != nil {
			return nil, err
		}
		m.telemetry = sink
	}

	station := cfg.station()
	tickHz := cfg.TickFrequencyHz
	if tickHz == 0 {
		tickHz = station.TickHz()
	}

	m.syncBandFilter = dsp.NewSyncBandFilter(tickHz-100, tickHz+100, cfg.DetectorSampleRateHz)
	m.reinforce = dsp.NewComplexComb(int(cfg.DetectorSampleRateHz/tickHz), 0.95)
	m.dataBandFilter = dsp.NewDataBandFilter(cfg.DataSubcarrierHz+50, cfg.DetectorSampleRateHz)

	m.tickCorrelator = correlate.NewTickCorrelator(correlate.DefaultTickChainConfig(), m, logger)
	m.markerCorrelator = correlate.NewMarkerCorrelator(correlate.DefaultMarkerCorrelatorConfig(), m, logger)
	m.bcdWindower = correlate.NewBCDWindower(correlate.DefaultBCDWindowerConfig(), m, logger)
	m.sync = framesync.NewDetector(framesync.DefaultConfig(), m, logger)

	tickCfg := detect.DefaultTickConfig()
	tickCfg.TickHz = tickHz
	if err := tickCfg.SetThresholdMultiplier(cfg.Tick.ThresholdMultiplier); err != nil {
		return nil, err
	}
	if err := tickCfg.SetMinDurationMS(cfg.Tick.MinDurationMS); err != nil {
		return nil, err
	}
	tickDetector, err := detect.NewTickDetector(cfg.DetectorSampleRateHz, tickCfg, m, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: build tick detector: %w", err)
	}
	m.tickDetector = tickDetector

	markerCfg := detect.DefaultMarkerConfig()
	markerCfg.TickHz = tickHz
	if err := markerCfg.SetThresholdMultiplier(cfg.Marker.ThresholdMultiplier); err != nil {
		return nil, err
	}
	if err := markerCfg.SetNoiseAdaptRate(cfg.Marker.NoiseAdaptRate); err != nil {
		return nil, err
	}
	if err := markerCfg.SetMinDurationMS(cfg.Marker.MinDurationMS); err != nil {
		return nil, err
	}
	markerDetector, err := detect.NewMarkerDetector(cfg.DetectorSampleRateHz, markerCfg, m, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: build marker detector: %w", err)
	}
	m.markerDetector = markerDetector

	slowCfg := detect.DefaultSlowMarkerConfig()
	slowCfg.TickHz = tickHz
	slowMarker, err := detect.NewSlowMarkerScanner(cfg.DetectorSampleRateHz, slowCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: build slow marker scanner: %w", err)
	}
	m.slowMarker = slowMarker

	bcdTimeCfg := detect.DefaultBcdTimeConfig()
	bcdTimeCfg.SubcarrierHz = cfg.DataSubcarrierHz
	bcdTime, err := detect.NewBcdTimeDetector(cfg.DetectorSampleRateHz, bcdTimeCfg, m, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: build bcd time detector: %w", err)
	}
	m.bcdTime = bcdTime

	bcdFreqCfg := detect.DefaultBcdFreqConfig()
	bcdFreqCfg.SubcarrierHz = cfg.DataSubcarrierHz
	bcdFreq, err := detect.NewBcdFreqDetector(cfg.DetectorSampleRateHz, bcdFreqCfg, m, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: build bcd freq detector: %w", err)
	}
	m.bcdFreq = bcdFreq

	toneCarrier, err := detect.NewToneTracker(cfg.DisplaySampleRateHz, detect.DefaultToneConfig(0))
	if err != nil {
		return nil, fmt.Errorf("engine: build carrier tone tracker: %w", err)
	}
	m.toneCarrier = toneCarrier

	tone500, err := detect.NewToneTracker(cfg.DisplaySampleRateHz, detect.DefaultToneConfig(500))
	if err != nil {
		return nil, fmt.Errorf("engine: build 500hz tone tracker: %w", err)
	}
	m.tone500 = tone500

	tone600, err := detect.NewToneTracker(cfg.DisplaySampleRateHz, detect.DefaultToneConfig(600))
	if err != nil {
		return nil, fmt.Errorf("engine: build 600hz tone tracker: %w", err)
	}
	m.tone600 = tone600

	return m, nil
}

func (m *Manager) openLogs(cfg LoggingConfig) error {
	var err error
	if cfg.TickLogPath != "" {
		m.tickLog, err = NewCSVEventLog(cfg.TickLogPath, "tick", m.runID,
			[]string{"kind", "trailing_edge_ms", "duration_ms", "interval_ms", "correlation_ratio"})
		if err != nil {
			return err
		}
	}
	if cfg.MarkerLogPath != "" {
		m.markerLog, err = NewCSVEventLog(cfg.MarkerLogPath, "marker", m.runID,
			[]string{"trailing_edge_ms", "duration_ms", "peak_energy", "baseline"})
		if err != nil {
			return err
		}
	}
	if cfg.BcdLogPath != "" {
		m.bcdLog, err = NewCSVEventLog(cfg.BcdLogPath, "bcd", m.runID,
			[]string{"source", "start_ms", "duration_ms", "snr_db"})
		if err != nil {
			return err
		}
	}
	if cfg.SyncLogPath != "" {
		m.syncLog, err = NewJSONLineLog(cfg.SyncLogPath, m.runID)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes every open log and telemetry sink.
func (m *Manager) Close() error {
	if m.tickLog != nil {
		m.tickLog.Close()
	}
	if m.markerLog != nil {
		m.markerLog.Close()
	}
	if m.bcdLog != nil {
		m.bcdLog.Close()
	}
	if m.syncLog != nil {
		m.syncLog.Close()
	}
	if m.telemetry != nil {
		return m.telemetry.Close()
	}
	return nil
}

// Metrics returns the manager's Prometheus collectors, or nil if disabled.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// RunID returns the UUID tagging this manager's log output.
func (m *Manager) RunID() string { return m.runID }

// PushDetectorSample feeds one sample of the 50kHz detector-rate complex
// baseband stream. The sync-band branch (comb-reinforced) drives the tick,
// marker and slow-marker detectors; the data-band branch drives the two
// BCD pulse detectors. The two branches share no filter state, matching
// the display path's independence from this one.
func (m *Manager) PushDetectorSample(i, q float64) {
	si, sq := m.syncBandFilter.Filter(i, q)
	si, sq = m.reinforce.Process(si, sq)

	m.tickDetector.Process(si, sq)
	m.markerDetector.Process(si, sq)
	if tsMS, above, ok := m.slowMarker.Process(si, sq); ok {
		m.markerCorrelator.OnSlowObservation(tsMS, above)
	}

	di, dq := m.dataBandFilter.Filter(i, q)
	m.bcdTime.Process(di, dq)
	m.bcdFreq.Process(di, dq)

	m.currentMS += 1000.0 / m.cfg.DetectorSampleRateHz
	m.tickCorrelator.Advance(m.currentMS)
	m.sync.Advance(m.currentMS)

	m.pollRejectedCounts()
}

// pollRejectedCounts reports newly-rejected pulses to Prometheus. The leaf
// detectors only expose a running total, so the manager polls once per
// detector-rate sample and reports the delta since the last poll rather than
// instrumenting every rejection path inside detect itself.
func (m *Manager) pollRejectedCounts() {
	if tickRejected := m.tickDetector.RejectedCount(); tickRejected != m.lastTickRejected {
		m.metrics.AddRejected("tick", tickRejected-m.lastTickRejected)
		m.lastTickRejected = tickRejected
	}
	if bcdFreqRejected := m.bcdFreq.RejectedCount(); bcdFreqRejected != m.lastBcdFreqRejected {
		m.metrics.AddRejected("bcd_freq", bcdFreqRejected-m.lastBcdFreqRejected)
		m.lastBcdFreqRejected = bcdFreqRejected
	}
}

// PushDisplaySample feeds one sample of the 12kHz display-rate complex
// baseband stream into the three tone trackers. It deliberately bypasses
// the detector-path filters: tone tracking is an FFT bucket search, not a
// pulse detector, and must never share state with the detection pipeline.
func (m *Manager) PushDisplaySample(i, q float64) {
	if meas, ok := m.toneCarrier.Process(i, q); ok {
		m.publishTelemetry(ChannelCarrier, meas)
	}
	if meas, ok := m.tone500.Process(i, q); ok {
		m.publishTelemetry(ChannelTone500, meas)
	}
	if meas, ok := m.tone600.Process(i, q); ok {
		m.publishTelemetry(ChannelTone600, meas)
	}
}

// OnTick implements detect.TickSink.
func (m *Manager) OnTick(ev wwvclock.TickEvent) {
	m.metrics.IncEvent("tick")
	m.tickCorrelator.OnTick(ev)
	m.sync.OnTick(ev)
	if m.tickLog != nil {
		m.tickLog.WriteRow([]string{"tick",
			ftoa(ev.TrailingEdgeMS), ftoa(ev.DurationMS), ftoa(ev.IntervalSincePrevMS), ftoa(ev.CorrelationRatio)})
	}
	m.publishTelemetry(ChannelTicks, ev)
}

// OnTickMarker implements detect.TickSink.
func (m *Manager) OnTickMarker(ev wwvclock.TickMarkerEvent) {
	m.metrics.IncEvent("tick_marker")
	m.tickCorrelator.OnTickMarker(ev)
	m.sync.OnTickMarker(ev)
	if m.tickLog != nil {
		m.tickLog.WriteRow([]string{"tick_marker",
			ftoa(ev.LeadingEdgeMS), ftoa(ev.DurationMS), ftoa(ev.IntervalSincePrevMS), ftoa(ev.CorrelationRatio)})
	}
	m.publishTelemetry(ChannelTicks, ev)
}

// OnMarker implements detect.MarkerSink.
func (m *Manager) OnMarker(ev wwvclock.MarkerEvent) {
	m.metrics.IncEvent("marker")
	m.markerCorrelator.OnMarker(ev)
	if m.markerLog != nil {
		m.markerLog.WriteRow([]string{
			ftoa(ev.TrailingEdgeMS), ftoa(ev.DurationMS), ftoa(ev.PeakAccumulatedEnergy), ftoa(ev.Baseline)})
	}
}

// OnConfirmedMarker implements correlate.MarkerSink.
func (m *Manager) OnConfirmedMarker(ev wwvclock.MarkerEvent) {
	m.metrics.IncEvent("confirmed_marker")
	m.sync.OnConfirmedMarker(ev)
	m.publishTelemetry(ChannelMarkers, ev)
}

// InstallEpoch implements correlate.EpochSink.
func (m *Manager) InstallEpoch(epochMS float64, source wwvclock.EpochSource, confidence float64) {
	m.tickDetector.InstallEpoch(epochMS, source, confidence)
}

// OnBcdPulse implements detect.BcdPulseSink.
func (m *Manager) OnBcdPulse(ev wwvclock.BcdPulseEvent) {
	m.metrics.IncEvent("bcd_pulse")
	m.bcdWindower.OnBcdPulse(ev)
	if m.bcdLog != nil {
		source := "time"
		if ev.Source == wwvclock.BcdSourceFreq {
			source = "freq"
		}
		m.bcdLog.WriteRow([]string{source, ftoa(ev.StartMS), ftoa(ev.DurationMS), ftoa(ev.SNRdB)})
	}
	m.publishTelemetry(ChannelBcds, ev)
}

// OnSymbol implements correlate.SymbolSink.
func (m *Manager) OnSymbol(ev wwvclock.SymbolEvent) {
	m.metrics.IncEvent("symbol")
	m.sync.OnSymbol(ev)
}

// OnFrameTime implements framesync.FrameTimeSink.
func (m *Manager) OnFrameTime(ft wwvclock.FrameTime) {
	m.bcdWindower.Advance(ft)
	m.metrics.SetSync(ft.State, ft.Confidence)
	if m.syncLog != nil {
		m.syncLog.WriteRecord(ft)
	}
	m.publishTelemetry(ChannelSync, ft)
}

func (m *Manager) publishTelemetry(channel string, payload interface{}) {
	if m.telemetry == nil {
		return
	}
	m.telemetry.Publish(channel, payload)
}

func ftoa(f float64) string {
	return fmt.Sprintf("%.3f", f)
}
