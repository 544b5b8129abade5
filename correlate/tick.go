// Package correlate implements the three components that sit between the
// leaf pulse detectors and the sync state machine: the tick correlator,
// which builds tick chains and disciplines the tick detector's timing gate;
// the marker correlator, which cross-validates fast and slow marker
// evidence; and the BCD symbol windower, which turns a stream of BcdPulseEvents
// into one classified Symbol per second.
package correlate

import (
	"log"
	"math"

	"github.com/cwsl/wwvclock"
	"gonum.org/v1/gonum/stat"
)

// EpochSink receives a disciplined timing epoch from a correlator, in the
// same capability-object style as the leaf detectors' sinks.
type EpochSink interface {
	InstallEpoch(epochMS float64, source wwvclock.EpochSource, confidence float64)
}

// TickChainConfig holds the tick correlator's tunables.
type TickChainConfig struct {
	NominalIntervalMS   float64
	BaseToleranceMS     float64
	ToleranceStdDevMult float64
	EpochConfidence     float64
	MinLenForPredict    int
	MaxConsecutiveMiss  int
	AllowSingleSkip     bool
	IntervalWindow      int
}

// DefaultTickChainConfig returns the tick correlator's defaults.
func DefaultTickChainConfig() TickChainConfig {
	return TickChainConfig{
		NominalIntervalMS:   wwvclock.TickChainNominalIntervalMS,
		BaseToleranceMS:     wwvclock.TickChainBaseToleranceMS,
		ToleranceStdDevMult: 3.0,
		EpochConfidence:     wwvclock.TickChainEpochConfidence,
		MinLenForPredict:    wwvclock.TickChainMinLenForPredict,
		MaxConsecutiveMiss:  wwvclock.TickChainMaxConsecMisses,
		AllowSingleSkip:     false,
		IntervalWindow:      30,
	}
}

// TickChain is the correlator's running state for the chain currently being
// built: length, bounds, and an interval history used for mean/std-dev.
type TickChain struct {
	Length         int
	StartMS        float64
	EndMS          float64
	MinIntervalMS  float64
	MaxIntervalMS  float64
	AvgIntervalMS  float64
	CumulativeDrift float64

	// ConfidenceMultiplier starts at 1.0 and is halved for every single-skip
	// interval the chain absorbs, so a skip-extended chain's epoch
	// confidence never matches an equal-length chain built entirely of
	// directly-observed ticks.
	ConfidenceMultiplier float64

	intervals []float64
}

func newTickChain(startMS float64) *TickChain {
	return &TickChain{Length: 1, StartMS: startMS, EndMS: startMS, ConfidenceMultiplier: 1.0}
}

func (c *TickChain) extend(intervalMS, nowMS, nominalMS float64, window int) {
	c.Length++
	c.EndMS = nowMS
	c.CumulativeDrift += intervalMS - nominalMS
	if c.MinIntervalMS == 0 || intervalMS < c.MinIntervalMS {
		c.MinIntervalMS = intervalMS
	}
	if intervalMS > c.MaxIntervalMS {
		c.MaxIntervalMS = intervalMS
	}
	c.intervals = append(c.intervals, intervalMS)
	if len(c.intervals) > window {
		c.intervals = c.intervals[len(c.intervals)-window:]
	}
	c.AvgIntervalMS = stat.Mean(c.intervals, nil)
}

func (c *TickChain) stdDev() float64 {
	if len(c.intervals) < 2 {
		return 0
	}
	_, std := stat.MeanStdDev(c.intervals, nil)
	return std
}

// TickCorrelator consumes TickEvents, builds tick chains with tolerance
// widening from observed jitter, tracks predictions, and installs a timing
// epoch on the tick detector once a chain's length and consistency cross a
// confidence threshold.
type TickCorrelator struct {
	cfg    TickChainConfig
	sink   EpochSink
	logger *log.Logger

	chain          *TickChain
	haveLastTick   bool
	lastTickMS     float64
	consecMisses   int
	predictedNextMS float64
	havePrediction bool
	epochInstalled bool
}

// NewTickCorrelator constructs a correlator publishing to sink (may be nil
// to run the chain statistics without driving a timing gate).
func NewTickCorrelator(cfg TickChainConfig, sink EpochSink, logger *log.Logger) *TickCorrelator {
	return &TickCorrelator{cfg: cfg, sink: sink, logger: logger}
}

// OnTick implements detect.TickSink, feeding a new tick into the chain.
func (c *TickCorrelator) OnTick(ev wwvclock.TickEvent) {
	now := ev.TrailingEdgeMS
	if !c.haveLastTick {
		c.haveLastTick = true
		c.lastTickMS = now
		c.chain = newTickChain(now)
		return
	}

	interval := now - c.lastTickMS
	c.lastTickMS = now

	mean := c.cfg.NominalIntervalMS
	tolerance := c.cfg.BaseToleranceMS
	if c.chain != nil && len(c.chain.intervals) >= 2 {
		mean = c.chain.AvgIntervalMS
		tolerance = c.cfg.BaseToleranceMS + c.cfg.ToleranceStdDevMult*c.chain.stdDev()
	}

	switch {
	case math.Abs(interval-mean) <= tolerance:
		c.chain.extend(interval, now, c.cfg.NominalIntervalMS, c.cfg.IntervalWindow)
		c.consecMisses = 0
	case c.cfg.AllowSingleSkip && math.Abs(interval-2*mean) <= 2*tolerance:
		// A single missed tick: treat as one extension at half the usual
		// confidence contribution rather than closing the chain.
		c.chain.extend(interval, now, c.cfg.NominalIntervalMS, c.cfg.IntervalWindow)
		c.chain.ConfidenceMultiplier *= 0.5
		c.consecMisses = 0
		c.logf("chain len=%d absorbed a single-skip interval=%.1fms, confidence multiplier now %.3f", c.chain.Length, interval, c.chain.ConfidenceMultiplier)
	default:
		c.logf("chain closed len=%d avg=%.2fms std=%.2fms, new interval=%.1fms", c.chain.Length, mean, c.chain.stdDev(), interval)
		c.chain = newTickChain(now)
		c.havePrediction = false
		c.epochInstalled = false
	}

	c.updatePrediction()
	c.maybeInstallEpoch()
}

// OnTickMarker implements detect.TickSink; the correlator tracks only plain
// ticks, so marker classifications are ignored here.
func (c *TickCorrelator) OnTickMarker(wwvclock.TickMarkerEvent) {}

// Advance lets the manager report elapsed time so the correlator can detect
// a missed predicted tick even though no OnTick call has arrived.
func (c *TickCorrelator) Advance(nowMS float64) {
	if !c.havePrediction || c.chain == nil {
		return
	}
	for nowMS > c.predictedNextMS+c.cfg.BaseToleranceMS*4 {
		c.consecMisses++
		c.predictedNextMS += c.chain.AvgIntervalMS
		if c.consecMisses >= c.cfg.MaxConsecutiveMiss {
			c.logf("chain abandoned after %d consecutive misses", c.consecMisses)
			c.chain = nil
			c.haveLastTick = false
			c.havePrediction = false
			c.consecMisses = 0
			c.epochInstalled = false
			return
		}
	}
}

func (c *TickCorrelator) updatePrediction() {
	if c.chain == nil || c.chain.Length < c.cfg.MinLenForPredict {
		c.havePrediction = false
		return
	}
	consistency := consistencyScore(c.chain.stdDev(), c.chain.AvgIntervalMS)
	if consistency < 0.5 {
		c.havePrediction = false
		return
	}
	c.predictedNextMS = c.chain.EndMS + c.chain.AvgIntervalMS
	c.havePrediction = true
}

func (c *TickCorrelator) maybeInstallEpoch() {
	if c.sink == nil || c.chain == nil {
		return
	}
	consistency := consistencyScore(c.chain.stdDev(), c.chain.AvgIntervalMS)
	lengthScore := math.Min(1.0, float64(c.chain.Length)/float64(c.cfg.MinLenForPredict))
	confidence := lengthScore * consistency * c.chain.ConfidenceMultiplier
	if confidence < c.cfg.EpochConfidence {
		return
	}
	epochMS := math.Mod(c.chain.EndMS, 1000)
	if epochMS < 0 {
		epochMS += 1000
	}
	c.sink.InstallEpoch(epochMS, wwvclock.EpochSourceTickChain, confidence)
	c.epochInstalled = true
	c.logf("epoch installed epoch_ms=%.1f confidence=%.2f chain_len=%d", epochMS, confidence, c.chain.Length)
}

// consistencyScore maps jitter (std-dev as a fraction of the mean interval)
// to a [0,1] score, 1 being perfectly regular.
func consistencyScore(stdDev, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	ratio := stdDev / mean
	score := 1 - ratio*20
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (c *TickCorrelator) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf("[TickCorrelator] "+format, args...)
	}
}
