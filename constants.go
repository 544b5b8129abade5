package wwvclock

// Numeric defaults for the detection pipeline. Every detector accepts
// overrides through its Config struct, validated against documented ranges;
// these are the values used when a caller takes the defaults.
const (
	// Shared adaptive-threshold clamp range (noise floor / baseline).
	NoiseFloorMin = 1e-6
	NoiseFloorMax = 10.0

	// --- Tick detector ---
	TickWarmupFrames          = 50
	TickThresholdMultiplier   = 3.0 // validated range [1, 5]
	TickAdaptDown             = 0.002
	TickAdaptUp               = 0.0002
	TickMinDurationMS         = 2.0 // validated range [1, 10]
	TickMaxDurationMS         = 50.0
	TickGapZoneMaxMS          = 600.0
	TickCorrThresholdMult     = 5.0
	TickMarkerMinDurationMS   = 600.0
	TickMarkerMaxDurationMS   = 1500.0
	TickMarkerMinIntervalMS   = 55000.0
	TickCooldownMS            = 500.0
	TickTemplateMS            = 5.0
	TickCorrelationDecimation = 8
	TickTimingGateHighMS      = 100.0 // gate window is [0, TickTimingGateHighMS]
	TickGateRecoveryMS        = 5000.0
	TickFrameSize             = 256

	// --- Minute-marker detector ---
	MarkerThresholdMultiplier = 3.0   // validated range [2, 5]
	MarkerNoiseAdaptRate      = 0.001 // validated range [1e-4, 1e-2]
	MarkerWarmupAdaptRate     = 0.02
	MarkerMinStartupMS        = 10000.0
	MarkerMaxDurationMS       = 5000.0 // hard ceiling forcing IN_MARKER->COOLDOWN
	MarkerMinDurationMS       = 500.0  // validated range [300, 700]
	MarkerMaxDurationMSCheck  = 1200.0
	MarkerCooldownMS          = 30000.0
	MarkerWindowFrames        = 196 // ~1s of frames at MarkerFrameSize/50kHz
	MarkerFrameSize           = 256
	MarkerBandwidthHz         = 50.0

	// --- BCD time-domain detector ---
	BcdTimeMinDurationMS = 100.0
	BcdTimeMaxDurationMS = 900.0
	BcdTimeMinLowFrames  = 3
	BcdTimeCooldownMS    = 200.0
	BcdTimeFrameSize     = 64

	// --- BCD frequency-domain detector ---
	BcdFreqMaxDurationMS = 2000.0
	BcdFreqFrameSize     = 2048
	BcdFreqWindowFrames  = 8
	BcdFreqBandwidthHz   = 5.0

	// --- Tone tracker ---
	ToneSearchHalfWidthBins = 10
	ToneExclusionGuardBins  = 5
	ToneMinSNRdB            = 10.0

	// --- Tick correlator ---
	TickChainNominalIntervalMS = 1000.0
	TickChainBaseToleranceMS   = 5.0
	TickChainEpochConfidence   = 0.7
	TickChainMinLenForPredict  = 5
	TickChainMaxConsecMisses   = 3

	// --- BCD symbol windower ---
	WindowToleranceMS      = 50.0
	EnergyThresholdLow     = 0.001
	SymbolZeroMaxMS        = 350.0
	SymbolOneMaxMS         = 650.0
	SymbolPMarkerMaxMS     = 900.0
	SymbolMinDetectableMS  = 100.0
	WindowerTrackingStreak = 3

	// --- Sync detector ---
	WeightTick            = 0.15
	ToleranceTickMS        = 10.0
	WeightMarker           = 0.45
	ToleranceMarkerMS      = 30.0
	WeightPMarker          = 0.40
	TolerancePMarkerMS     = 30.0
	WeightTickHole         = 0.20
	ToleranceTickHoleMS    = 10.0
	WeightHoleThenMarker   = 0.65
	ToleranceHoleMarkerMS  = 30.0
	SyncDecayNormalPerSec  = 0.01
	SyncDecayRecoveryPerSec = 0.05
	SyncLockThreshold      = 0.75
	SyncLockStreakMarkers  = 3
	SyncRecoverTimeoutMS   = 90000.0
)

// PMarkerSeconds is the set of second indices where an 800ms pulse is a
// position marker rather than a mis-measured BCD "1".
var PMarkerSeconds = map[int]bool{0: true, 9: true, 19: true, 29: true, 39: true, 49: true, 59: true}

// IsPMarkerSecond reports whether second s is a valid P-marker position.
func IsPMarkerSecond(s int) bool { return PMarkerSeconds[s%60] }

// SilentSeconds is the set of second indices on which no tick is broadcast
// (the minute marker occupies :00, and :29/:59 are silent "tick holes").
var SilentSeconds = map[int]bool{29: true, 59: true}

// IsTickHoleSecond reports whether a tick is expected to be absent at
// second s.
func IsTickHoleSecond(s int) bool { return SilentSeconds[s%60] }
