package wwvclock

import "testing"

func TestSyncStateString(t *testing.T) {
	cases := map[SyncState]string{
		SyncSearching:  "SEARCHING",
		SyncAcquiring:  "ACQUIRING",
		SyncLocked:     "LOCKED",
		SyncRecovering: "RECOVERING",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("SyncState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestSymbolString(t *testing.T) {
	cases := map[Symbol]string{
		SymbolNone:    "NONE",
		SymbolZero:    "ZERO",
		SymbolOne:     "ONE",
		SymbolPMarker: "P_MARKER",
	}
	for sym, want := range cases {
		if got := sym.String(); got != want {
			t.Errorf("Symbol(%d).String() = %q, want %q", sym, got, want)
		}
	}
}

func TestEvidenceMaskBitsAreDistinct(t *testing.T) {
	bits := []EvidenceMask{
		EvidenceBitTick,
		EvidenceBitMarker,
		EvidenceBitPMarker,
		EvidenceBitTickHole,
		EvidenceBitHoleThenMarker,
	}
	var combined EvidenceMask
	for _, b := range bits {
		if combined&b != 0 {
			t.Fatalf("evidence bit %d overlaps a previously set bit", b)
		}
		combined |= b
	}
}

func TestStationTickHz(t *testing.T) {
	if got := StationWWV.TickHz(); got != 1000 {
		t.Errorf("StationWWV.TickHz() = %v, want 1000", got)
	}
	if got := StationWWVH.TickHz(); got != 1200 {
		t.Errorf("StationWWVH.TickHz() = %v, want 1200", got)
	}
}
