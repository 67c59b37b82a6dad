package core

import (
	"testing"

	"github.com/signalsfoundry/roadnet-ext/model"
)

func TestBitsetSetClearHas(t *testing.T) {
	b := NewBitset(130)
	for _, id := range []uint32{0, 63, 64, 129} {
		b.Set(id)
	}
	b.Set(500) // beyond capacity, ignored

	if got := b.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
	if !b.Has(64) || b.Has(65) || b.Has(500) {
		t.Fatalf("Has() mismatch: 64=%v 65=%v 500=%v", b.Has(64), b.Has(65), b.Has(500))
	}

	b.Clear(63)
	if b.Has(63) {
		t.Fatalf("Has(63) = true after Clear")
	}

	var seen []uint32
	b.forEach(func(id uint32) { seen = append(seen, id) })
	want := []uint32{0, 64, 129}
	if len(seen) != len(want) {
		t.Fatalf("forEach visited %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("forEach visited %v, want %v", seen, want)
		}
	}

	b.Reset()
	if got := b.Count(); got != 0 {
		t.Fatalf("Count() after Reset = %d, want 0", got)
	}
}

func TestBitsetForEachAllowsClear(t *testing.T) {
	b := NewBitset(256)
	for id := uint32(0); id < 256; id += 3 {
		b.Set(id)
	}
	b.forEach(func(id uint32) { b.Clear(id) })
	if got := b.Count(); got != 0 {
		t.Fatalf("Count() = %d, want 0 after clearing in forEach", got)
	}
}

func TestCapacitiesApplyDefaults(t *testing.T) {
	got := Capacities{MaxNodes: 10}.ApplyDefaults()
	if got.MaxSegments != DefaultMaxSegments || got.MaxNodes != 10 || got.MaxVehicles != DefaultMaxVehicles {
		t.Fatalf("ApplyDefaults() = %+v", got)
	}
}

func TestCapacitiesRange(t *testing.T) {
	c := Capacities{MaxSegments: 4, MaxNodes: 4, MaxVehicles: 4}
	if c.segmentInRange(0) || !c.segmentInRange(3) || c.segmentInRange(4) {
		t.Fatalf("segmentInRange boundaries wrong")
	}
	if c.segmentEndInRange(model.NewSegmentEndID(4, true)) {
		t.Fatalf("segmentEndInRange accepted end of out of range segment")
	}
	if !c.segmentEndInRange(model.NewSegmentEndID(3, false)) {
		t.Fatalf("segmentEndInRange rejected end of segment 3")
	}
}
