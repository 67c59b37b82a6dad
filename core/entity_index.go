package core

import (
	"fmt"
	"math/bits"

	"github.com/signalsfoundry/roadnet-ext/model"
)

// Default slot counts of a loaded network. Every store is allocated to these
// sizes once and never resized, so ids stay stable handles for the lifetime
// of the network.
const (
	DefaultMaxSegments = 36864
	DefaultMaxNodes    = 32768
	DefaultMaxVehicles = 16384
)

// Capacities fixes the number of slots per entity kind. Valid ids are in
// [1, Max).
type Capacities struct {
	MaxSegments int
	MaxNodes    int
	MaxVehicles int
}

// DefaultCapacities returns the capacities of a full-size network.
func DefaultCapacities() Capacities {
	return Capacities{
		MaxSegments: DefaultMaxSegments,
		MaxNodes:    DefaultMaxNodes,
		MaxVehicles: DefaultMaxVehicles,
	}
}

// ApplyDefaults fills zero or negative capacities with the defaults.
func (c Capacities) ApplyDefaults() Capacities {
	if c.MaxSegments <= 0 {
		c.MaxSegments = DefaultMaxSegments
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = DefaultMaxNodes
	}
	if c.MaxVehicles <= 0 {
		c.MaxVehicles = DefaultMaxVehicles
	}
	return c
}

func (c Capacities) String() string {
	return fmt.Sprintf("segments=%d nodes=%d vehicles=%d", c.MaxSegments, c.MaxNodes, c.MaxVehicles)
}

func (c Capacities) segmentInRange(id model.SegmentID) bool {
	return id != 0 && int(id) < c.MaxSegments
}

func (c Capacities) nodeInRange(id model.NodeID) bool {
	return id != 0 && int(id) < c.MaxNodes
}

func (c Capacities) vehicleInRange(id model.VehicleID) bool {
	return id != 0 && int(id) < c.MaxVehicles
}

func (c Capacities) segmentEndInRange(id model.SegmentEndID) bool {
	return c.segmentInRange(id.Segment())
}

// Bitset is a fixed-size set of small integer ids stored as 64-bit words.
// Bucket index is id>>6, bit is id&63.
type Bitset struct {
	words []uint64
}

// NewBitset allocates a bitset able to hold ids in [0, size).
func NewBitset(size int) Bitset {
	if size < 0 {
		size = 0
	}
	return Bitset{words: make([]uint64, (size+63)>>6)}
}

// Set marks id. Ids beyond the capacity are ignored.
func (b *Bitset) Set(id uint32) {
	i := int(id >> 6)
	if i >= len(b.words) {
		return
	}
	b.words[i] |= 1 << (id & 63)
}

// Clear unmarks id.
func (b *Bitset) Clear(id uint32) {
	i := int(id >> 6)
	if i >= len(b.words) {
		return
	}
	b.words[i] &^= 1 << (id & 63)
}

// Has reports whether id is marked.
func (b *Bitset) Has(id uint32) bool {
	i := int(id >> 6)
	if i >= len(b.words) {
		return false
	}
	return b.words[i]&(1<<(id&63)) != 0
}

// Count returns the number of marked ids.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Reset unmarks every id.
func (b *Bitset) Reset() {
	clear(b.words)
}

// forEach calls fn for every id marked at the time its word is visited, in
// ascending order. fn may clear the id it is handed.
func (b *Bitset) forEach(fn func(id uint32)) {
	for i := range b.words {
		w := b.words[i]
		for w != 0 {
			bit := uint32(bits.TrailingZeros64(w))
			w &^= 1 << bit
			fn(uint32(i)<<6 | bit)
		}
	}
}
