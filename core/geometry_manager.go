package core

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/roadnet-ext/core"

// UpdateKind tells which field of a GeometryUpdate is populated.
type UpdateKind uint8

const (
	UpdateSegment UpdateKind = iota + 1
	UpdateNode
	UpdateReplacement
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateSegment:
		return "segment"
	case UpdateNode:
		return "node"
	case UpdateReplacement:
		return "replacement"
	default:
		return "unknown"
	}
}

// GeometryUpdate is published once per settled segment, node or replacement.
// Exactly one of Segment, NodeID and Replacement is set.
type GeometryUpdate struct {
	Segment     *ExtSegment
	NodeID      model.NodeID
	Replacement *SegmentEndReplacement
}

// Kind returns which entity the update is about.
func (u GeometryUpdate) Kind() UpdateKind {
	switch {
	case u.Segment != nil:
		return UpdateSegment
	case u.Replacement != nil:
		return UpdateReplacement
	default:
		return UpdateNode
	}
}

// Subscription is the handle returned by GeometryManager.Subscribe.
type Subscription struct {
	id   uint64
	fn   func(GeometryUpdate)
	m    *GeometryManager
	once sync.Once
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.m == nil {
		return
	}
	s.once.Do(func() { s.m.unsubscribe(s.id) })
}

// GeometryManager batches segment and node changes into dirty bitsets and
// publishes them to subscribers once they settle. Invalidations are always
// published before revalidations and replacements of the same cycle.
type GeometryManager struct {
	// mu guards the dirty flag, both bitsets and the replacement queue for
	// the whole of a settle pass. Methods with a Locked suffix expect it held.
	mu           sync.Mutex
	dirty        bool
	segmentBits  Bitset
	nodeBits     Bitset
	replacements []SegmentEndReplacement

	net      Network
	caps     Capacities
	segments *ExtSegmentStore

	subsMu    sync.RWMutex
	subs      []*Subscription
	nextSubID uint64

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
}

func newGeometryManager(net Network, caps Capacities, segments *ExtSegmentStore, log logging.Logger, metrics MetricsRecorder) *GeometryManager {
	return &GeometryManager{
		segmentBits: NewBitset(caps.MaxSegments),
		nodeBits:    NewBitset(caps.MaxNodes),
		net:         net,
		caps:        caps,
		segments:    segments,
		log:         log,
		metrics:     metrics,
		tracer:      otel.Tracer(tracerName),
	}
}

// Subscribe registers fn for every published update. fn runs on the settling
// goroutine while the manager lock is held, so it must not call back into
// methods that mark or settle.
func (m *GeometryManager) Subscribe(fn func(GeometryUpdate)) *Subscription {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.nextSubID++
	sub := &Subscription{id: m.nextSubID, fn: fn, m: m}
	m.subs = append(m.subs, sub)
	return sub
}

func (m *GeometryManager) unsubscribe(id uint64) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, sub := range m.subs {
		if sub.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			return
		}
	}
}

func (m *GeometryManager) unsubscribeAll() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subs = nil
}

// MarkSegmentUpdated flags a segment and both of its nodes as dirty. A
// segment that is no longer valid is published immediately through a
// first-pass-only settle.
func (m *GeometryManager) MarkSegmentUpdated(seg ExtSegment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markSegmentLocked(seg)
}

func (m *GeometryManager) markSegmentLocked(seg ExtSegment) {
	if !m.caps.segmentInRange(seg.SegmentID) {
		return
	}
	m.segmentBits.Set(uint32(seg.SegmentID))
	raw := m.net.Segment(seg.SegmentID)
	m.markNodeLocked(raw.StartNode)
	m.markNodeLocked(raw.EndNode)
	m.dirty = true

	if !seg.Valid {
		m.settleLocked(context.Background(), true)
	}
}

// MarkNodeUpdated flags a node as dirty, publishing it immediately when the
// node is no longer valid.
func (m *GeometryManager) MarkNodeUpdated(nodeID model.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markNodeLocked(nodeID)
}

func (m *GeometryManager) markNodeLocked(nodeID model.NodeID) {
	if !m.caps.nodeInRange(nodeID) {
		return
	}
	m.nodeBits.Set(uint32(nodeID))
	m.dirty = true

	if !m.net.IsNodeValid(nodeID) {
		m.settleLocked(context.Background(), true)
	}
}

// EnqueueReplacement queues a segment end replacement for the next full
// settle.
func (m *GeometryManager) EnqueueReplacement(r SegmentEndReplacement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replacements = append(m.replacements, r)
	m.dirty = true
}

// MarkAllUpdated flags every valid segment and node as dirty.
func (m *GeometryManager) MarkAllUpdated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := 1; id < m.caps.MaxSegments; id++ {
		if m.segments.IsValid(model.SegmentID(id)) {
			m.segmentBits.Set(uint32(id))
			m.dirty = true
		}
	}
	for id := 1; id < m.caps.MaxNodes; id++ {
		if m.net.IsNodeValid(model.NodeID(id)) {
			m.nodeBits.Set(uint32(id))
			m.dirty = true
		}
	}
}

// Settle resolves every dirty entity and publishes the results. It is a
// no-op while nothing is dirty or the simulation is still editing topology.
func (m *GeometryManager) Settle(ctx context.Context) SettleStats {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleLocked(ctx, false)
}

// settleLocked runs pass 1 (publish invalid entities) and, unless
// firstPassOnly, pass 2 (publish valid entities, keep invalid ones pending).
// Replacements drain only when nothing is pending. Caller must hold m.mu.
func (m *GeometryManager) settleLocked(ctx context.Context, firstPassOnly bool) SettleStats {
	stats := SettleStats{FirstPassOnly: firstPassOnly}
	if !m.dirty {
		return stats
	}
	if !firstPassOnly && m.net.TopologyUpdating() {
		return stats
	}

	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "GeometryManager.Settle", trace.WithAttributes(
		attribute.Bool("first_pass_only", firstPassOnly),
	))
	defer span.End()

	subs := m.subscribers()
	pending := firstPassOnly
	passes := 2
	if firstPassOnly {
		passes = 1
	}

	for pass := 0; pass < passes; pass++ {
		firstPass := pass == 0

		m.segmentBits.forEach(func(id uint32) {
			seg := m.segments.Get(model.SegmentID(id))
			if firstPass == seg.Valid {
				if !firstPass {
					pending = true
				}
				return
			}
			publish(subs, GeometryUpdate{Segment: &seg})
			m.segmentBits.Clear(id)
			stats.Segments++
		})

		m.nodeBits.forEach(func(id uint32) {
			valid := m.net.IsNodeValid(model.NodeID(id))
			if firstPass == valid {
				if !firstPass {
					pending = true
				}
				return
			}
			publish(subs, GeometryUpdate{NodeID: model.NodeID(id)})
			m.nodeBits.Clear(id)
			stats.Nodes++
		})
	}

	stats.Pending = pending
	if !pending {
		queue := m.replacements
		m.replacements = nil
		for i := range queue {
			r := queue[i]
			publish(subs, GeometryUpdate{Replacement: &r})
			stats.Replacements++
		}
		m.dirty = false
	}
	stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("segments", stats.Segments),
		attribute.Int("nodes", stats.Nodes),
		attribute.Int("replacements", stats.Replacements),
		attribute.Bool("pending", stats.Pending),
	)
	if stats.Notifications() > 0 || (stats.Pending && !firstPassOnly) {
		m.log.Debug(ctx, "geometry settled",
			logging.String("cycle_id", logging.NewCycleID()),
			logging.Bool("first_pass_only", firstPassOnly),
			logging.Int("segments", stats.Segments),
			logging.Int("nodes", stats.Nodes),
			logging.Int("replacements", stats.Replacements),
			logging.Bool("pending", stats.Pending),
		)
	}
	m.metrics.RecordSettle(stats)
	return stats
}

func (m *GeometryManager) subscribers() []*Subscription {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return append([]*Subscription(nil), m.subs...)
}

func publish(subs []*Subscription, u GeometryUpdate) {
	for _, sub := range subs {
		sub.fn(u)
	}
}

// Dirty reports whether a settle still has work to do.
func (m *GeometryManager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// PendingReplacements returns the number of queued replacements.
func (m *GeometryManager) PendingReplacements() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replacements)
}

func (m *GeometryManager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segmentBits.Reset()
	m.nodeBits.Reset()
	m.replacements = nil
	m.dirty = false
}
