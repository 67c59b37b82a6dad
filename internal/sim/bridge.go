package sim

import (
	"context"
	"sync"

	"github.com/signalsfoundry/roadnet-ext/core"
	"github.com/signalsfoundry/roadnet-ext/internal/logging"
	"github.com/signalsfoundry/roadnet-ext/kb"
	"github.com/signalsfoundry/roadnet-ext/model"
)

// Bridge forwards road network events into the extension layer's inbound
// API.
type Bridge struct {
	net *kb.RoadNetwork
	ext *core.Extensions
	log logging.Logger

	mu          sync.Mutex
	unsubscribe func()
	forwarded   int
}

// NewBridge subscribes to net and forwards every event to ext until Close.
func NewBridge(net *kb.RoadNetwork, ext *core.Extensions, log logging.Logger) *Bridge {
	if log == nil {
		log = logging.Noop()
	}
	b := &Bridge{net: net, ext: ext, log: log}
	b.unsubscribe = net.Subscribe(b.handle)
	return b
}

func (b *Bridge) handle(ev kb.Event) {
	switch ev.Type {
	case kb.EventSegmentChanged:
		b.ext.SegmentTopologyChanged(ev.Segment)
	case kb.EventNodeChanged:
		b.ext.NodeTopologyChanged(ev.Node)
	case kb.EventVehicleCreated:
		v, ok := b.net.Vehicle(ev.Vehicle)
		if !ok {
			b.log.Warn(context.Background(), "created vehicle vanished before forwarding",
				logging.Uint32("vehicle_id", uint32(ev.Vehicle)))
			return
		}
		b.ext.VehicleCreated(v)
	case kb.EventVehicleReleased:
		b.ext.VehicleReleased(ev.Vehicle)
	default:
		b.log.Debug(context.Background(), "ignoring road network event", logging.String("type", ev.Type.String()))
		return
	}

	b.mu.Lock()
	b.forwarded++
	b.mu.Unlock()
}

// Forwarded returns the number of events passed to the extension layer.
func (b *Bridge) Forwarded() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forwarded
}

// Close stops forwarding. It is safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsub := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// VehicleMoved reports a vehicle position change, which the road network
// does not publish as an event.
func (b *Bridge) VehicleMoved(id model.VehicleID, step RouteStep, next *RouteStep) {
	v, ok := b.net.Vehicle(id)
	if !ok {
		return
	}
	cur := model.PathPosition{Segment: step.Segment, Lane: step.Lane}
	var nextPos model.PathPosition
	if next != nil {
		nextPos = model.PathPosition{Segment: next.Segment, Lane: next.Lane}
	}
	b.ext.VehiclePositionUpdated(v, step.End(), cur, nextPos)
}
