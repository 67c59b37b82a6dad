package core

import (
	"slices"

	"github.com/signalsfoundry/roadnet-ext/model"
)

// ExtNode mirrors the segment adjacency of a node and stages the segment end
// that most recently detached from it.
type ExtNode struct {
	NodeID     model.NodeID
	SegmentIDs map[model.SegmentID]struct{}

	// RemovedSegmentEndID is set when a segment detaches and consumed when
	// another segment attaches, turning the pair into a replacement.
	RemovedSegmentEndID *model.SegmentEndID
}

// SegmentEndReplacement reports that the segment end Old bound to a node was
// superseded by New within one settle cycle.
type SegmentEndReplacement struct {
	Old model.SegmentEndID
	New model.SegmentEndID
}

// ExtNodeStore keeps one ExtNode per node slot and mediates the segment end
// replacement protocol.
type ExtNodeStore struct {
	net   Network
	caps  Capacities
	nodes []ExtNode

	geometry *GeometryManager
}

func newExtNodeStore(net Network, caps Capacities) *ExtNodeStore {
	s := &ExtNodeStore{
		net:   net,
		caps:  caps,
		nodes: make([]ExtNode, caps.MaxNodes),
	}
	for i := range s.nodes {
		s.nodes[i].NodeID = model.NodeID(i)
	}
	return s
}

// AddSegment attaches segmentID to nodeID. When the membership changes and a
// detached segment end is staged, a replacement is queued instead of a plain
// node update.
func (s *ExtNodeStore) AddSegment(nodeID model.NodeID, segmentID model.SegmentID, startEnd bool) {
	if !s.caps.nodeInRange(nodeID) {
		return
	}
	node := &s.nodes[nodeID]
	if _, ok := node.SegmentIDs[segmentID]; ok {
		return
	}
	if node.SegmentIDs == nil {
		node.SegmentIDs = make(map[model.SegmentID]struct{})
	}
	node.SegmentIDs[segmentID] = struct{}{}

	if node.RemovedSegmentEndID != nil {
		replacement := SegmentEndReplacement{
			Old: *node.RemovedSegmentEndID,
			New: model.NewSegmentEndID(segmentID, startEnd),
		}
		node.RemovedSegmentEndID = nil
		s.geometry.EnqueueReplacement(replacement)
		return
	}
	s.geometry.MarkNodeUpdated(nodeID)
}

// RemoveSegment detaches segmentID from nodeID and stages its segment end for
// a possible replacement.
func (s *ExtNodeStore) RemoveSegment(nodeID model.NodeID, segmentID model.SegmentID, startEnd bool) {
	if !s.caps.nodeInRange(nodeID) {
		return
	}
	node := &s.nodes[nodeID]
	if _, ok := node.SegmentIDs[segmentID]; !ok {
		return
	}
	delete(node.SegmentIDs, segmentID)
	removed := model.NewSegmentEndID(segmentID, startEnd)
	node.RemovedSegmentEndID = &removed
}

// Recalculate drops the adjacency of a node the simulation no longer knows
// and publishes a node update. A node already marked by its segments is not
// marked again, so an invalid node is published once.
func (s *ExtNodeStore) Recalculate(nodeID model.NodeID, alreadyMarked bool) {
	if !s.caps.nodeInRange(nodeID) {
		return
	}
	if !s.net.IsNodeValid(nodeID) {
		s.reset(&s.nodes[nodeID])
	}
	if !alreadyMarked {
		s.geometry.MarkNodeUpdated(nodeID)
	}
}

// MarkDetached publishes a node that lost a segment to another node.
func (s *ExtNodeStore) MarkDetached(nodeID model.NodeID) {
	if !s.caps.nodeInRange(nodeID) {
		return
	}
	s.geometry.MarkNodeUpdated(nodeID)
}

func (s *ExtNodeStore) reset(node *ExtNode) {
	*node = ExtNode{NodeID: node.NodeID}
}

func (s *ExtNodeStore) resetAll() {
	for i := range s.nodes {
		s.reset(&s.nodes[i])
	}
}

// IsValid reports whether the simulation currently knows nodeID.
func (s *ExtNodeStore) IsValid(nodeID model.NodeID) bool {
	return s.caps.nodeInRange(nodeID) && s.net.IsNodeValid(nodeID)
}

// SegmentIDs returns the segments touching nodeID in ascending order.
func (s *ExtNodeStore) SegmentIDs(nodeID model.NodeID) []model.SegmentID {
	if !s.caps.nodeInRange(nodeID) {
		return nil
	}
	ids := make([]model.SegmentID, 0, len(s.nodes[nodeID].SegmentIDs))
	for id := range s.nodes[nodeID].SegmentIDs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// StagedRemoval returns the segment end staged at nodeID, if any.
func (s *ExtNodeStore) StagedRemoval(nodeID model.NodeID) (model.SegmentEndID, bool) {
	if !s.caps.nodeInRange(nodeID) || s.nodes[nodeID].RemovedSegmentEndID == nil {
		return 0, false
	}
	return *s.nodes[nodeID].RemovedSegmentEndID, true
}
