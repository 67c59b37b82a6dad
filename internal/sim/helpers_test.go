package sim

import (
	"os"
	"testing"

	"github.com/signalsfoundry/roadnet-ext/core"
	"github.com/signalsfoundry/roadnet-ext/kb"
	"github.com/signalsfoundry/roadnet-ext/model"
)

var testCaps = core.Capacities{MaxSegments: 64, MaxNodes: 32, MaxVehicles: 256}

func loadGrid(t *testing.T) *Scenario {
	t.Helper()
	f, err := os.Open("testdata/grid.json")
	if err != nil {
		t.Fatalf("open scenario: %v", err)
	}
	defer f.Close()
	sc, err := LoadScenario(f)
	if err != nil {
		t.Fatalf("LoadScenario() error: %v", err)
	}
	return sc
}

// newHarness wires a network, extensions and bridge, then applies sc so every
// entity reaches the extension layer through the bridge.
func newHarness(t *testing.T, sc *Scenario) (*kb.RoadNetwork, *core.Extensions, *Bridge) {
	t.Helper()
	rn := kb.NewRoadNetwork(testCaps.MaxSegments, testCaps.MaxNodes, testCaps.MaxVehicles)
	ext := core.NewExtensions(rn, testCaps)
	bridge := NewBridge(rn, ext, nil)
	t.Cleanup(bridge.Close)
	if sc != nil {
		if _, err := Apply(rn, sc); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}
	}
	ext.Load(t.Context())
	return rn, ext, bridge
}

func carLanes() []model.Lane {
	return []model.Lane{
		{Type: model.LaneTypeVehicle, Categories: model.VehicleCategoryCar, Direction: model.LaneDirectionForward},
		{Type: model.LaneTypeVehicle, Categories: model.VehicleCategoryCar, Direction: model.LaneDirectionBackward},
	}
}
