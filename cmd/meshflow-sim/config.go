package main

import (
	"time"

	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/simulation"
)

// defaultScenario is a small two-route neighbourhood used when no scenario
// file is given.
func defaultScenario() simulation.Scenario {
	return simulation.Scenario{
		Name:        "Default Demo",
		Description: "Two clients heard over overlapping repeater chains",
		Duration:    30 * time.Second,
		Seed:        1,
		Topology: simulation.Topology{
			Self: simulation.NodeSpec{Name: "Base"},
			Nodes: []simulation.NodeSpec{
				{Name: "Alice", Role: packet.RoleClient},
				{Name: "Bob", Role: packet.RoleClient},
				{Name: "Hilltop", Role: packet.RoleRepeater},
				{Name: "Harbour", Role: packet.RoleRepeater},
				{Name: "Mill", Role: packet.RoleRepeater},
			},
			Links: []simulation.LinkSpec{
				{A: "Alice", B: "Hilltop"},
				{A: "Alice", B: "Mill"},
				{A: "Bob", B: "Harbour"},
				{A: "Mill", B: "Harbour"},
				{A: "Hilltop", B: "Base"},
				{A: "Harbour", B: "Base"},
			},
			Copies: 2,
		},
		Senders: []simulation.SenderConfig{
			{Name: "Alice", Kind: simulation.KindGroup, Channel: "#public", Behavior: simulation.BehaviorPeriodic, Rate: 0.5, Jitter: 500 * time.Millisecond},
			{Name: "Bob", Kind: simulation.KindDirect, Target: "Alice", Behavior: simulation.BehaviorPoisson, Rate: 0.2},
			{Name: "Hilltop", Kind: simulation.KindAdvert, Behavior: simulation.BehaviorPeriodic, Rate: 0.1},
		},
		Invariants: []simulation.Invariant{
			{Metric: "error_rate", Condition: "==", Value: 0, Scope: "global"},
		},
	}
}
