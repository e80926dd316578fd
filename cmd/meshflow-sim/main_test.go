package main

import (
	"strings"
	"testing"

	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/simulation"
)

func TestDefaultScenarioIsValid(t *testing.T) {
	s := defaultScenario()
	if err := s.Validate(); err != nil {
		t.Fatalf("default scenario invalid: %v", err)
	}

	plan, err := simulation.Generate(s)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(plan.Receptions) == 0 {
		t.Error("expected receptions from the default scenario")
	}
	if len(plan.Contacts) != len(s.Topology.Nodes) {
		t.Errorf("expected %d contacts, got %d", len(s.Topology.Nodes), len(plan.Contacts))
	}
}

func TestFormatReport(t *testing.T) {
	out := string(formatReport(simulation.SimulationResult{
		ScenarioName:    "demo",
		TotalMessages:   3,
		TotalReceptions: 6,
		Outcomes:        map[engine.Outcome]uint64{engine.OutcomeStarted: 3, engine.OutcomeMerged: 3},
		Invariants: []simulation.InvariantResult{
			{Metric: "error_rate", Scope: "global", Expected: "== 0.00", Actual: "0.0000", Passed: true},
		},
	}))

	for _, want := range []string{"Simulation Report: demo", "Messages: 3 | Receptions: 6", "merged", "[PASS] error_rate"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
