package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/client"
	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/registry"
	"github.com/rmax-ai/meshflow/pkg/simulation"
)

func main() {
	var (
		scenarioFile string
		apiURL       string
		jsonOutput   bool
		outputFile   string
		contactsOut  string
		speed        float64
		batchSize    int
	)

	flag.StringVar(&scenarioFile, "scenario", "", "Path to scenario YAML file")
	flag.StringVar(&apiURL, "api", "http://127.0.0.1:8090", "Base URL of meshflow-d API")
	flag.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	flag.StringVar(&outputFile, "out", "", "Write output to file instead of stdout")
	flag.StringVar(&contactsOut, "contacts", "", "Write the scenario contacts as a registry YAML file and exit")
	flag.Float64Var(&speed, "speed", 1, "Replay speed; 0 sends everything at once")
	flag.IntVar(&batchSize, "batch", 16, "Receptions per request")
	flag.Parse()

	var scenario simulation.Scenario
	if scenarioFile != "" {
		var err error
		if scenario, err = simulation.LoadScenario(scenarioFile); err != nil {
			log.Fatalf("Failed to load scenario: %v", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "No scenario file provided, running default demo scenario...")
		scenario = defaultScenario()
	}

	if contactsOut != "" {
		plan, err := simulation.Generate(scenario)
		if err != nil {
			log.Fatalf("Failed to generate scenario: %v", err)
		}
		if err := registry.WriteYAML(contactsOut, plan.Contacts); err != nil {
			log.Fatalf("Failed to write contacts: %v", err)
		}
		fmt.Printf("Contacts written to %s (self key %s)\n", contactsOut, plan.Self.PublicKey)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.NewClient(apiURL)
	c.SetToken(os.Getenv("MESHFLOW_API_TOKEN"))

	result, err := simulation.RunScenario(ctx, scenario, c, simulation.RunOptions{Speed: speed, BatchSize: batchSize})
	if err != nil {
		log.Fatalf("Simulation aborted: %v", err)
	}

	writeReport(result, jsonOutput, outputFile)

	if !result.Success {
		os.Exit(1)
	}
}

func writeReport(res simulation.SimulationResult, jsonFmt bool, filePath string) {
	var output []byte
	var err error

	if jsonFmt {
		output, err = json.MarshalIndent(res, "", "  ")
	} else {
		output = formatReport(res)
	}

	if err != nil {
		log.Fatalf("Failed to marshal report: %v", err)
	}

	if filePath != "" {
		if err := os.WriteFile(filePath, output, 0644); err != nil {
			log.Fatalf("Failed to write report to %s: %v", filePath, err)
		}
		fmt.Printf("Report written to %s\n", filePath)
	} else {
		fmt.Println(string(output))
	}
}

func formatReport(res simulation.SimulationResult) []byte {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("\n--- Simulation Report: %s ---\n", res.ScenarioName))
	buf.WriteString(fmt.Sprintf("Duration: %s\n", res.Duration))
	buf.WriteString(fmt.Sprintf("Messages: %d | Receptions: %d | Errors: %d\n",
		res.TotalMessages, res.TotalReceptions, res.TotalErrors))

	outcomes := make([]string, 0, len(res.Outcomes))
	for o := range res.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		buf.WriteString(fmt.Sprintf("  %-10s %d\n", o, res.Outcomes[engine.Outcome(o)]))
	}

	if len(res.Invariants) > 0 {
		buf.WriteString("\nInvariants:\n")
		for _, inv := range res.Invariants {
			status := "FAIL"
			if inv.Passed {
				status = "PASS"
			}
			buf.WriteString(fmt.Sprintf("[%s] %s (%s): Expected %s, Got %s\n", status, inv.Metric, inv.Scope, inv.Expected, inv.Actual))
		}
	}
	return buf.Bytes()
}
