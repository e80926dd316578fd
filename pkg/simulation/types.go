package simulation

import (
	"time"

	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/packet"
)

// SimulationResult captures the final state of the simulation for reporting
type SimulationResult struct {
	ScenarioName    string                    `json:"scenario_name"`
	Duration        time.Duration             `json:"duration"`
	TotalMessages   uint64                    `json:"total_messages"`
	TotalReceptions uint64                    `json:"total_receptions"`
	TotalErrors     uint64                    `json:"total_errors"`
	Outcomes        map[engine.Outcome]uint64 `json:"outcomes"`
	SenderStats     map[string]*SenderStats   `json:"sender_stats"`
	Invariants      []InvariantResult         `json:"invariants"`
	Success         bool                      `json:"success"`
}

// SenderStats counts what one configured sender produced.
type SenderStats struct {
	Messages   uint64                    `json:"messages"`
	Receptions uint64                    `json:"receptions"`
	Errors     uint64                    `json:"errors"`
	Outcomes   map[engine.Outcome]uint64 `json:"outcomes"`
}

type InvariantResult struct {
	Metric   string `json:"metric"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"` // e.g. "> 0.95"
	Actual   string `json:"actual"`   // e.g. "0.98"
	Passed   bool   `json:"passed"`
}

type Scenario struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Duration    time.Duration  `json:"duration" yaml:"duration"`
	Seed        int64          `json:"seed" yaml:"seed"` // Deterministic seed
	Topology    Topology       `json:"topology" yaml:"topology"`
	Senders     []SenderConfig `json:"senders" yaml:"senders"`
	Invariants  []Invariant    `json:"invariants,omitempty" yaml:"invariants,omitempty"`
}

type Invariant struct {
	Metric    string  `json:"metric" yaml:"metric"`       // e.g., "merge_rate", "duplicate_rate", "error_rate", "receptions_per_message"
	Condition string  `json:"condition" yaml:"condition"` // e.g., ">", "<", ">=", "<="
	Value     float64 `json:"value" yaml:"value"`
	Scope     string  `json:"scope" yaml:"scope"` // "global" or specific sender name
}

// Topology is the simulated radio neighbourhood. Links are undirected; a
// message reaches self along every simple path of at most MaxHops repeaters.
type Topology struct {
	Self     NodeSpec      `json:"self" yaml:"self"`
	Nodes    []NodeSpec    `json:"nodes" yaml:"nodes"`
	Links    []LinkSpec    `json:"links" yaml:"links"`
	MaxHops  int           `json:"max_hops" yaml:"max_hops"`
	Copies   int           `json:"copies" yaml:"copies"`       // routes heard per message
	HopDelay time.Duration `json:"hop_delay" yaml:"hop_delay"` // airtime added per repeater
}

// NodeSpec is one simulated radio. An empty Key is derived from the name.
type NodeSpec struct {
	Name string      `json:"name" yaml:"name"`
	Key  string      `json:"key,omitempty" yaml:"key,omitempty"`
	Role packet.Role `json:"role,omitempty" yaml:"role,omitempty"`
}

type LinkSpec struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
}

// SenderConfig describes the traffic one node originates.
type SenderConfig struct {
	Name     string        `json:"name" yaml:"name"` // node name
	Kind     MessageKind   `json:"kind" yaml:"kind"`
	Channel  string        `json:"channel,omitempty" yaml:"channel,omitempty"`
	Target   string        `json:"target,omitempty" yaml:"target,omitempty"` // direct only; empty means self
	Behavior BehaviorType  `json:"behavior" yaml:"behavior"`
	Rate     float64       `json:"rate" yaml:"rate"` // messages per second
	Burst    int           `json:"burst" yaml:"burst"`
	Jitter   time.Duration `json:"jitter" yaml:"jitter"`
}

type MessageKind string

const (
	KindAdvert MessageKind = "advert"
	KindGroup  MessageKind = "group"
	KindDirect MessageKind = "direct"
)

type BehaviorType string

const (
	BehaviorPeriodic BehaviorType = "periodic"
	BehaviorPoisson  BehaviorType = "poisson"
	BehaviorBursty   BehaviorType = "bursty"
)

// Reception is one packet copy arriving at self, Offset after the start of
// the scenario.
type Reception struct {
	Offset time.Duration  `json:"offset"`
	Sender string         `json:"sender"`
	Packet *packet.Packet `json:"packet"`
}
