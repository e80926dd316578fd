package api

import (
	"time"

	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/graph"
)

// GraphResponse is the body of GET /v1/graph.
type GraphResponse struct {
	graph.Snapshot
	GeneratedAt time.Time `json:"generated_at"`
}

// FlowsResponse is the body of GET /v1/flows.
type FlowsResponse struct {
	Traversals  []engine.Traversal `json:"traversals"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// PendingResponse is the body of GET /v1/pending.
type PendingResponse struct {
	Entries []engine.PendingView `json:"entries"`
}

// IngestResponse is the body of POST /v1/packets.
type IngestResponse struct {
	Accepted int                    `json:"accepted"`
	Outcomes map[engine.Outcome]int `json:"outcomes"`
}

// PolicyResponse is the body of GET and POST /v1/policy.
type PolicyResponse struct {
	Policy  engine.Policy `json:"policy"`
	Changed bool          `json:"changed"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status string       `json:"status"`
	Stats  engine.Stats `json:"stats"`
}
