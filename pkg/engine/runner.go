package engine

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/layout"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
)

// DefaultTickInterval is the animation cadence.
const DefaultTickInterval = 50 * time.Millisecond

// Stats summarises the state owned by a runner.
type Stats struct {
	Nodes        int       `json:"nodes"`
	Links        int       `json:"links"`
	Pending      int       `json:"pending"`
	Traversals   int       `json:"traversals"`
	Publications uint64    `json:"publications"`
	Ingested     uint64    `json:"ingested"`
	LastTick     time.Time `json:"last_tick"`
}

// Runner owns one Engine and serialises every access to it. Packet
// ingestion and the animation tick run from a single loop, so the engine
// still only ever sees one caller at a time.
type Runner struct {
	mu       sync.Mutex
	engine   *Engine
	interval time.Duration
	clock    func() time.Time
	driver   *layout.Driver
	onPub    func(Publication)
	stats    Stats
	log      *log.Entry
}

// NewRunner wraps e. A non-positive interval uses DefaultTickInterval.
func NewRunner(e *Engine, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Runner{
		engine:   e,
		interval: interval,
		clock:    time.Now,
		log:      log.WithField("component", "runner"),
	}
}

// SetClock replaces the wall clock, for tests.
func (r *Runner) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = now
}

// SetLayout attaches a position solver stepped on every tick. The daemon
// ships without a solver; embedders wrap their Simulator in a layout.Driver
// and attach it here.
func (r *Runner) SetLayout(d *layout.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.driver = d
}

// OnPublish registers a callback invoked, under the runner lock, for every
// publication. The callback must not call back into the runner.
func (r *Runner) OnPublish(fn func(Publication)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPub = fn
}

// Run drives both cadences until ctx is cancelled or packets is closed and
// drained. A nil channel runs the tick loop only.
func (r *Runner) Run(ctx context.Context, packets <-chan *packet.Packet) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithField("interval", r.interval.String()).Info("runner_started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner_stopped")
			return
		case pkt, ok := <-packets:
			if !ok {
				packets = nil
				continue
			}
			r.Ingest(pkt)
		case <-ticker.C:
			r.Step()
		}
	}
}

// Ingest feeds one packet at the current clock time.
func (r *Runner) Ingest(pkt *packet.Packet) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ingestLocked(pkt)
}

// IngestBatch feeds packets in order and returns one outcome per packet.
func (r *Runner) IngestBatch(pkts []*packet.Packet) []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(pkts))
	for i, pkt := range pkts {
		out[i] = r.ingestLocked(pkt)
	}
	return out
}

func (r *Runner) ingestLocked(pkt *packet.Packet) Outcome {
	outcome := r.engine.Ingest(pkt, r.clock())
	r.stats.Ingested++
	r.deliverLocked(r.engine.Advance(r.clock()))
	return outcome
}

// Step publishes due entries, advances the animation and the layout by one
// tick.
func (r *Runner) Step() []Publication {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	pubs := r.engine.Advance(now)
	r.deliverLocked(pubs)
	r.engine.Tick()
	r.stats.LastTick = now

	if r.driver != nil {
		for id, pos := range r.driver.Step(r.engine.Snapshot()) {
			r.engine.SetPosition(id, pos)
		}
	}
	return pubs
}

func (r *Runner) deliverLocked(pubs []Publication) {
	r.stats.Publications += uint64(len(pubs))
	if r.onPub == nil {
		return
	}
	for _, p := range pubs {
		r.onPub(p)
	}
}

// Snapshot returns a copy of the graph.
func (r *Runner) Snapshot() graph.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Snapshot()
}

// Flows returns the visible traversals. A nil filter accepts all nodes.
func (r *Runner) Flows(visible func(id string) bool) []Traversal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Flows(visible)
}

// Pending lists the open aggregation entries.
func (r *Runner) Pending() []PendingView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Pending()
}

// Policy returns the active resolution policy.
func (r *Runner) Policy() Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Policy()
}

// SetPolicy switches the resolution policy, resetting the graph on change.
func (r *Runner) SetPolicy(p Policy) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.SetPolicy(p)
}

// SetRegistry swaps the registry snapshot.
func (r *Runner) SetRegistry(reg registry.Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine.SetRegistry(reg)
}

// Reset clears all non-self state.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine.Reset()
}

// Stats returns counters and sizes.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	snap := r.engine.Snapshot()
	s.Nodes = len(snap.Nodes)
	s.Links = len(snap.Links)
	s.Pending = len(r.engine.Pending())
	s.Traversals = r.engine.ActiveTraversals()
	return s
}

// Close disposes the engine.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine.Dispose()
}
