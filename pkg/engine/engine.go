package engine

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
)

// Outcome describes what happened to one ingested packet.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"   // no parse result
	OutcomeDuplicate Outcome = "duplicate" // raw packet id already processed
	OutcomeNoPath    Outcome = "no_path"   // nothing resolvable besides self
	OutcomeStarted   Outcome = "started"   // opened a new aggregation entry
	OutcomeMerged    Outcome = "merged"    // joined an open aggregation entry
	OutcomeDisposed  Outcome = "disposed"
)

// Publication is one aggregation entry published at its deadline.
type Publication struct {
	ID          string         `json:"id"`
	Key         string         `json:"key"`
	Class       Classification `json:"class"`
	FirstSeen   time.Time      `json:"first_seen"`
	PublishedAt time.Time      `json:"published_at"`
	Paths       []ObservedPath `json:"paths"`
	Traversals  int            `json:"traversals"`
}

// Engine turns a stream of decoded packets into a deduplicated node/link
// graph and a sequence of flow traversals.
//
// An Engine performs no I/O and starts no goroutines; time is always passed
// in by the caller. It is not safe for concurrent use. Separate engines
// share no state.
type Engine struct {
	cfg      Config
	self     SelfInfo
	resolver *Resolver
	builder  *PathBuilder
	graph    *graph.Graph
	window   *window
	flows    *FlowScheduler
	seen     *seenSet
	outbox   []Publication
	metrics  *Metrics
	log      *log.Entry
	disposed bool
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger replaces the default logger entry.
func WithLogger(entry *log.Entry) Option {
	return func(e *Engine) { e.log = entry }
}

// New creates an engine. reg may be nil for an empty registry.
func New(cfg Config, reg registry.Registry, self SelfInfo, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolver := NewResolver(reg, self)
	e := &Engine{
		cfg:      cfg,
		self:     self,
		resolver: resolver,
		builder:  NewPathBuilder(resolver, cfg.Policy),
		graph:    graph.New(cfg.MaxLinks, self.Name),
		window:   newWindow(cfg.Window, cfg.MaxPending),
		flows:    NewFlowScheduler(cfg.FlowSpeed),
		seen:     newSeenSet(cfg.SeenCacheSize),
		log:      log.WithField("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Ingest processes one reception. Entries that expired at or before now are
// published first, so a late sighting never joins an already-due entry.
func (e *Engine) Ingest(pkt *packet.Packet, now time.Time) Outcome {
	outcome := e.ingest(pkt, now)
	e.metrics.packet(outcome)
	e.metrics.observe(e)
	return outcome
}

func (e *Engine) ingest(pkt *packet.Packet, now time.Time) Outcome {
	if e.disposed {
		return OutcomeDisposed
	}
	if pkt == nil {
		return OutcomeSkipped
	}

	e.graph.EnsureSelf(now)
	e.flush(now)

	if pkt.ID != "" && !e.seen.Add(pkt.ID) {
		return OutcomeDuplicate
	}

	path := e.builder.Build(pkt)
	if path.Empty() {
		e.log.WithField("packet_id", pkt.ID).Debug("packet_without_path")
		return OutcomeNoPath
	}
	for _, hop := range path.Hops {
		e.graph.UpsertNode(hop.Update(), now)
	}

	observedAt := pkt.ReceivedAt
	if observedAt.IsZero() {
		observedAt = now
	}
	key := GroupingKey(pkt)
	started, evicted := e.window.Add(key, Classify(pkt), ObservedPath{
		Nodes:       path.IDs(),
		Destination: path.Destination,
		SNR:         pkt.SNR,
		ObservedAt:  observedAt,
	}, now)
	if evicted > 0 {
		e.log.WithFields(log.Fields{"evicted": evicted, "cap": e.cfg.MaxPending}).Debug("pending_entries_evicted")
		e.metrics.evicted("overflow", evicted)
	}
	if started {
		return OutcomeStarted
	}
	return OutcomeMerged
}

// Advance publishes every entry whose deadline is at or before now and
// returns all publications made since the previous call.
func (e *Engine) Advance(now time.Time) []Publication {
	if e.disposed {
		return nil
	}
	e.flush(now)
	out := e.outbox
	e.outbox = nil
	e.metrics.observe(e)
	return out
}

func (e *Engine) flush(now time.Time) {
	for _, p := range e.window.Due(now) {
		e.outbox = append(e.outbox, e.publish(p))
	}
}

// publish creates the links of every stored path and schedules one chain of
// traversals per path. All chains start in the same tick.
func (e *Engine) publish(p *pending) Publication {
	pub := Publication{
		ID:          uuid.NewString(),
		Key:         p.key,
		Class:       p.class,
		FirstSeen:   p.firstSeen,
		PublishedAt: p.deadline,
		Paths:       p.paths,
	}
	for _, path := range p.paths {
		for i := 0; i+1 < len(path.Nodes); i++ {
			e.graph.UpsertLink(path.Nodes[i], path.Nodes[i+1], p.deadline)
		}
		pub.Traversals += e.flows.Schedule(pub.ID, p.class, path.Nodes)
	}
	e.metrics.published(p.class, pub.Traversals)
	e.log.WithFields(log.Fields{
		"key":        p.key,
		"paths":      len(p.paths),
		"traversals": pub.Traversals,
	}).Debug("aggregation_published")
	return pub
}

// Tick advances the animation by one step.
func (e *Engine) Tick() {
	if e.disposed {
		return
	}
	e.flows.Tick()
	e.metrics.observe(e)
}

// NextDeadline returns the earliest pending publish time.
func (e *Engine) NextDeadline() (time.Time, bool) {
	return e.window.NextDeadline()
}

// Policy returns the active resolution policy.
func (e *Engine) Policy() Policy {
	return e.cfg.Policy
}

// SetPolicy switches the resolution policy. A change invalidates every
// resolution made so far and resets the graph. It reports whether the
// policy changed.
func (e *Engine) SetPolicy(p Policy) bool {
	if e.disposed || p == e.cfg.Policy {
		return false
	}
	e.cfg.Policy = p
	e.builder = NewPathBuilder(e.resolver, p)
	e.Reset()
	e.log.WithFields(log.Fields{
		"show_ambiguous_repeaters": p.ShowAmbiguousRepeaters,
		"show_ambiguous_endpoints": p.ShowAmbiguousEndpoints,
	}).Info("policy_changed")
	return true
}

// SetRegistry swaps the registry snapshot used for later resolutions.
// Existing nodes are kept.
func (e *Engine) SetRegistry(reg registry.Registry) {
	if e.disposed {
		return
	}
	e.resolver = NewResolver(reg, e.self)
	e.builder = NewPathBuilder(e.resolver, e.cfg.Policy)
}

// Reset cancels every pending deadline, drops all pending entries and
// traversals, and clears every node except self and every link.
func (e *Engine) Reset() {
	if e.disposed {
		return
	}
	dropped := e.window.Clear()
	e.outbox = nil
	e.flows.Clear()
	e.graph.Reset()
	e.metrics.evicted("reset", dropped)
	e.metrics.observe(e)
	e.log.WithField("dropped_pending", dropped).Info("engine_reset")
}

// Dispose releases all state. The engine ignores every later call.
func (e *Engine) Dispose() {
	if e.disposed {
		return
	}
	e.Reset()
	e.graph = graph.New(e.cfg.MaxLinks, e.self.Name)
	e.seen = newSeenSet(e.cfg.SeenCacheSize)
	e.disposed = true
}

// Disposed reports whether Dispose was called.
func (e *Engine) Disposed() bool {
	return e.disposed
}

// Snapshot returns a copy of the graph.
func (e *Engine) Snapshot() graph.Snapshot {
	return e.graph.Snapshot()
}

// Node returns a copy of one node.
func (e *Engine) Node(id string) (graph.Node, bool) {
	return e.graph.Node(id)
}

// HasLink reports whether the link between a and b is tracked.
func (e *Engine) HasLink(a, b string) bool {
	return e.graph.HasLink(a, b)
}

// SetPosition stores a layout coordinate.
func (e *Engine) SetPosition(id string, pos graph.Position) bool {
	return e.graph.SetPosition(id, pos)
}

// Flows returns the traversals currently on their link whose endpoints pass
// the visibility filter.
func (e *Engine) Flows(visible func(id string) bool) []Traversal {
	return e.flows.Active(visible)
}

// ActiveTraversals returns the number of traversals not yet retired.
func (e *Engine) ActiveTraversals() int {
	return e.flows.Len()
}

// Pending lists the open aggregation entries.
func (e *Engine) Pending() []PendingView {
	return e.window.Views()
}

// ScheduledDeadlines returns the number of live publish deadlines.
func (e *Engine) ScheduledDeadlines() int {
	return e.window.Scheduled()
}
