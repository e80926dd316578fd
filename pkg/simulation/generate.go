package simulation

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
)

// ErrInvalidScenario wraps every scenario validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

const (
	defaultSelfName = "self"
	defaultChannel  = "public"
	defaultMaxHops  = 3
	defaultCopies   = 2
	defaultHopDelay = 150 * time.Millisecond
	routeStagger    = 5 * time.Millisecond
	burstSpacing    = 20 * time.Millisecond
)

// Plan is a fully expanded scenario: the identities to seed a registry with
// and every reception in arrival order.
type Plan struct {
	Self       engine.SelfInfo    `json:"self"`
	Contacts   []registry.Contact `json:"contacts"`
	Receptions []Reception        `json:"receptions"`
	Messages   map[string]uint64  `json:"messages"` // per sender
}

// DeriveKey returns a stable 32-byte public key for a node name.
func DeriveKey(name string) string {
	var b strings.Builder
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&b, "%016x", xxhash.Sum64String(fmt.Sprintf("%s/%d", name, i)))
	}
	return b.String()
}

type topology struct {
	self  NodeSpec
	nodes map[string]NodeSpec
	adj   map[string][]string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidScenario, fmt.Sprintf(format, args...))
}

func (s Scenario) compile() (*topology, error) {
	if s.Duration <= 0 {
		return nil, invalid("duration must be positive")
	}

	t := &topology{
		nodes: make(map[string]NodeSpec),
		adj:   make(map[string][]string),
	}

	self := s.Topology.Self
	if self.Name == "" {
		self.Name = defaultSelfName
	}
	specs := append([]NodeSpec{self}, s.Topology.Nodes...)
	for i, n := range specs {
		if n.Name == "" {
			return nil, invalid("node %d has no name", i)
		}
		if _, dup := t.nodes[n.Name]; dup {
			return nil, invalid("duplicate node %q", n.Name)
		}
		if n.Key == "" {
			n.Key = DeriveKey(n.Name)
		} else if n.Key = packet.NormalizeHex(n.Key); len(n.Key) < 12 {
			return nil, invalid("node %q has an invalid key", n.Name)
		}
		t.nodes[n.Name] = n
		if i == 0 {
			t.self = n
		}
	}

	for _, l := range s.Topology.Links {
		_, okA := t.nodes[l.A]
		_, okB := t.nodes[l.B]
		if !okA || !okB {
			return nil, invalid("link %s-%s references an unknown node", l.A, l.B)
		}
		if l.A == l.B {
			return nil, invalid("link %s-%s is a loop", l.A, l.B)
		}
		t.adj[l.A] = append(t.adj[l.A], l.B)
		t.adj[l.B] = append(t.adj[l.B], l.A)
	}
	for name := range t.adj {
		sort.Strings(t.adj[name])
	}

	for i, snd := range s.Senders {
		if _, ok := t.nodes[snd.Name]; !ok || snd.Name == t.self.Name {
			return nil, invalid("sender %d: %q is not a simulated node", i, snd.Name)
		}
		switch snd.Kind {
		case KindAdvert, KindGroup:
		case KindDirect:
			if _, ok := t.nodes[snd.Target]; snd.Target != "" && !ok {
				return nil, invalid("sender %q targets unknown node %q", snd.Name, snd.Target)
			}
		default:
			return nil, invalid("sender %q has unknown kind %q", snd.Name, snd.Kind)
		}
		switch snd.Behavior {
		case BehaviorPeriodic, BehaviorPoisson, "":
			if snd.Rate <= 0 {
				return nil, invalid("sender %q needs a positive rate", snd.Name)
			}
		case BehaviorBursty:
			if snd.Burst <= 0 {
				return nil, invalid("sender %q needs a positive burst", snd.Name)
			}
		default:
			return nil, invalid("sender %q has unknown behavior %q", snd.Name, snd.Behavior)
		}
	}
	return t, nil
}

// Validate checks the scenario without generating traffic.
func (s Scenario) Validate() error {
	_, err := s.compile()
	return err
}

// routes lists every simple repeater chain from a sender to self, shortest
// first. A route holds the intermediate node names only.
func (t *topology) routes(from string, maxHops int) [][]string {
	var out [][]string
	visited := map[string]bool{from: true}
	var chain []string

	var walk func(at string)
	walk = func(at string) {
		for _, next := range t.adj[at] {
			if next == t.self.Name {
				out = append(out, append([]string(nil), chain...))
				continue
			}
			if visited[next] || len(chain) >= maxHops || t.nodes[next].Role != packet.RoleRepeater {
				continue
			}
			visited[next] = true
			chain = append(chain, next)
			walk(next)
			chain = chain[:len(chain)-1]
			visited[next] = false
		}
	}
	walk(from)

	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return strings.Join(out[i], ",") < strings.Join(out[j], ",")
	})
	return out
}

// sendTimes returns the offsets at which a sender originates messages.
func sendTimes(cfg SenderConfig, rng *rand.Rand, d time.Duration) []time.Duration {
	jitter := func() time.Duration {
		if cfg.Jitter <= 0 {
			return 0
		}
		return time.Duration(rng.Int64N(int64(cfg.Jitter)))
	}

	var out []time.Duration
	switch cfg.Behavior {
	case BehaviorPoisson:
		for at := time.Duration(0); ; {
			at += time.Duration(rng.ExpFloat64() / cfg.Rate * float64(time.Second))
			if at >= d {
				break
			}
			out = append(out, at)
		}
	case BehaviorBursty:
		rate := cfg.Rate
		if rate <= 0 {
			rate = 1
		}
		interval := time.Duration(float64(time.Second) / rate)
		for at := time.Duration(0); at < d; at += interval {
			for k := 0; k < cfg.Burst; k++ {
				if ts := at + time.Duration(k)*burstSpacing + jitter(); ts < d {
					out = append(out, ts)
				}
			}
		}
	default:
		interval := time.Duration(float64(time.Second) / cfg.Rate)
		if interval <= 0 {
			interval = 10 * time.Millisecond
		}
		for at := time.Duration(0); at < d; at += interval {
			if ts := at + jitter(); ts < d {
				out = append(out, ts)
			}
		}
	}
	return out
}

func prefixOf(key string) string {
	return key[:2]
}

// Generate expands s into a Plan. The same scenario always yields the same
// plan, packet ids included.
func Generate(s Scenario) (*Plan, error) {
	t, err := s.compile()
	if err != nil {
		return nil, err
	}

	maxHops := s.Topology.MaxHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	copies := s.Topology.Copies
	if copies <= 0 {
		copies = defaultCopies
	}
	hopDelay := s.Topology.HopDelay
	if hopDelay <= 0 {
		hopDelay = defaultHopDelay
	}

	plan := &Plan{
		Self:     engine.SelfInfo{PublicKey: t.self.Key, Name: t.self.Name},
		Messages: make(map[string]uint64),
	}
	for _, n := range s.Topology.Nodes {
		spec := t.nodes[n.Name]
		plan.Contacts = append(plan.Contacts, registry.Contact{
			PublicKey: spec.Key,
			Name:      spec.Name,
			Role:      spec.Role,
		})
	}

	logger := log.WithFields(log.Fields{"component": "simulation", "scenario": s.Name})

	for idx, snd := range s.Senders {
		routes := t.routes(snd.Name, maxHops)
		if len(routes) == 0 {
			logger.WithField("sender", snd.Name).Warn("sender_unreachable")
		}
		rng := rand.New(rand.NewPCG(uint64(s.Seed), uint64(idx)))
		from := t.nodes[snd.Name]

		for seq, at := range sendTimes(snd, rng, s.Duration) {
			plan.Messages[snd.Name]++
			if len(routes) == 0 {
				continue
			}

			body := []byte(fmt.Sprintf("%s#%d:%08x", snd.Name, seq, rng.Uint32()))
			n := copies
			if n > len(routes) {
				n = len(routes)
			}
			start := rng.IntN(len(routes))

			for i := 0; i < n; i++ {
				route := routes[(start+i)%len(routes)]
				path := make([]string, len(route))
				for h, name := range route {
					path[h] = prefixOf(t.nodes[name].Key)
				}

				pkt := &packet.Packet{
					ID:        fmt.Sprintf("%016x", xxhash.Sum64String(fmt.Sprintf("%d/%s/%d/%d", s.Seed, snd.Name, seq, i))),
					RouteType: packet.RouteFlood,
					Path:      path,
					Payload:   body,
				}
				switch snd.Kind {
				case KindAdvert:
					pkt.PayloadType = packet.PayloadAdvert
					pkt.Source = packet.AddressInfo{PublicKey: from.Key, Name: from.Name, Role: from.Role}
				case KindGroup:
					pkt.PayloadType = packet.PayloadGroupText
					pkt.Channel = snd.Channel
					if pkt.Channel == "" {
						pkt.Channel = defaultChannel
					}
					pkt.Source = packet.AddressInfo{Name: from.Name}
				case KindDirect:
					dst := t.self
					if snd.Target != "" {
						dst = t.nodes[snd.Target]
					}
					pkt.PayloadType = packet.PayloadTextMessage
					pkt.Source = packet.AddressInfo{Prefix: prefixOf(from.Key)}
					pkt.Destination = packet.AddressInfo{Prefix: prefixOf(dst.Key)}
				}

				plan.Receptions = append(plan.Receptions, Reception{
					Offset: at + time.Duration(len(route))*hopDelay + time.Duration(i)*routeStagger,
					Sender: snd.Name,
					Packet: pkt,
				})
			}
		}
	}

	sort.SliceStable(plan.Receptions, func(i, j int) bool {
		a, b := plan.Receptions[i], plan.Receptions[j]
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return a.Packet.ID < b.Packet.ID
	})
	return plan, nil
}
