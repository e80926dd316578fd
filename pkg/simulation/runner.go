package simulation

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/api"
	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/packet"
)

// Sink accepts generated receptions. *client.Client implements it.
type Sink interface {
	SubmitPackets(ctx context.Context, pkts []*packet.Packet) (api.IngestResponse, error)
}

// LocalSink feeds a runner in-process, without a daemon.
type LocalSink struct {
	Runner *engine.Runner
}

func (l LocalSink) SubmitPackets(ctx context.Context, pkts []*packet.Packet) (api.IngestResponse, error) {
	if err := ctx.Err(); err != nil {
		return api.IngestResponse{}, err
	}
	resp := api.IngestResponse{Accepted: len(pkts), Outcomes: make(map[engine.Outcome]int)}
	for _, o := range l.Runner.IngestBatch(pkts) {
		resp.Outcomes[o]++
	}
	return resp, nil
}

// RunOptions controls how a plan is replayed into a sink.
type RunOptions struct {
	// Speed scales scenario time; 2 replays twice as fast. Zero submits
	// everything as fast as the sink accepts it.
	Speed float64
	// BatchSize bounds the receptions sent per request.
	BatchSize int
}

// RunScenario generates s and replays it into sink. Receptions are batched
// per sender, so outcomes can be attributed.
func RunScenario(ctx context.Context, s Scenario, sink Sink, opts RunOptions) (SimulationResult, error) {
	plan, err := Generate(s)
	if err != nil {
		return SimulationResult{}, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}

	logger := log.WithFields(log.Fields{"component": "simulation", "scenario": s.Name})
	logger.WithFields(log.Fields{
		"seed":       s.Seed,
		"receptions": len(plan.Receptions),
		"speed":      opts.Speed,
	}).Info("scenario_started")

	res := SimulationResult{
		ScenarioName: s.Name,
		Duration:     s.Duration,
		Outcomes:     make(map[engine.Outcome]uint64),
		SenderStats:  make(map[string]*SenderStats),
	}
	for _, snd := range s.Senders {
		res.SenderStats[snd.Name] = &SenderStats{Outcomes: make(map[engine.Outcome]uint64)}
	}
	for name, n := range plan.Messages {
		res.SenderStats[name].Messages = n
		res.TotalMessages += n
	}

	start := time.Now()
	recs := plan.Receptions
	for len(recs) > 0 {
		n := 1
		for n < len(recs) && n < opts.BatchSize && recs[n].Sender == recs[0].Sender &&
			(opts.Speed <= 0 || recs[n].Offset == recs[0].Offset) {
			n++
		}
		batch := recs[:n]
		recs = recs[n:]

		if opts.Speed > 0 {
			due := start.Add(time.Duration(float64(batch[0].Offset) / opts.Speed))
			select {
			case <-time.After(time.Until(due)):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}

		pkts := make([]*packet.Packet, len(batch))
		for i, r := range batch {
			pkts[i] = r.Packet
		}

		st := res.SenderStats[batch[0].Sender]
		st.Receptions += uint64(n)
		res.TotalReceptions += uint64(n)

		resp, err := sink.SubmitPackets(ctx, pkts)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.WithError(err).WithField("sender", batch[0].Sender).Warn("submit_failed")
			st.Errors += uint64(n)
			res.TotalErrors += uint64(n)
			continue
		}
		for o, c := range resp.Outcomes {
			st.Outcomes[o] += uint64(c)
			res.Outcomes[o] += uint64(c)
		}
	}

	evaluateInvariants(&res, s.Invariants)

	res.Success = true
	for _, inv := range res.Invariants {
		if !inv.Passed {
			res.Success = false
			break
		}
	}

	logger.WithFields(log.Fields{
		"messages": res.TotalMessages,
		"errors":   res.TotalErrors,
		"success":  res.Success,
	}).Info("scenario_finished")
	return res, nil
}

// Replay feeds a plan into e on scenario time anchored at start, then
// advances past the last window. It returns every publication in order.
func Replay(e *engine.Engine, start time.Time, plan *Plan) []engine.Publication {
	var pubs []engine.Publication
	now := start
	for _, r := range plan.Receptions {
		now = start.Add(r.Offset)
		pubs = append(pubs, e.Advance(now)...)
		e.Ingest(r.Packet, now)
	}
	return append(pubs, e.Advance(now.Add(e.Config().Window))...)
}

func metricValue(metric string, st SenderStats) (float64, bool) {
	ratio := func(num, den uint64) float64 {
		if den == 0 {
			return 0
		}
		return float64(num) / float64(den)
	}

	switch metric {
	case "merge_rate":
		merged := st.Outcomes[engine.OutcomeMerged]
		return ratio(merged, merged+st.Outcomes[engine.OutcomeStarted]), true
	case "duplicate_rate":
		return ratio(st.Outcomes[engine.OutcomeDuplicate], st.Receptions), true
	case "error_rate":
		return ratio(st.Errors, st.Receptions), true
	case "receptions_per_message":
		return ratio(st.Receptions, st.Messages), true
	}
	return 0, false
}

func evaluateInvariants(res *SimulationResult, invariants []Invariant) {
	for _, inv := range invariants {
		expected := fmt.Sprintf("%s %.2f", inv.Condition, inv.Value)

		var stats SenderStats
		if inv.Scope == "global" || inv.Scope == "" {
			stats = SenderStats{
				Messages:   res.TotalMessages,
				Receptions: res.TotalReceptions,
				Errors:     res.TotalErrors,
				Outcomes:   res.Outcomes,
			}
		} else if s, ok := res.SenderStats[inv.Scope]; ok {
			stats = *s
		} else {
			res.Invariants = append(res.Invariants, InvariantResult{
				Metric: inv.Metric, Scope: inv.Scope, Expected: expected, Actual: "N/A", Passed: false,
			})
			continue
		}

		actual, known := metricValue(inv.Metric, stats)
		if !known {
			res.Invariants = append(res.Invariants, InvariantResult{
				Metric: inv.Metric, Scope: inv.Scope, Expected: expected, Actual: "unknown metric", Passed: false,
			})
			continue
		}

		var passed bool
		switch inv.Condition {
		case ">":
			passed = actual > inv.Value
		case ">=":
			passed = actual >= inv.Value
		case "<":
			passed = actual < inv.Value
		case "<=":
			passed = actual <= inv.Value
		case "==":
			passed = math.Abs(actual-inv.Value) < 0.0001
		}

		res.Invariants = append(res.Invariants, InvariantResult{
			Metric:   inv.Metric,
			Scope:    inv.Scope,
			Expected: expected,
			Actual:   fmt.Sprintf("%.4f", actual),
			Passed:   passed,
		})
	}
}
