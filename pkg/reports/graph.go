package reports

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/graph"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// NodeReport lists every node of the graph.
type NodeReport struct {
	store ReportStore
}

func NewNodeReport(s ReportStore) *NodeReport {
	return &NodeReport{store: s}
}

func (r *NodeReport) Generate(ctx context.Context, format ReportFormat) (io.Reader, error) {
	g, err := r.store.Graph(ctx)
	if err != nil {
		return nil, err
	}

	t := table{
		headers: []string{"id", "class", "name", "ambiguous", "candidates", "last_activity"},
		value:   g.Nodes,
	}
	for _, n := range g.Nodes {
		t.rows = append(t.rows, []string{
			n.ID,
			string(n.Class),
			n.Name,
			strconv.FormatBool(n.Ambiguous),
			strings.Join(n.Candidates, ";"),
			formatTime(n.LastActivity),
		})
	}
	return t.render(format)
}

// LinkReport lists every link of the graph.
type LinkReport struct {
	store ReportStore
}

func NewLinkReport(s ReportStore) *LinkReport {
	return &LinkReport{store: s}
}

func (r *LinkReport) Generate(ctx context.Context, format ReportFormat) (io.Reader, error) {
	g, err := r.store.Graph(ctx)
	if err != nil {
		return nil, err
	}

	links := g.Links
	if links == nil {
		links = []graph.Link{}
	}
	t := table{
		headers: []string{"key", "a", "b", "last_activity"},
		value:   links,
	}
	for _, l := range links {
		t.rows = append(t.rows, []string{l.Key, l.A, l.B, formatTime(l.LastActivity)})
	}
	return t.render(format)
}

// PendingReport lists the open aggregation entries.
type PendingReport struct {
	store ReportStore
}

func NewPendingReport(s ReportStore) *PendingReport {
	return &PendingReport{store: s}
}

func (r *PendingReport) Generate(ctx context.Context, format ReportFormat) (io.Reader, error) {
	entries, err := r.store.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []engine.PendingView{}
	}

	t := table{
		headers: []string{"key", "class", "first_seen", "deadline", "paths"},
		value:   entries,
	}
	for _, p := range entries {
		t.rows = append(t.rows, []string{
			p.Key,
			string(p.Class),
			formatTime(p.FirstSeen),
			formatTime(p.Deadline),
			strconv.Itoa(p.Paths),
		})
	}
	return t.render(format)
}
