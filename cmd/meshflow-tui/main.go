package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/meshflow/pkg/api"
	"github.com/rmax-ai/meshflow/pkg/client"
	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/graph"
)

// Config
const (
	pollRate       = 250 * time.Millisecond
	viewportHeight = 16
	barWidth       = 20
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	selfStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	repeaterStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	clientStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	ambiguousStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

type tickMsg time.Time

type dataMsg struct {
	graph  api.GraphResponse
	flows  []engine.Traversal
	health api.HealthResponse
	err    error
}

type model struct {
	client   *client.Client
	filter   client.FlowFilter
	spinner  spinner.Model
	viewport viewport.Model
	graph    api.GraphResponse
	flows    []engine.Traversal
	health   api.HealthResponse
	err      error
	ready    bool
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func initialModel(c *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		client:   c,
		spinner:  s,
		viewport: newViewport(100),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.client, m.filter),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			m.filter.HideAmbiguous = !m.filter.HideAmbiguous
			return m, fetchData(m.client, m.filter)
		case "r":
			m.filter.HideClasses = toggle(m.filter.HideClasses, graph.ClassRepeater)
			return m, fetchData(m.client, m.filter)
		case "c":
			m.filter.HideClasses = toggle(m.filter.HideClasses, graph.ClassClient)
			return m, fetchData(m.client, m.filter)
		}
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.client, m.filter), tick())

	case dataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.graph = msg.graph
			m.flows = msg.flows
			m.health = msg.health
			m.viewport.SetContent(renderFlows(m.flows))
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func toggle(classes []graph.NodeClass, c graph.NodeClass) []graph.NodeClass {
	out := make([]graph.NodeClass, 0, len(classes)+1)
	found := false
	for _, v := range classes {
		if v == c {
			found = true
			continue
		}
		out = append(out, v)
	}
	if !found {
		out = append(out, c)
	}
	return out
}

func nodeStyle(n graph.Node) lipgloss.Style {
	switch {
	case n.Class == graph.ClassSelf:
		return selfStyle
	case n.Ambiguous:
		return ambiguousStyle
	case n.Class == graph.ClassRepeater:
		return repeaterStyle
	}
	return clientStyle
}

func renderNodes(nodes []graph.Node) string {
	sorted := append([]graph.Node(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Class != sorted[j].Class {
			return sorted[i].Class > sorted[j].Class
		}
		return sorted[i].ID < sorted[j].ID
	})

	var sb strings.Builder
	for _, n := range sorted {
		label := n.Name
		if label == "" && len(n.Candidates) > 0 {
			label = strings.Join(n.Candidates, " | ")
		}
		sb.WriteString(nodeStyle(n).Render(fmt.Sprintf("• %-14s %s", n.ID, label)))
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderFlows(flows []engine.Traversal) string {
	if len(flows) == 0 {
		return subtleStyle.Render("No traffic.")
	}

	var sb strings.Builder
	for _, f := range flows {
		filled := int(f.Progress * barWidth)
		if filled < 0 {
			filled = 0
		}
		if filled > barWidth {
			filled = barWidth
		}
		bar := strings.Repeat("━", filled) + strings.Repeat("·", barWidth-filled)
		color := lipgloss.NewStyle().Foreground(lipgloss.Color(f.Color))
		sb.WriteString(fmt.Sprintf("%-14s %s %-14s %s\n", f.Source, color.Render(bar), f.Target, subtleStyle.Render(string(f.Class))))
	}
	return sb.String()
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting...", m.spinner.View())
	}

	var nodes strings.Builder
	nodes.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Nodes") + "\n\n")
	if len(m.graph.Nodes) == 0 {
		nodes.WriteString(subtleStyle.Render("No nodes yet."))
	} else {
		nodes.WriteString(renderNodes(m.graph.Nodes))
	}
	topPane := paneStyle.Render(nodes.String())

	header := headerStyle.Render(fmt.Sprintf("%s Flows", m.spinner.View()))

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d Nodes • %d Links • %d Pending • %d Flows",
			m.health.Stats.Nodes, m.health.Stats.Links, m.health.Stats.Pending, len(m.flows)))
	}
	filters := fmt.Sprintf("hide ambiguous: %t  hide: %v", m.filter.HideAmbiguous, m.filter.HideClasses)
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\n%s\nq quit • a ambiguous • r repeaters • c clients", status, filters))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, m.viewport.View(), footer)
}

// Commands

func fetchData(c *client.Client, filter client.FlowFilter) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		g, err := c.Graph(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		flows, err := c.Flows(ctx, filter)
		if err != nil {
			return dataMsg{err: err}
		}
		health, err := c.Health(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{graph: g, flows: flows, health: health}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	url := flag.String("url", os.Getenv("MESHFLOW_URL"), "meshflow-d URL")
	flag.Parse()

	p := tea.NewProgram(initialModel(client.NewClient(*url)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
