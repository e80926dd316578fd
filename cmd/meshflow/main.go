package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/meshflow/pkg/client"
	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/mcp"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
	"github.com/rmax-ai/meshflow/pkg/reports"
	"github.com/rmax-ai/meshflow/pkg/source"
	"github.com/rmax-ai/meshflow/pkg/store"
	redisstore "github.com/rmax-ai/meshflow/pkg/store/redis"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage: meshflow <command> [flags]

Commands:
  graph                          print nodes and links
  flows [-hide-ambiguous] [-hide-class c]
                                 print active traversals
  pending                        print open aggregation entries
  policy [-repeaters=b] [-endpoints=b]
                                 show or change the resolution policy
  reset                          clear the graph
  report <nodes|links|pending> [-format csv|json]
                                 export graph state
  send <file>                    submit a JSON or JSONL packet file
  contacts import <file.yaml> (-sqlite <path> | -redis <url>)
                                 load contacts into a store
  mcp                            serve the Model Context Protocol on stdio
  version                        print build info

Environment:
  MESHFLOW_URL        daemon URL (default http://127.0.0.1:8090)
  MESHFLOW_API_TOKEN  bearer token for mutating commands
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Print(usage)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var se *client.StatusError
		if !errors.As(err, &se) {
			fmt.Fprintln(os.Stderr, "Is meshflow-d running?")
		}
		os.Exit(1)
	}
}

func newClient() *client.Client {
	c := client.NewClient(os.Getenv("MESHFLOW_URL"))
	c.SetToken(os.Getenv("MESHFLOW_API_TOKEN"))
	return c
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cmd {
	case "graph":
		g, err := newClient().Graph(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d nodes, %d links\n", len(g.Nodes), len(g.Links))
		for _, n := range g.Nodes {
			name := n.Name
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(out, "  %-14s %-9s %s\n", n.ID, n.Class, name)
		}
		for _, l := range g.Links {
			fmt.Fprintf(out, "  %s -- %s  (%s)\n", l.A, l.B, l.LastActivity.Format(time.RFC3339))
		}
		return nil

	case "flows":
		fs := flag.NewFlagSet("flows", flag.ContinueOnError)
		hideAmbiguous := fs.Bool("hide-ambiguous", false, "hide traversals touching unresolved nodes")
		var hidden classList
		fs.Var(&hidden, "hide-class", "hide traversals touching this class (repeater|client), repeatable")
		if err := fs.Parse(args); err != nil {
			return err
		}
		flows, err := newClient().Flows(ctx, client.FlowFilter{HideAmbiguous: *hideAmbiguous, HideClasses: hidden})
		if err != nil {
			return err
		}
		return printJSON(out, flows)

	case "pending":
		entries, err := newClient().Pending(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, entries)

	case "policy":
		return policyCommand(ctx, args, out)

	case "reset":
		if err := newClient().Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Graph reset.")
		return nil

	case "send":
		if len(args) != 1 {
			return errors.New("send needs exactly one file")
		}
		pkts, err := readPackets(ctx, args[0])
		if err != nil {
			return err
		}
		resp, err := newClient().SubmitPackets(ctx, pkts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Accepted %d packets\n", resp.Accepted)
		return printJSON(out, resp.Outcomes)

	case "report":
		return reportCommand(ctx, args, out)

	case "contacts":
		return contactsCommand(ctx, args, out)

	case "mcp":
		return mcp.NewServer(os.Getenv("MESHFLOW_URL"), os.Getenv("MESHFLOW_API_TOKEN")).Serve()

	case "version":
		fmt.Fprintf(out, "meshflow %s (%s, %s)\n", Version, Commit, BuildTime)
		return nil

	case "help", "-h", "--help":
		return flag.ErrHelp
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func policyCommand(ctx context.Context, args []string, out io.Writer) error {
	c := newClient()
	current, err := c.Policy(ctx)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	repeaters := fs.Bool("repeaters", current.ShowAmbiguousRepeaters, "show ambiguous repeaters")
	endpoints := fs.Bool("endpoints", current.ShowAmbiguousEndpoints, "show ambiguous endpoints")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NFlag() == 0 {
		return printJSON(out, current)
	}

	resp, err := c.SetPolicy(ctx, engine.Policy{
		ShowAmbiguousRepeaters: *repeaters,
		ShowAmbiguousEndpoints: *endpoints,
	})
	if err != nil {
		return err
	}
	if resp.Changed {
		fmt.Fprintln(out, "Policy changed; graph was reset.")
	} else {
		fmt.Fprintln(out, "Policy unchanged.")
	}
	return printJSON(out, resp.Policy)
}

func reportCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: meshflow report <nodes|links|pending> [-format csv|json]")
	}

	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	format := fs.String("format", string(reports.ReportFormatCSV), "csv or json")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	gen, err := reports.NewReportGenerator(reports.ReportType(args[0]), newClient())
	if err != nil {
		return err
	}
	r, err := gen.Generate(ctx, reports.ReportFormat(*format))
	if err != nil {
		return err
	}
	_, err = io.Copy(out, r)
	return err
}

func contactsCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 || args[0] != "import" {
		return errors.New("usage: meshflow contacts import <file.yaml> (-sqlite <path> | -redis <url>)")
	}

	fs := flag.NewFlagSet("contacts", flag.ContinueOnError)
	sqlitePath := fs.String("sqlite", "", "SQLite contacts database")
	redisURL := fs.String("redis", "", "Redis URL")
	redisPrefix := fs.String("redis-prefix", "meshflow", "Redis key prefix")
	if err := fs.Parse(args[2:]); err != nil {
		return err
	}

	contacts, err := registry.NewFile(args[1]).Contacts(ctx)
	if err != nil {
		return err
	}

	switch {
	case *sqlitePath != "":
		st, err := store.NewStore(*sqlitePath)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.ImportContacts(ctx, contacts); err != nil {
			return err
		}
	case *redisURL != "":
		opts, err := goredis.ParseURL(*redisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := goredis.NewClient(opts)
		defer rdb.Close()
		cs := redisstore.NewContactStore(rdb, *redisPrefix)
		for _, c := range contacts {
			if err := cs.Set(ctx, c); err != nil {
				return err
			}
		}
	default:
		return errors.New("contacts import needs -sqlite or -redis")
	}

	fmt.Fprintf(out, "Imported %d contacts\n", len(contacts))
	return nil
}

// readPackets accepts a JSON object, a JSON array or JSONL.
func readPackets(ctx context.Context, path string) ([]*packet.Packet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if pkts, err := source.ParseBatch(data); err == nil {
		return pkts, nil
	}

	ch := make(chan *packet.Packet, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(ch)
		_, err := source.ReadAll(ctx, bytes.NewReader(data), ch)
		errCh <- err
	}()

	var pkts []*packet.Packet
	for p := range ch {
		pkts = append(pkts, p)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if len(pkts) == 0 {
		return nil, source.ErrEmptyBatch
	}
	return pkts, nil
}

type classList []graph.NodeClass

func (c *classList) String() string {
	parts := make([]string, len(*c))
	for i, v := range *c {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func (c *classList) Set(v string) error {
	switch graph.NodeClass(v) {
	case graph.ClassRepeater, graph.ClassClient:
		*c = append(*c, graph.NodeClass(v))
		return nil
	}
	return fmt.Errorf("unknown class %q", v)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
