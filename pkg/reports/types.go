package reports

import (
	"context"
	"io"

	"github.com/rmax-ai/meshflow/pkg/api"
	"github.com/rmax-ai/meshflow/pkg/engine"
)

type ReportType string

const (
	ReportTypeNodes   ReportType = "nodes"
	ReportTypeLinks   ReportType = "links"
	ReportTypePending ReportType = "pending"
)

type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatJSON ReportFormat = "json"
)

// ReportStore defines the data access required by reports. *client.Client
// implements it.
type ReportStore interface {
	Graph(ctx context.Context) (api.GraphResponse, error)
	Pending(ctx context.Context) ([]engine.PendingView, error)
}

type Generator interface {
	Generate(ctx context.Context, format ReportFormat) (io.Reader, error)
}
