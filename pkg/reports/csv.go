package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// table is a report rendered either as CSV rows or as a JSON value.
type table struct {
	headers []string
	rows    [][]string
	value   any
}

func (t table) render(format ReportFormat) (io.Reader, error) {
	buf := &bytes.Buffer{}
	switch format {
	case ReportFormatJSON:
		enc := json.NewEncoder(buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(t.value); err != nil {
			return nil, err
		}
	case ReportFormatCSV, "":
		writer := csv.NewWriter(buf)
		if err := writer.Write(t.headers); err != nil {
			return nil, err
		}
		if err := writer.WriteAll(t.rows); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown report format: %s", format)
	}
	return buf, nil
}
