package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type.
func NewReportGenerator(reportType ReportType, s ReportStore) (Generator, error) {
	switch reportType {
	case ReportTypeNodes:
		return NewNodeReport(s), nil
	case ReportTypeLinks:
		return NewLinkReport(s), nil
	case ReportTypePending:
		return NewPendingReport(s), nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
