package client

import (
	"fmt"

	"github.com/rmax-ai/meshflow/pkg/graph"
)

// FlowFilter selects which traversal endpoints are visible.
type FlowFilter struct {
	HideAmbiguous bool
	HideClasses   []graph.NodeClass
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500
}
