// Package oracle wraps the external semantic classifier. Every call returns
// a tagged Result; failures never surface as errors to callers.
package oracle

import (
	"context"
)

// Status tags an oracle reply.
type Status string

const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable" // provider down, disabled, timed out, or circuit open
	StatusMalformed   Status = "malformed"   // provider answered with something unusable
)

// Request kinds.
const (
	KindTablePurpose  = "table_purpose"
	KindColumnPurpose = "column_purpose"
	KindRelationship  = "relationship"
	KindTermMatch     = "term_match"
)

// Request asks the oracle one question about a schema element or term.
type Request struct {
	Kind    string         `json:"kind"`
	Subject string         `json:"subject"`           // table, table.column, or query term
	Context map[string]any `json:"context,omitempty"` // columns, sample values, candidate elements
}

// Result is a tagged oracle reply. Label and Confidence are meaningful only
// when Status is StatusOK.
type Result struct {
	Status     Status
	Label      string
	Confidence float64
	Target     string // for term_match: the matched table or table.column
	Reason     string // failure detail for Unavailable/Malformed
}

// OK reports whether the result carries a usable answer.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Unavailable builds an unavailable result.
func Unavailable(reason string) Result {
	return Result{Status: StatusUnavailable, Reason: reason}
}

// Malformed builds a malformed result.
func Malformed(reason string) Result {
	return Result{Status: StatusMalformed, Reason: reason}
}

// Oracle classifies schema elements and terms.
type Oracle interface {
	Classify(ctx context.Context, req Request) Result
	Available() bool
}

// Disabled is the oracle used when none is configured. Every call is
// Unavailable, so callers run on heuristics alone.
type Disabled struct{}

// Classify always reports Unavailable.
func (Disabled) Classify(context.Context, Request) Result {
	return Unavailable("oracle disabled")
}

// Available always reports false.
func (Disabled) Available() bool {
	return false
}

var _ Oracle = Disabled{}
