package model

import (
	"encoding/json"
	"time"
)

// FailureKind distinguishes why an annotation attempt failed.
type FailureKind string

const (
	// FailureTransport means the remote call itself failed (network,
	// timeout, rate limit, service error).
	FailureTransport FailureKind = "transport"
	// FailureValidation means the call succeeded but the output was
	// unparseable or did not conform to the schema.
	FailureValidation FailureKind = "validation"
)

// Success is a success-ledger entry.
type Success struct {
	Input       *Candidate      `json:"input"`
	Output      json.RawMessage `json:"output"`
	Model       string          `json:"model,omitempty"`
	RunID       string          `json:"run_id,omitempty"`
	AnnotatedAt time.Time       `json:"annotated_at"`
}

// Subject returns the identity of the annotated candidate. Entries without
// an input are not attributable and report false.
func (s Success) Subject() (Identity, bool) {
	if s.Input == nil {
		return "", false
	}
	return s.Input.Identity(), true
}

// Failure is a failure-ledger entry.
type Failure struct {
	Error     string      `json:"error"`
	Kind      FailureKind `json:"error_kind,omitempty"`
	Transient bool        `json:"transient,omitempty"`
	Ex        *Candidate  `json:"ex"`
	RunID     string      `json:"run_id,omitempty"`
	FailedAt  time.Time   `json:"failed_at"`
}

// Subject returns the identity of the failed candidate.
func (f Failure) Subject() (Identity, bool) {
	if f.Ex == nil {
		return "", false
	}
	return f.Ex.Identity(), true
}

// Subject makes a Candidate replayable from its own ledger.
func (c Candidate) Subject() (Identity, bool) {
	return c.Identity(), true
}

// Result is the outcome of exactly one annotation attempt. Exactly one of
// Success and Failure is set.
type Result struct {
	Success *Success
	Failure *Failure
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool {
	return r.Success != nil
}

// Identity returns the identity of the candidate the result belongs to.
func (r Result) Identity() Identity {
	if r.Success != nil {
		id, _ := r.Success.Subject()
		return id
	}
	if r.Failure != nil {
		id, _ := r.Failure.Subject()
		return id
	}
	return ""
}
