package journal

import (
	"context"
	"time"
)

// Scope names the flow that produced an entry.
type Scope string

const (
	ScopeSettlement Scope = "settlement"
	ScopeRefund     Scope = "refund"
)

// Outcome classifies an entry for operator triage.
type Outcome string

const (
	OutcomeOK Outcome = "ok"
	// OutcomeUnresolvedReference: an authenticated event could not be mapped
	// to a commerce object. Retrying cannot manufacture missing metadata, so
	// the event was acknowledged and parked here.
	OutcomeUnresolvedReference Outcome = "unresolved_reference"
	// OutcomeReconciliationError: money moved on one system but not the
	// other. Requires operator action; never auto-retried.
	OutcomeReconciliationError Outcome = "reconciliation_error"
	OutcomeFailed              Outcome = "failed"
)

// Entry is one recorded settlement or refund outcome. The journal is an
// operator surface only; correctness never depends on it.
type Entry struct {
	Scope      Scope
	Outcome    Outcome
	Reference  string
	OrderID    string
	Detail     string
	RecordedAt time.Time
}

// Recorder accepts entries. Implementations must never fail the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Reader lists recorded entries, newest first.
type Reader interface {
	List(ctx context.Context) []Entry
}
