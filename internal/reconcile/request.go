package reconcile

import (
	"fmt"
	"slices"
	"strings"

	"catalogpolicy/internal/policy"
	dErrors "catalogpolicy/pkg/domain-errors"
)

// Operation is the lifecycle event being reconciled.
type Operation string

const (
	Create Operation = "Create"
	Update Operation = "Update"
	Delete Operation = "Delete"
)

// ParseOperation accepts the orchestrator's RequestType values.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown request type %q", s))
	}
	return op, nil
}

func (o Operation) IsValid() bool {
	switch o {
	case Create, Update, Delete:
		return true
	}
	return false
}

// Request asks for one owner's statements to be merged into, or removed from,
// the shared document.
type Request struct {
	Operation Operation
	// OwnedSids is the ownership set used to partition the fetched document.
	// Sids of OwnedStatements are always treated as owned.
	OwnedSids       []string
	OwnedStatements []policy.Statement
	RequestID       string
}

// Validate rejects requests that must fail before any remote call.
func (r Request) Validate() error {
	if !r.Operation.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown request type %q", r.Operation))
	}
	switch r.Operation {
	case Create, Update:
		if len(r.OwnedStatements) == 0 {
			return dErrors.New(dErrors.CodeValidation, "OwnedStatementsJson must contain at least one statement")
		}
	case Delete:
		if len(r.OwnedStatements) > 0 {
			return dErrors.New(dErrors.CodeValidation, "Delete requests carry no statements")
		}
	}

	seen := make(map[string]struct{}, len(r.OwnedStatements))
	for i, st := range r.OwnedStatements {
		if st.IsZero() || st.Sid() == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("statement %d has no Sid", i))
		}
		if _, dup := seen[st.Sid()]; dup {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("duplicate Sid %q", st.Sid()))
		}
		seen[st.Sid()] = struct{}{}
	}
	for _, sid := range r.OwnedSids {
		if strings.TrimSpace(sid) == "" {
			return dErrors.New(dErrors.CodeValidation, "owned Sids must not be empty")
		}
	}
	return nil
}

// Owned returns the ownership set: OwnedSids plus the Sids of OwnedStatements.
func (r Request) Owned() []string {
	owned := slices.Clone(r.OwnedSids)
	for _, sid := range policy.Sids(r.OwnedStatements) {
		if !slices.Contains(owned, sid) {
			owned = append(owned, sid)
		}
	}
	return owned
}

// Failure reasons with fixed wording; the orchestrator shows them verbatim.
const (
	ReasonConflictExhausted = "conflict retry exhausted"
	ReasonDeadlineExceeded  = "deadline exceeded"
)

// Outcome is the terminal result of one invocation.
type Outcome struct {
	Success bool `json:"success"`
	// Reason is set only on failure.
	Reason             string `json:"reason,omitempty"`
	CorrelationID      string `json:"correlationId"`
	PhysicalResourceID string `json:"physicalResourceId"`
	Attempts           int    `json:"attempts"`
	Written            bool   `json:"written"`
}

// Status renders the outcome the way the orchestrator callback expects.
func (o Outcome) Status() string {
	if o.Success {
		return "SUCCESS"
	}
	return "FAILED"
}

// Failed builds a failure outcome for requestID.
func Failed(requestID, reason string) Outcome {
	return Outcome{CorrelationID: requestID, Reason: reason}
}
