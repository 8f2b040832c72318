package customresource

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/cfn"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/reconcile"
	dErrors "catalogpolicy/pkg/domain-errors"
	platformstrings "catalogpolicy/pkg/platform/strings"
)

// Resource property names understood by the handler.
const (
	PropertyOwnedStatements = "OwnedStatementsJson"
	PropertyOwnedSids       = "OwnedSids"
)

// BuildRequest validates an invocation and turns it into a reconcile.Request.
// Every error carries dErrors.CodeValidation.
//
// A Delete tolerates an unreadable OwnedStatementsJson and releases OwnedSids
// alone: the Create or Update that carried it failed before writing, and
// failing the Delete too would leave the stack stuck in rollback.
func BuildRequest(event cfn.Event) (reconcile.Request, error) {
	op, err := reconcile.ParseOperation(string(event.RequestType))
	if err != nil {
		return reconcile.Request{}, err
	}

	statements, err := ownedStatements(event.ResourceProperties)
	if err != nil && op != reconcile.Delete {
		return reconcile.Request{}, err
	}
	sids, err := ownedSids(event.ResourceProperties)
	if err != nil {
		return reconcile.Request{}, err
	}

	req := reconcile.Request{Operation: op, RequestID: event.RequestID}
	switch op {
	case reconcile.Create:
		req.OwnedStatements = statements
		req.OwnedSids = platformstrings.Union(sids, policy.Sids(statements))
	case reconcile.Update:
		req.OwnedStatements = statements
		req.OwnedSids = platformstrings.Union(sids, policy.Sids(statements), previousSids(event.OldResourceProperties))
	case reconcile.Delete:
		req.OwnedSids = platformstrings.Union(sids, policy.Sids(statements))
	}

	if err := req.Validate(); err != nil {
		return reconcile.Request{}, err
	}
	return req, nil
}

// unreadableStatements reports why a Delete dropped OwnedStatementsJson, or nil.
func unreadableStatements(event cfn.Event) error {
	if event.RequestType != cfn.RequestDelete {
		return nil
	}
	_, err := ownedStatements(event.ResourceProperties)
	return err
}

// ownedStatements reads OwnedStatementsJson. The orchestrator normally sends a
// JSON string; an inline list is accepted too.
func ownedStatements(props map[string]interface{}) ([]policy.Statement, error) {
	raw, ok := props[PropertyOwnedStatements]
	if !ok || raw == nil {
		return nil, nil
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, PropertyOwnedStatements+" is not valid JSON")
		}
		data = encoded
	default:
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s must be a JSON array string, got %T", PropertyOwnedStatements, raw))
	}

	statements, err := policy.ParseStatements(data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid "+PropertyOwnedStatements)
	}
	return statements, nil
}

func ownedSids(props map[string]interface{}) ([]string, error) {
	raw, ok := props[PropertyOwnedSids]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		sids := make([]string, 0, len(v))
		for i, item := range v {
			sid, ok := item.(string)
			if !ok || sid == "" {
				return nil, dErrors.New(dErrors.CodeValidation,
					fmt.Sprintf("%s[%d] must be a non-empty string", PropertyOwnedSids, i))
			}
			sids = append(sids, sid)
		}
		return sids, nil
	default:
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s must be a list of strings, got %T", PropertyOwnedSids, raw))
	}
}

// previousSids returns what the last successful invocation owned. Old
// properties were validated when they were applied, so unreadable values are
// treated as owning nothing.
func previousSids(props map[string]interface{}) []string {
	if props == nil {
		return nil
	}
	statements, err := ownedStatements(props)
	if err != nil {
		statements = nil
	}
	sids, err := ownedSids(props)
	if err != nil {
		sids = nil
	}
	return platformstrings.Union(sids, policy.Sids(statements))
}
