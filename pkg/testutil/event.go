package testutil

import (
	"github.com/aws/aws-lambda-go/cfn"
)

// EventOption customizes an invocation built by NewEvent.
type EventOption func(*cfn.Event)

// NewEvent builds an orchestrator invocation with stable correlation ids.
func NewEvent(requestType cfn.RequestType, opts ...EventOption) cfn.Event {
	event := cfn.Event{
		RequestType:        requestType,
		RequestID:          "7bfd7a52-0c4b-4c38-9d0e-4b0f8f3b1a10",
		ResourceType:       "Custom::CatalogResourcePolicy",
		LogicalResourceID:  "CatalogPolicy",
		StackID:            "arn:aws:cloudformation:eu-west-1:123456789012:stack/zero-etl/4a1b2c3d",
		ResourceProperties: map[string]interface{}{},
	}
	for _, opt := range opts {
		opt(&event)
	}
	return event
}

func WithResponseURL(url string) EventOption {
	return func(e *cfn.Event) {
		e.ResponseURL = url
	}
}

func WithRequestID(id string) EventOption {
	return func(e *cfn.Event) {
		e.RequestID = id
	}
}

func WithPhysicalResourceID(id string) EventOption {
	return func(e *cfn.Event) {
		e.PhysicalResourceID = id
	}
}

// WithOwnedStatements sets the OwnedStatementsJson property.
func WithOwnedStatements(json string) EventOption {
	return func(e *cfn.Event) {
		e.ResourceProperties["OwnedStatementsJson"] = json
	}
}

// WithOwnedSids sets the OwnedSids property the way the orchestrator sends
// list properties.
func WithOwnedSids(sids ...string) EventOption {
	return func(e *cfn.Event) {
		e.ResourceProperties["OwnedSids"] = toAny(sids)
	}
}

// WithOldOwnedStatements sets OwnedStatementsJson on the previous properties.
func WithOldOwnedStatements(json string) EventOption {
	return func(e *cfn.Event) {
		if e.OldResourceProperties == nil {
			e.OldResourceProperties = map[string]interface{}{}
		}
		e.OldResourceProperties["OwnedStatementsJson"] = json
	}
}

// WithProperty sets an arbitrary resource property.
func WithProperty(key string, value interface{}) EventOption {
	return func(e *cfn.Event) {
		e.ResourceProperties[key] = value
	}
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
