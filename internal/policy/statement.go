package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	dErrors "catalogpolicy/pkg/domain-errors"
)

// Statement is one access-control rule. Only Sid is interpreted; the rest of the
// object is kept as compacted JSON and written back exactly as it was read.
type Statement struct {
	sid string
	raw json.RawMessage
}

// NewStatement parses a single statement object. The object must carry a
// non-empty string Sid.
func NewStatement(raw []byte) (Statement, error) {
	return parseStatement(raw, true)
}

// parseStatement reads one statement object. Sid is optional in the policy
// language, so foreign statements from a fetched document may lack one; with
// requireSid unset they parse with an empty Sid, which no owner can claim.
func parseStatement(raw []byte, requireSid bool) (Statement, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Statement{}, dErrors.Wrap(err, dErrors.CodeValidation, "statement is not a JSON object")
	}
	if fields == nil {
		return Statement{}, dErrors.New(dErrors.CodeValidation, "statement is not a JSON object")
	}

	sid, err := statementSid(fields)
	if err != nil && requireSid {
		return Statement{}, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return Statement{}, dErrors.Wrap(err, dErrors.CodeValidation, "statement is not valid JSON")
	}
	return Statement{sid: sid, raw: compact.Bytes()}, nil
}

func statementSid(fields map[string]json.RawMessage) (string, error) {
	sidRaw, ok := fields["Sid"]
	if !ok {
		return "", dErrors.New(dErrors.CodeValidation, "statement has no Sid")
	}
	var sid string
	if err := json.Unmarshal(sidRaw, &sid); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "statement Sid must be a string")
	}
	if strings.TrimSpace(sid) == "" {
		return "", dErrors.New(dErrors.CodeValidation, "statement Sid is empty")
	}
	return sid, nil
}

// MustStatement is NewStatement for literals known to be valid.
func MustStatement(raw string) Statement {
	s, err := NewStatement([]byte(raw))
	if err != nil {
		panic(fmt.Sprintf("policy: invalid statement literal: %v", err))
	}
	return s
}

// Sid returns the statement identifier, or "" for a foreign statement that
// carries none.
func (s Statement) Sid() string {
	return s.sid
}

// Raw returns a copy of the statement's compacted JSON.
func (s Statement) Raw() json.RawMessage {
	return append(json.RawMessage(nil), s.raw...)
}

// IsZero reports whether the statement was never parsed.
func (s Statement) IsZero() bool {
	return s.sid == "" && len(s.raw) == 0
}

func (s Statement) MarshalJSON() ([]byte, error) {
	if s.IsZero() {
		return nil, fmt.Errorf("policy: cannot marshal empty statement")
	}
	return s.Raw(), nil
}

func (s *Statement) UnmarshalJSON(b []byte) error {
	parsed, err := NewStatement(b)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatements parses a JSON array of statements, as supplied by the
// orchestrator in OwnedStatementsJson. Every element needs a unique Sid.
func ParseStatements(data []byte) ([]Statement, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "owned statements must be a JSON array")
	}
	return statementsFromRaw(raws, true)
}

// statementsFromRaw parses raws in order. Sids must be unique among statements
// that have one; requireSid additionally rejects statements without a Sid.
func statementsFromRaw(raws []json.RawMessage, requireSid bool) ([]Statement, error) {
	statements := make([]Statement, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		s, err := parseStatement(raw, requireSid)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("statement %d", i))
		}
		if s.sid == "" {
			statements = append(statements, s)
			continue
		}
		if _, dup := seen[s.sid]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("duplicate Sid %q", s.sid))
		}
		seen[s.sid] = struct{}{}
		statements = append(statements, s)
	}
	return statements, nil
}

// Sids returns the identifiers of statements in order.
func Sids(statements []Statement) []string {
	sids := make([]string, 0, len(statements))
	for _, s := range statements {
		sids = append(sids, s.sid)
	}
	return sids
}
