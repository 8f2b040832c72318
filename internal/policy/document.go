// Package policy models a shared resource-policy document whose statements are
// owned by different parties and identified by Sid.
package policy

import (
	"bytes"
	"encoding/json"
	"slices"

	dErrors "catalogpolicy/pkg/domain-errors"
)

// DefaultVersion is the policy language version written for new documents.
const DefaultVersion = "2012-10-17"

// Document is an ordered collection of statements. Sids are unique among the
// statements that carry one.
//
// Top-level keys other than Version and Statement (for example Id) are kept so a
// document owned by several parties round-trips without loss.
type Document struct {
	Version    string
	Statements []Statement
	extra      map[string]json.RawMessage
}

// NewDocument builds a document with the default version.
func NewDocument(statements ...Statement) *Document {
	return &Document{Version: DefaultVersion, Statements: statements}
}

// ParseDocument decodes a policy document. A single statement object in place
// of the Statement array is accepted and normalized to an array. Statements
// without a Sid are kept as they are; they belong to no owner.
func ParseDocument(data []byte) (*Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "policy document is not a JSON object")
	}

	doc := &Document{}
	if v, ok := fields["Version"]; ok {
		if err := json.Unmarshal(v, &doc.Version); err != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "policy Version must be a string")
		}
		delete(fields, "Version")
	}

	if raw, ok := fields["Statement"]; ok {
		raws, err := statementList(raw)
		if err != nil {
			return nil, err
		}
		doc.Statements, err = statementsFromRaw(raws, false)
		if err != nil {
			return nil, err
		}
		delete(fields, "Statement")
	}

	if len(fields) > 0 {
		doc.extra = make(map[string]json.RawMessage, len(fields))
		for k, v := range fields {
			var compact bytes.Buffer
			if err := json.Compact(&compact, v); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeValidation, "policy document is not valid JSON")
			}
			doc.extra[k] = compact.Bytes()
		}
	}
	return doc, nil
}

func statementList(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return []json.RawMessage{trimmed}, nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "policy Statement must be an object or an array")
	}
	return raws, nil
}

// Marshal returns the canonical encoding: Version first, other top-level keys in
// sorted order, then Statement. Statement bodies are emitted as parsed.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	version := d.Version
	if version == "" {
		version = DefaultVersion
	}
	v, err := json.Marshal(version)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"Version":`)
	buf.Write(v)

	keys := make([]string, 0, len(d.extra))
	for k := range d.extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(d.extra[k])
	}

	buf.WriteString(`,"Statement":[`)
	for i, s := range d.Statements {
		if i > 0 {
			buf.WriteByte(',')
		}
		raw, err := s.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Marshal()
}

func (d *Document) UnmarshalJSON(b []byte) error {
	parsed, err := ParseDocument(b)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// Equal reports whether two documents have identical canonical encodings.
func (d *Document) Equal(other *Document) bool {
	a, errA := d.Marshal()
	b, errB := other.Marshal()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Sids returns the statement identifiers in document order.
func (d *Document) Sids() []string {
	return Sids(d.Statements)
}

// IsEmpty reports whether the document holds no statements.
func (d *Document) IsEmpty() bool {
	return len(d.Statements) == 0
}

// WithStatements returns a copy of d that keeps its version and extra keys but
// carries the given statements.
func (d *Document) WithStatements(statements []Statement) *Document {
	out := &Document{Version: d.Version, Statements: statements}
	if len(d.extra) > 0 {
		out.extra = make(map[string]json.RawMessage, len(d.extra))
		for k, v := range d.extra {
			out.extra[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	return d.WithStatements(slices.Clone(d.Statements))
}
