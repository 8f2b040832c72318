package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "catalogpolicy/pkg/domain-errors"
)

const sharedPolicy = `{
  "Version": "2012-10-17",
  "Id": "catalog-policy",
  "Statement": [
    {"Sid": "A", "Effect": "Allow", "Principal": {"AWS": "arn:aws:iam::111122223333:root"}, "Action": "glue:GetTable", "Resource": "*"},
    {"Sid": "B", "Effect": "Deny",  "Principal": "*", "Action": ["glue:DeleteTable"], "Resource": "*", "Condition": {"Bool": {"aws:SecureTransport": "false"}}}
  ]
}`

func TestParseDocument(t *testing.T) {
	t.Run("keeps statements in order and preserves unknown keys", func(t *testing.T) {
		doc, err := ParseDocument([]byte(sharedPolicy))
		require.NoError(t, err)

		assert.Equal(t, "2012-10-17", doc.Version)
		assert.Equal(t, []string{"A", "B"}, doc.Sids())

		out, err := doc.Marshal()
		require.NoError(t, err)
		assert.Contains(t, string(out), `"Id":"catalog-policy"`)
		assert.Contains(t, string(out), `"Condition":{"Bool":{"aws:SecureTransport":"false"}}`)
	})

	t.Run("single statement object is normalized to an array", func(t *testing.T) {
		doc, err := ParseDocument([]byte(`{"Version":"2012-10-17","Statement":{"Sid":"Only","Effect":"Allow"}}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"Only"}, doc.Sids())

		out, err := doc.Marshal()
		require.NoError(t, err)
		assert.JSONEq(t, `{"Version":"2012-10-17","Statement":[{"Sid":"Only","Effect":"Allow"}]}`, string(out))
	})

	t.Run("duplicate Sid is a validation error", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{"Statement":[{"Sid":"A"},{"Sid":"A"}]}`))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Contains(t, err.Error(), `duplicate Sid "A"`)
	})

	t.Run("statements without Sid are kept verbatim", func(t *testing.T) {
		doc, err := ParseDocument([]byte(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"glue:*"},{"Sid":"A"},{"Effect":"Deny", "Action":"glue:DeleteTable"}]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"", "A", ""}, doc.Sids())

		out, err := doc.Marshal()
		require.NoError(t, err)
		assert.Equal(t, `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"glue:*"},{"Sid":"A"},{"Effect":"Deny","Action":"glue:DeleteTable"}]}`, string(out))
	})

	t.Run("non-string Sid on a fetched statement is kept unowned", func(t *testing.T) {
		doc, err := ParseDocument([]byte(`{"Statement":[{"Sid":7,"Effect":"Allow"}]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{""}, doc.Sids())
	})

	t.Run("non-object statement is rejected", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{"Statement":["Allow"]}`))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("non-object input is rejected", func(t *testing.T) {
		_, err := ParseDocument([]byte(`[]`))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestDocumentMarshalIsCanonical(t *testing.T) {
	a, err := ParseDocument([]byte(`{"Statement":[{"Sid":"X",  "Effect":"Allow"}],"Version":"2012-10-17"}`))
	require.NoError(t, err)
	b, err := ParseDocument([]byte(`{"Version":"2012-10-17","Statement":[{"Sid":"X","Effect":"Allow"}]}`))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))

	out, err := a.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"Version":"2012-10-17","Statement":[{"Sid":"X","Effect":"Allow"}]}`, string(out))
}

func TestDocumentEqualDetectsStatementChanges(t *testing.T) {
	a := NewDocument(MustStatement(`{"Sid":"X","Effect":"Allow"}`))
	b := NewDocument(MustStatement(`{"Sid":"X","Effect":"Deny"}`))
	c := NewDocument(MustStatement(`{"Sid":"X","Effect":"Allow"}`), MustStatement(`{"Sid":"Y"}`))

	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, NewDocument().Equal(NewDocument()))
}

func TestDocumentJSONRoundTripThroughEncodingJSON(t *testing.T) {
	doc := NewDocument(MustStatement(`{"Sid":"X","Action":"glue:*"}`))
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, doc.Equal(&decoded))
}

func TestWithStatementsKeepsMetadata(t *testing.T) {
	doc, err := ParseDocument([]byte(sharedPolicy))
	require.NoError(t, err)

	trimmed := doc.WithStatements(doc.Statements[:1])
	out, err := trimmed.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"Id":"catalog-policy"`)
	assert.Equal(t, []string{"A"}, trimmed.Sids())
	assert.Equal(t, []string{"A", "B"}, doc.Sids(), "original is not modified")
}
