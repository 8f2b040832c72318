package reconcile

import "catalogpolicy/internal/policy"

// Merge computes the document that should be stored for req given the current
// remote document. A nil current is treated as an empty document.
//
// Statements whose Sid is not owned by req keep their fetched order and bytes.
// A statement without a Sid is never owned.
// Owned statements are dropped from their fetched position and, for Create and
// Update, appended in request order.
func Merge(current *policy.Document, req Request) *policy.Document {
	if current == nil {
		current = policy.NewDocument()
	}

	owned := make(map[string]struct{})
	for _, sid := range req.Owned() {
		owned[sid] = struct{}{}
	}

	statements := make([]policy.Statement, 0, len(current.Statements)+len(req.OwnedStatements))
	for _, st := range current.Statements {
		if _, mine := owned[st.Sid()]; st.Sid() == "" || !mine {
			statements = append(statements, st)
		}
	}
	if req.Operation != Delete {
		statements = append(statements, req.OwnedStatements...)
	}
	return current.WithStatements(statements)
}
