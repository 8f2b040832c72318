// Package strings provides string slice utilities.
package strings

// Dedupe removes duplicates and empty strings from a slice. Order is
// preserved and values are compared exactly.
//
// Example:
//
//	Dedupe([]string{"foo", "bar", "foo", ""})
//	// Returns: []string{"foo", "bar"}
func Dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}

// Union concatenates lists and dedupes the result, keeping first occurrences.
// It returns nil when every list is empty.
func Union(lists ...[]string) []string {
	var all []string
	for _, list := range lists {
		all = append(all, list...)
	}
	if len(all) == 0 {
		return nil
	}
	return Dedupe(all)
}
