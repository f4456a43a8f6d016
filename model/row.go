// Package model holds the data shapes exchanged with the Moltbook API and
// the records written to the JSONL outputs.
//
// Listing endpoints on the platform do not agree on a payload envelope: some
// return a bare JSON array, others wrap the rows under "data", "results" or
// similar keys. Rows therefore stay dynamic (map-backed) and are read through
// the helpers in this file instead of being decoded into rigid structs.
package model

// listKeys are the wrapper keys probed, in order, when a payload nests its
// row list inside an object.
var listKeys = [...]string{"data", "results", "items", "posts", "comments", "submolts"}

// Row is a single JSON object returned by the API.
type Row = map[string]any

// ExtractList pulls the row list out of a decoded payload. The second return
// value reports whether a recognizable list shape was found at all; an empty
// but present list is a valid, non-ambiguous result.
func ExtractList(payload any) ([]Row, bool) {
	switch v := payload.(type) {
	case []any:
		return toRows(v), true
	case map[string]any:
		for _, key := range listKeys {
			if raw, ok := v[key].([]any); ok {
				return toRows(raw), true
			}
		}
	}
	return nil, false
}

func toRows(raw []any) []Row {
	rows := make([]Row, 0, len(raw))
	for _, item := range raw {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// HasMore reads the optional pagination.hasMore flag. The second return value
// reports whether the endpoint sent one.
func HasMore(payload any) (bool, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return false, false
	}
	pagination, ok := obj["pagination"].(map[string]any)
	if !ok {
		return false, false
	}
	more, ok := pagination["hasMore"].(bool)
	return more, ok
}

// RowID returns the post identifier of a listing row, accepting either the
// "id" or "post_id" key.
func RowID(row Row) string {
	for _, key := range [...]string{"id", "post_id"} {
		if v, ok := row[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// SubmoltName extracts the name of a submolt row, trying name, slug and id.
func SubmoltName(row Row) string {
	for _, key := range [...]string{"name", "slug", "id"} {
		if v, ok := row[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// RowSubmolt returns the submolt a post row belongs to. Global-feed rows
// embed it either as a bare name or as a nested object.
func RowSubmolt(row Row) string {
	switch v := row["submolt"].(type) {
	case string:
		return v
	case map[string]any:
		for _, key := range [...]string{"name", "display_name", "id"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// IntField reads a numeric field, tolerating the float64 that encoding/json
// produces for untyped JSON numbers. The second return value is false when
// the field is absent or not numeric.
func IntField(row Row, key string) (int, bool) {
	switch v := row[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
