package store

import "encoding/json"

// toJSON/fromJSON encode/decode a Task's nested structures (Parameters,
// FieldMapping, ValidationRules, ...). They are unexported, so the
// postgres and sqlite drivers do not call them: each driver carries its
// own copy of the same logic and stores the result the same way —
// postgres as native jsonb, sqlite as JSON-encoded TEXT.
func toJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func fromJSON(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
