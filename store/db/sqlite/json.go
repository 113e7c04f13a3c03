package sqlite

import "encoding/json"

// jsonMarshal/jsonUnmarshal mirror store's own toJSON/fromJSON helpers,
// duplicated here since those are unexported to package store — this
// driver lives one package over and encodes the same nested Task fields
// as JSON TEXT columns.
func jsonMarshal(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
