package tmexio

import (
	jsoniter "github.com/json-iterator/go"
)

// json is the codec used for bodies and acknowledgements.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// normalize converts an arbitrary Go value into the plain JSON value space
// (map[string]any, []any, float64, string, bool, nil).
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
