// Package jsonx contains small helpers for working with dynamic JSON
// payloads carried opaquely through the broker.
package jsonx

import "github.com/goccy/go-json"

// ToDynamicJSON converts any Go value to a dynamic JSON object represented
// as a map[string]any by round-tripping it through the JSON codec.
func ToDynamicJSON(val any) (map[string]any, error) {
	result := make(map[string]any)
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(b, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CloneMap deep-copies a dynamic JSON object. Envelope payloads are
// cloned this way when an envelope crosses an ownership boundary, so a
// caller mutating its copy cannot corrupt stored state.
func CloneMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	return ToDynamicJSON(m)
}
