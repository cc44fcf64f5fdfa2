package envelope

import (
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PayloadField looks up a dot-separated path inside the payload. The
// result's Exists method reports whether the path was present. The broker
// never interprets payloads; this is a convenience for agents consuming
// delivered envelopes.
func (e *Envelope) PayloadField(path string) gjson.Result {
	if len(e.Payload) == 0 {
		return gjson.Result{}
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(b, path)
}

// SetPayloadField sets a dot-separated path inside the payload, creating
// intermediate objects as needed.
func (e *Envelope) SetPayloadField(path string, value any) error {
	b := []byte("{}")
	if len(e.Payload) > 0 {
		var err error
		if b, err = json.Marshal(e.Payload); err != nil {
			return err
		}
	}
	b, err := sjson.SetBytes(b, path, value)
	if err != nil {
		return err
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(b, &payload); err != nil {
		return err
	}
	e.Payload = payload
	return nil
}
