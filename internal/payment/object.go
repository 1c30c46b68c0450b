package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// object is a decoded JSON object that keeps its member order. Nested signed
// values are serialized in document order, so callback payloads are never
// decoded into plain maps below the top level.
type object []member

type member struct {
	Key   string
	Value any
}

// decodeObject decodes a JSON object into a map of its top-level members.
// Nested objects stay as object values and numbers as json.Number.
func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, false
	}
	obj, ok := v.(object)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(obj))
	for _, m := range obj {
		out[m.Key] = m.Value
	}
	return out, true
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := object{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("payment: object key %v", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, member{Key: key, Value: val})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		items := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return items, nil
	}
	return nil, fmt.Errorf("payment: unexpected %v", delim)
}
