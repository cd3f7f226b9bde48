package client

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind tags the shape of a response body.
type Kind int

const (
	KindObject Kind = iota
	KindArray
	KindPage
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindPage:
		return "page"
	default:
		return "object"
	}
}

// Payload is a response body with its shape resolved once, at the client
// boundary. Exactly one of Object or Items is meaningful, depending on Kind.
type Payload struct {
	Kind   Kind
	Object json.RawMessage
	Items  []json.RawMessage

	// Page metadata, KindPage only. Count is -1 when the server omitted it.
	Count    int
	Next     string
	Previous string
}

type pageEnvelope struct {
	Results  []json.RawMessage `json:"results"`
	Count    *int              `json:"count"`
	Next     *string           `json:"next"`
	Previous *string           `json:"previous"`
}

// Normalize classifies body as a bare array, a paginated page (top-level
// "results" or nested "data.results") or a single object.
func Normalize(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Payload{Kind: KindObject, Object: json.RawMessage("null")}, nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrUnexpected, err)
		}
		return Payload{Kind: KindArray, Items: items}, nil
	}

	if trimmed[0] != '{' {
		return Payload{Kind: KindObject, Object: json.RawMessage(trimmed)}, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}

	if p, ok := asPage(top); ok {
		return p, nil
	}
	if data, ok := top["data"]; ok {
		var nested map[string]json.RawMessage
		if json.Unmarshal(data, &nested) == nil {
			if p, ok := asPage(nested); ok {
				return p, nil
			}
		}
	}

	return Payload{Kind: KindObject, Object: json.RawMessage(trimmed)}, nil
}

func asPage(m map[string]json.RawMessage) (Payload, bool) {
	raw, ok := m["results"]
	if !ok {
		return Payload{}, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Payload{}, false
	}

	p := Payload{Kind: KindPage, Items: items, Count: -1}
	if items == nil {
		p.Items = []json.RawMessage{}
	}
	if v, ok := m["count"]; ok {
		_ = json.Unmarshal(v, &p.Count)
	}
	if v, ok := m["next"]; ok {
		_ = json.Unmarshal(v, &p.Next)
	}
	if v, ok := m["previous"]; ok {
		_ = json.Unmarshal(v, &p.Previous)
	}
	return p, true
}

// Len is the number of items, or 1 for an object.
func (p Payload) Len() int {
	if p.Kind == KindObject {
		return 1
	}
	return len(p.Items)
}

// DecodeObject unmarshals a KindObject payload into v.
func (p Payload) DecodeObject(v any) error {
	if p.Kind != KindObject {
		return fmt.Errorf("%w: expected object, got %s", ErrUnexpected, p.Kind)
	}
	return json.Unmarshal(p.Object, v)
}

// DecodeItems unmarshals the items of an array or page into the slice
// pointed to by v.
func (p Payload) DecodeItems(v any) error {
	if p.Kind == KindObject {
		return fmt.Errorf("%w: expected list, got %s", ErrUnexpected, p.Kind)
	}
	b, err := json.Marshal(p.Items)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
