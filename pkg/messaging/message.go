package messaging

import (
	"encoding/json"
	"fmt"
)

// Message is the unit of exchange between nodes: a typed, attributed
// payload carrying a UUID (the sending node's id, or a service call's
// transaction id for service.request and service.response).
type Message struct {
	Type  string
	UUID  string
	Attrs map[string]any
}

// NewMessage creates a Message with an empty attribute map.
func NewMessage(msgType, uuid string) Message {
	return Message{Type: msgType, UUID: uuid, Attrs: make(map[string]any)}
}

// Get returns an attribute value and whether it was present.
func (m Message) Get(key string) (any, bool) {
	v, ok := m.Attrs[key]
	return v, ok
}

// GetString returns a string attribute, or "" if absent or the wrong type.
func (m Message) GetString(key string) string {
	s, _ := m.Attrs[key].(string)
	return s
}

// With sets an attribute and returns the message for chaining.
func (m Message) With(key string, value any) Message {
	if m.Attrs == nil {
		m.Attrs = make(map[string]any)
	}
	m.Attrs[key] = value
	return m
}

// MarshalJSON flattens type, uuid, and every attribute into one JSON
// object, matching the single-object-per-frame wire format.
func (m Message) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Attrs)+2)
	for k, v := range m.Attrs {
		flat[k] = v
	}
	flat["type"] = m.Type
	flat["uuid"] = m.UUID
	return json.Marshal(flat)
}

// UnmarshalJSON splits a flat JSON object back into Type, UUID, and Attrs.
func (m *Message) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("messaging: decode frame: %w", err)
	}

	msgType, _ := flat["type"].(string)
	uuidStr, _ := flat["uuid"].(string)
	delete(flat, "type")
	delete(flat, "uuid")

	m.Type = msgType
	m.UUID = uuidStr
	m.Attrs = flat
	return nil
}
