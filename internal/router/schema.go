package router

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// kindSpec describes how a known kind's payload is validated and decoded.
type kindSpec struct {
	schema *jsonschema.Resolved // nil = any payload accepted
	decode func(json.RawMessage) (any, error)
}

// objectSchema builds a schema for an object whose listed properties are all required.
// Extra properties are allowed and ignored by decoding.
func objectSchema(props map[string]string) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(props)),
		Required:   make([]string, 0, len(props)),
	}
	for name, typ := range props {
		s.Properties[name] = &jsonschema.Schema{Type: typ}
		s.Required = append(s.Required, name)
	}
	sort.Strings(s.Required)
	return s
}

func chatMessageSchema() *jsonschema.Schema {
	return objectSchema(map[string]string{
		"id":         "string",
		"senderId":   "string",
		"receiverId": "string",
		"content":    "string",
		"timestamp":  "string",
	})
}

func chatAckSchema() *jsonschema.Schema {
	return objectSchema(map[string]string{
		"messageId": "string",
		"status":    "string",
	})
}

func chatReadSchema() *jsonschema.Schema {
	return objectSchema(map[string]string{
		"conversationId": "string",
		"readAt":         "string",
	})
}

func notificationSchema() *jsonschema.Schema {
	return objectSchema(map[string]string{
		"id":        "string",
		"type":      "string",
		"message":   "string",
		"timestamp": "string",
		"read":      "boolean",
	})
}

// envelopeSchema constrains the outer frame. "payload" is optional at this
// level; kinds with a payload schema reject a missing payload themselves.
func envelopeSchema(kinds []Kind) *jsonschema.Schema {
	enum := make([]any, 0, len(kinds))
	for _, k := range kinds {
		enum = append(enum, string(k))
	}
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"type"},
		Properties: map[string]*jsonschema.Schema{
			"type":    {Type: "string", Enum: enum},
			"payload": {},
		},
	}
}

func resolve(s *jsonschema.Schema) (*jsonschema.Resolved, error) {
	if s == nil {
		return nil, nil
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return rs, nil
}

func decodeAs[T any](data json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeRaw(data json.RawMessage) (any, error) {
	return data, nil
}
