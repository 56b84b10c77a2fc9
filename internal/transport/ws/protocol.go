package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Message types. The connection_* pair is the graphql-transport-ws spelling
// used by GraphQL clients; both are accepted.
const (
	MsgInit           = "init"
	MsgAck            = "ack"
	MsgConnectionInit = "connection_init"
	MsgConnectionAck  = "connection_ack"
	MsgSubscribe      = "subscribe"
	MsgNext           = "next"
	MsgComplete       = "complete"
	MsgError          = "error"
	MsgPing           = "ping"
	MsgPong           = "pong"
)

// Message is one protocol frame. ID is kept raw so any JSON scalar the
// client picks is echoed back byte for byte.
type Message struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload is either {eventType, key} or a GraphQL subscription
// document {query, variables}.
type SubscribePayload struct {
	EventType string         `json:"eventType,omitempty"`
	Key       string         `json:"key,omitempty"`
	Query     string         `json:"query,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ErrorItem is one entry of an error frame payload.
type ErrorItem struct {
	Message string `json:"message"`
}

var (
	errMissingEventType = errors.New("invalid subscription: missing event type")
	errMissingKey       = errors.New("invalid subscription: missing key")

	// First field of the subscription selection set: `subscription X { timerTrigger(`.
	reSubscriptionField = regexp.MustCompile(`subscription[^{]*\{\s*(\w+)\s*\(`)
	reInlineKey         = regexp.MustCompile(`\b(?:nodeId|key)\s*:\s*"([^"]+)"`)
)

// parseSubscribe extracts the event type and key from a subscribe payload.
func parseSubscribe(raw json.RawMessage) (eventType, key string, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", "", errMissingEventType
	}
	var p SubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", "", fmt.Errorf("invalid subscription payload: %w", err)
	}

	eventType = strings.TrimSpace(p.EventType)
	key = strings.TrimSpace(p.Key)
	if p.Query != "" {
		if eventType == "" {
			if m := reSubscriptionField.FindStringSubmatch(p.Query); m != nil {
				eventType = m[1]
			}
		}
		if key == "" {
			key = variableKey(p.Variables)
		}
		if key == "" {
			if m := reInlineKey.FindStringSubmatch(p.Query); m != nil {
				key = m[1]
			}
		}
	}

	if eventType == "" {
		return "", "", errMissingEventType
	}
	if key == "" {
		return "", "", errMissingKey
	}
	return eventType, key, nil
}

func variableKey(vars map[string]any) string {
	for _, name := range []string{"key", "nodeId"} {
		if s, ok := vars[name].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func encode(typ string, id json.RawMessage, payload any) ([]byte, error) {
	m := Message{Type: typ, ID: id}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.Payload = b
	}
	return json.Marshal(m)
}

func nextPayload(eventType string, data any) any {
	return map[string]any{"data": map[string]any{eventType: data}}
}

func errorPayload(msg string) any {
	return []ErrorItem{{Message: msg}}
}

// ackFor answers init in the dialect it was asked in.
func ackFor(initType string) string {
	if initType == MsgConnectionInit {
		return MsgConnectionAck
	}
	return MsgAck
}
