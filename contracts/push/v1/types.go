// Package v1 defines the Souk push protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the data-access core and any tooling that speaks the
// live-update channel, to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeSubscribe requests delivery for a topic (client -> server).
	TypeSubscribe = "subscribe"
	// TypeSubscribeAck acknowledges a subscribe request (server -> client).
	TypeSubscribeAck = "subscribe_ack"
	// TypeUnsubscribe stops delivery for a topic (client -> server).
	TypeUnsubscribe = "unsubscribe"

	// TypeMessageNew carries a newly created chat message (server -> client).
	TypeMessageNew = "message_new"
	// TypeMessageEdited carries an edited chat message (server -> client).
	TypeMessageEdited = "message_edited"
	// TypeMessageDeleted announces a deleted chat message (server -> client).
	TypeMessageDeleted = "message_deleted"

	// TypeTyping carries a transient typing indicator (server -> client).
	TypeTyping = "typing"

	// TypeEventUpdated carries an updated event resource (server -> client).
	TypeEventUpdated = "event_updated"
	// TypeOrderUpdated carries an updated order resource (server -> client).
	TypeOrderUpdated = "order_updated"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
//
// Topic follows the pattern <resourceType>.<id>[.<subresource>], e.g.
// "conversation.c_17", "conversation.c_17.typing", "event.e_42".
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSubscribe,
		TypeSubscribeAck,
		TypeUnsubscribe,
		TypeMessageNew,
		TypeMessageEdited,
		TypeMessageDeleted,
		TypeTyping,
		TypeEventUpdated,
		TypeOrderUpdated,
		TypeError:
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}

	switch e.Type {
	case TypeSubscribe, TypeSubscribeAck, TypeUnsubscribe,
		TypeMessageNew, TypeMessageEdited, TypeMessageDeleted,
		TypeTyping, TypeEventUpdated, TypeOrderUpdated:
		if strings.TrimSpace(e.Topic) == "" {
			return errors.New("missing field: topic")
		}
	}
	return nil
}

// ---- Topic helpers ----

// Topic builds a topic string from its parts. Empty parts are skipped.
func Topic(resourceType, id string, sub ...string) string {
	parts := make([]string, 0, 2+len(sub))
	parts = append(parts, resourceType, id)
	for _, s := range sub {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// SplitTopic returns (resourceType, id, subresource). Subresource is empty
// for two-part topics. ok is false when the topic is structurally invalid.
func SplitTopic(topic string) (resourceType, id, sub string, ok bool) {
	parts := strings.Split(topic, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", "", false
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", "", "", false
		}
	}
	resourceType, id = parts[0], parts[1]
	if len(parts) == 3 {
		sub = parts[2]
	}
	return resourceType, id, sub, true
}

// ---- Payloads ----

// SubscribePayload requests delivery for the envelope's topic.
type SubscribePayload struct{}

// SubscribeAckPayload acknowledges a subscribe request.
type SubscribeAckPayload struct {
	Topic string `json:"topic"`
}

// MessagePayload is carried by message_new and message_edited.
// It is the same shape the REST API returns for a single message.
type MessagePayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	EditedAt       time.Time `json:"edited_at,omitzero"`
	SentAt         time.Time `json:"sent_at"`
}

// MessageDeletedPayload announces that a message was removed.
type MessageDeletedPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// TypingPayload is a transient indicator; it is never cached.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

// EventUpdatedPayload carries the full updated event resource.
type EventUpdatedPayload struct {
	EventID string          `json:"event_id"`
	Event   json.RawMessage `json:"event"`
}

// OrderUpdatedPayload carries the full updated order resource.
type OrderUpdatedPayload struct {
	OrderID string          `json:"order_id"`
	Order   json.RawMessage `json:"order"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
