package repository

import (
	"context"
	"errors"
	"net/http"
	"time"

	"souk/cache"
	v1 "souk/contracts/push/v1"
	"souk/ids"
	"souk/live"
	"souk/transport"
)

// Conversation is one chat thread.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Participants []string  `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one chat message. The JSON shape matches both the REST
// responses and the push payloads, so live deltas and polled reads merge
// into the same cache entries.
type Message struct {
	ID             string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	EditedAt       time.Time `json:"edited_at,omitzero"`
	SentAt         time.Time `json:"sent_at"`
}

// Chat is the conversation/message repository. It composes the shared core
// with the live-update registry so callers get both request/response reads
// and push-based streams over the same cache.
//
// Last-writer-wins caching means racing sends for the same conversation
// resolve by arrival order; callers needing strict ordering keep one
// in-flight send per conversation at a time.
type Chat struct {
	core *Core
	live *live.Registry
}

// NewChat constructs the chat repository. registry may be nil when the
// process runs without a live channel; Observe methods then fail.
func NewChat(core *Core, registry *live.Registry) *Chat {
	return &Chat{core: core, live: registry}
}

// Conversations fetches one page of the caller's conversations.
func (r *Chat) Conversations(ctx context.Context, page, limit int) (ListResult[Conversation], error) {
	q := pageQuery(page, limit)
	return FetchList[Conversation](ctx, r.core,
		cache.Key{Type: cache.TypeConversationList, ID: querySignature(q)},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/conversations", Query: q},
		func(c Conversation) cache.Key { return cache.Key{Type: cache.TypeConversation, ID: c.ID} },
		ListOptions{},
	)
}

// Messages fetches one page of a conversation's messages and seeds the
// per-message cache.
func (r *Chat) Messages(ctx context.Context, conversationID string, page, limit int) (ListResult[Message], error) {
	q := pageQuery(page, limit)
	return FetchList[Message](ctx, r.core,
		cache.Key{Type: cache.TypeMessageList, ID: conversationID + "?" + querySignature(q)},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/conversations/" + conversationID + "/messages", Query: q},
		func(m Message) cache.Key { return cache.Key{Type: cache.TypeMessage, ID: m.ID} },
		ListOptions{},
	)
}

// Send posts a message. The client_msg_id is a fresh ULID so the backend
// can deduplicate retried sends.
func (r *Chat) Send(ctx context.Context, conversationID, text string) (Message, error) {
	clientMsgID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return Message{}, err
	}

	body := struct {
		ClientMsgID string `json:"client_msg_id"`
		Text        string `json:"text"`
	}{ClientMsgID: clientMsgID, Text: text}

	return Mutate[Message](ctx, r.core,
		transport.Request{Method: http.MethodPost, Path: "/conversations/" + conversationID + "/messages", Body: body},
		func(m Message) cache.Key { return cache.Key{Type: cache.TypeMessage, ID: m.ID} },
		cache.ClassVolatile,
		Invalidation{Types: []string{cache.TypeMessageList, cache.TypeConversationList}},
	)
}

// Edit replaces a message's text.
func (r *Chat) Edit(ctx context.Context, conversationID, messageID, text string) (Message, error) {
	body := struct {
		Text string `json:"text"`
	}{Text: text}

	return Mutate[Message](ctx, r.core,
		transport.Request{Method: http.MethodPut, Path: "/conversations/" + conversationID + "/messages/" + messageID, Body: body},
		func(m Message) cache.Key { return cache.Key{Type: cache.TypeMessage, ID: m.ID} },
		cache.ClassVolatile,
		Invalidation{Types: []string{cache.TypeMessageList}},
	)
}

// Delete removes a message. The response carries no body; invalidation
// alone drops the cached copies.
func (r *Chat) Delete(ctx context.Context, conversationID, messageID string) error {
	_, err := Mutate[struct{}](ctx, r.core,
		transport.Request{Method: http.MethodDelete, Path: "/conversations/" + conversationID + "/messages/" + messageID},
		nil,
		cache.ClassVolatile,
		Invalidation{
			Keys:  []cache.Key{{Type: cache.TypeMessage, ID: messageID}},
			Types: []string{cache.TypeMessageList, cache.TypeConversationList},
		},
	)
	return err
}

// ObserveConversation opens (or joins) the live stream for a conversation.
// Two concurrent observers share one upstream subscription; each must
// Close its own handle.
func (r *Chat) ObserveConversation(ctx context.Context, conversationID string) (*live.Subscription, error) {
	if r.live == nil {
		return nil, errors.New("live channel not configured")
	}
	return r.live.Observe(ctx, v1.Topic(cache.TypeConversation, conversationID))
}

// ObserveTyping opens the transient typing-indicator stream for a
// conversation.
func (r *Chat) ObserveTyping(ctx context.Context, conversationID string) (*live.Subscription, error) {
	if r.live == nil {
		return nil, errors.New("live channel not configured")
	}
	return r.live.Observe(ctx, v1.Topic(cache.TypeConversation, conversationID, "typing"))
}
