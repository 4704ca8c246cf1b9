package live

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"souk/cache"
	v1 "souk/contracts/push/v1"
)

// fakeUpstream records subscribe/unsubscribe calls. The optional channels
// let a test hold a subscribe in flight while more observers join.
type fakeUpstream struct {
	mu           sync.Mutex
	subscribes   []string
	unsubscribes []string
	subscribeErr error

	subscribeStarted chan struct{}
	subscribeGate    chan struct{}
}

func (u *fakeUpstream) Subscribe(_ context.Context, topic string) error {
	if u.subscribeStarted != nil {
		u.subscribeStarted <- struct{}{}
	}
	if u.subscribeGate != nil {
		<-u.subscribeGate
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.subscribeErr != nil {
		return u.subscribeErr
	}
	u.subscribes = append(u.subscribes, topic)
	return nil
}

func (u *fakeUpstream) Unsubscribe(_ context.Context, topic string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.unsubscribes = append(u.unsubscribes, topic)
	return nil
}

func (u *fakeUpstream) counts() (subs, unsubs int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.subscribes), len(u.unsubscribes)
}

func frame(t *testing.T, typ, topic string, payload any) []byte {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      "f1",
		Topic:   topic,
		TS:      time.Now().UTC(),
		Payload: raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func recvUpdate(t *testing.T, sub *Subscription) Update {
	t.Helper()

	select {
	case u := <-sub.C():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func TestObserveSharesOneUpstreamSubscription(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{}
	r := NewRegistry(nil, nil, up, nil)
	ctx := context.Background()
	topic := v1.Topic("conversation", "c1")

	a, err := r.Observe(ctx, topic)
	if err != nil {
		t.Fatalf("observe a: %v", err)
	}
	b, err := r.Observe(ctx, topic)
	if err != nil {
		t.Fatalf("observe b: %v", err)
	}

	if subs, _ := up.counts(); subs != 1 {
		t.Fatalf("upstream subscribes=%d want=1", subs)
	}

	// Both observers see the same fanout.
	r.HandleFrame(frame(t, v1.TypeTyping, topic, v1.TypingPayload{ConversationID: "c1", UserID: "u1", Typing: true}))
	for _, sub := range []*Subscription{a, b} {
		u := recvUpdate(t, sub)
		if u.Type != v1.TypeTyping || u.Topic != topic {
			t.Fatalf("update=%+v", u)
		}
		if u.Key != (cache.Key{}) {
			t.Fatalf("typing update carried a cache key: %+v", u.Key)
		}
	}

	// First detach keeps the upstream subscription alive for the survivor.
	a.Close()
	if _, unsubs := up.counts(); unsubs != 0 {
		t.Fatal("unsubscribed while an observer remained")
	}

	r.HandleFrame(frame(t, v1.TypeTyping, topic, v1.TypingPayload{ConversationID: "c1", UserID: "u1", Typing: false}))
	if u := recvUpdate(t, b); u.Type != v1.TypeTyping {
		t.Fatalf("survivor update=%+v", u)
	}

	// Last detach releases upstream.
	b.Close()
	if subs, unsubs := up.counts(); subs != 1 || unsubs != 1 {
		t.Fatalf("subs=%d unsubs=%d, want 1/1", subs, unsubs)
	}

	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
}

func TestObserveCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{}
	r := NewRegistry(nil, nil, up, nil)

	sub, err := r.Observe(context.Background(), v1.Topic("event", "e1"))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	sub.Close()
	sub.Close()

	if _, unsubs := up.counts(); unsubs != 1 {
		t.Fatalf("unsubscribes=%d want=1", unsubs)
	}
}

func TestObserveSubscribeFailureRollsBack(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{subscribeErr: context.DeadlineExceeded}
	r := NewRegistry(nil, nil, up, nil)

	if _, err := r.Observe(context.Background(), v1.Topic("event", "e1")); err == nil {
		t.Fatal("observe must fail when the upstream subscribe fails")
	}

	// A later observer starts from scratch and may succeed.
	up.mu.Lock()
	up.subscribeErr = nil
	up.mu.Unlock()

	sub, err := r.Observe(context.Background(), v1.Topic("event", "e1"))
	if err != nil {
		t.Fatalf("observe after recovery: %v", err)
	}
	sub.Close()
}

func TestObserveSubscribeFailureDetachesPendingJoiners(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		subscribeErr:     context.DeadlineExceeded,
		subscribeStarted: make(chan struct{}, 1),
		subscribeGate:    make(chan struct{}),
	}
	r := NewRegistry(nil, nil, up, nil)
	topic := v1.Topic("conversation", "c1")

	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Observe(context.Background(), topic)
		firstErr <- err
	}()

	// Wait until the first observer's subscribe is in flight, then join.
	select {
	case <-up.subscribeStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe never started")
	}

	joiner, err := r.Observe(context.Background(), topic)
	if err != nil {
		t.Fatalf("joiner observe: %v", err)
	}

	close(up.subscribeGate)

	select {
	case err := <-firstErr:
		if err == nil {
			t.Fatal("first observer must see the subscribe failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first observer never returned")
	}

	// The joiner has no upstream to stream from; it must be detached
	// rather than left waiting forever.
	select {
	case <-joiner.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pending joiner was orphaned on subscribe failure")
	}
	joiner.Close() // still idempotent after a registry-side detach

	// The topic is fully gone: a fresh observer starts a new subscribe.
	up.mu.Lock()
	up.subscribeErr = nil
	up.mu.Unlock()
	up.subscribeStarted = nil
	up.subscribeGate = nil

	sub, err := r.Observe(context.Background(), topic)
	if err != nil {
		t.Fatalf("observe after failure: %v", err)
	}
	sub.Close()
}

func TestHandleFrameDropsMalformed(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{}
	store := cache.NewMemoryStore()
	r := NewRegistry(nil, store, up, nil)
	ctx := context.Background()
	topic := v1.Topic("conversation", "c1")

	sub, err := r.Observe(ctx, topic)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	defer sub.Close()

	bad := [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"message_new","topic":"conversation.c1"}`),             // missing v
		[]byte(`{"v":"v9","type":"message_new","topic":"conversation.c1"}`),    // bad version
		[]byte(`{"v":"v1","type":"sparkle","topic":"conversation.c1"}`),        // unknown type
		[]byte(`{"v":"v1","type":"message_new"}`),                              // missing topic
		frame(t, v1.TypeMessageNew, topic, map[string]any{"text": "no ids"}),   // missing identity
		frame(t, v1.TypeEventUpdated, "event.e1", v1.EventUpdatedPayload{}),    // empty payload
	}
	for _, data := range bad {
		r.HandleFrame(data)
	}

	// The stream survives the garbage: a good frame still arrives.
	r.HandleFrame(frame(t, v1.TypeMessageNew, topic, v1.MessagePayload{
		ConversationID: "c1",
		MessageID:      "m1",
		Sender:         "u2",
		Text:           "hello",
		SentAt:         time.Now().UTC(),
	}))

	u := recvUpdate(t, sub)
	if u.Type != v1.TypeMessageNew {
		t.Fatalf("update=%+v", u)
	}
	select {
	case extra := <-sub.C():
		t.Fatalf("malformed frame leaked to observer: %+v", extra)
	default:
	}
}

func TestHandleFrameAppliesToCache(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	r := NewRegistry(nil, store, &fakeUpstream{}, nil)
	ctx := context.Background()

	// message_new caches the message and drops list pages.
	msgListKey := cache.Key{Type: cache.TypeMessageList, ID: "c1?limit=20&page=1"}
	convListKey := cache.Key{Type: cache.TypeConversationList, ID: "limit=20&page=1"}
	_ = store.Put(ctx, msgListKey, []byte(`{}`), cache.ClassVolatile)
	_ = store.Put(ctx, convListKey, []byte(`{}`), cache.ClassVolatile)

	r.HandleFrame(frame(t, v1.TypeMessageNew, v1.Topic("conversation", "c1"), v1.MessagePayload{
		ConversationID: "c1", MessageID: "m1", Sender: "u2", Text: "hi", SentAt: time.Now().UTC(),
	}))

	if _, ok, _ := store.Get(ctx, cache.Key{Type: cache.TypeMessage, ID: "m1"}); !ok {
		t.Fatal("message_new must cache the message")
	}
	if _, ok, _ := store.Get(ctx, msgListKey); ok {
		t.Fatal("message_new must invalidate message list pages")
	}
	if _, ok, _ := store.Get(ctx, convListKey); ok {
		t.Fatal("message_new must invalidate conversation list pages")
	}

	// message_deleted drops the cached message.
	r.HandleFrame(frame(t, v1.TypeMessageDeleted, v1.Topic("conversation", "c1"), v1.MessageDeletedPayload{
		ConversationID: "c1", MessageID: "m1",
	}))
	if _, ok, _ := store.Get(ctx, cache.Key{Type: cache.TypeMessage, ID: "m1"}); ok {
		t.Fatal("message_deleted must drop the cached message")
	}

	// event_updated writes the full resource through.
	r.HandleFrame(frame(t, v1.TypeEventUpdated, v1.Topic("event", "e1"), v1.EventUpdatedPayload{
		EventID: "e1", Event: json.RawMessage(`{"id":"e1","title":"updated"}`),
	}))
	entry, ok, _ := store.Get(ctx, cache.Key{Type: cache.TypeEvent, ID: "e1"})
	if !ok || string(entry.Value) != `{"id":"e1","title":"updated"}` {
		t.Fatalf("event cache after update: ok=%v value=%s", ok, entry.Value)
	}

	// order_updated writes through and drops order list pages.
	orderListKey := cache.Key{Type: cache.TypeOrderList, ID: "limit=20&page=1"}
	_ = store.Put(ctx, orderListKey, []byte(`{}`), cache.ClassVolatile)
	r.HandleFrame(frame(t, v1.TypeOrderUpdated, v1.Topic("order", "o1"), v1.OrderUpdatedPayload{
		OrderID: "o1", Order: json.RawMessage(`{"id":"o1","status":"confirmed"}`),
	}))
	if _, ok, _ := store.Get(ctx, cache.Key{Type: cache.TypeOrder, ID: "o1"}); !ok {
		t.Fatal("order_updated must cache the order")
	}
	if _, ok, _ := store.Get(ctx, orderListKey); ok {
		t.Fatal("order_updated must invalidate order list pages")
	}

	// typing touches nothing.
	r.HandleFrame(frame(t, v1.TypeTyping, v1.Topic("conversation", "c1", "typing"), v1.TypingPayload{
		ConversationID: "c1", UserID: "u1", Typing: true,
	}))
	if _, ok, _ := store.Get(ctx, cache.Key{Type: "typing", ID: "c1"}); ok {
		t.Fatal("typing must never be cached")
	}
}

func TestFanoutDoesNotBlockOnSlowObserver(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil, &fakeUpstream{}, nil)
	ctx := context.Background()
	topic := v1.Topic("conversation", "c1", "typing")

	slow, err := r.Observe(ctx, topic)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	defer slow.Close()

	// Overflow the delivery queue; HandleFrame must return regardless.
	for i := 0; i < subQueueSize+16; i++ {
		r.HandleFrame(frame(t, v1.TypeTyping, topic, v1.TypingPayload{ConversationID: "c1", UserID: "u1", Typing: true}))
	}

	if got := len(slow.c); got != subQueueSize {
		t.Fatalf("queued=%d want=%d (overflow must be dropped, not block)", got, subQueueSize)
	}
}
