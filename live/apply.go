package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"souk/cache"
	v1 "souk/contracts/push/v1"
)

// Bound on cache writes triggered by inbound frames.
const applyTimeout = 5 * time.Second

// apply decodes the envelope payload against the expected shape for its
// topic family and merges it into the cache store. It returns the cache key
// the update touched (zero Key for transient payloads).
//
// Page caches cannot be patched in place, so list types containing the
// resource are invalidated instead; the next list read refetches.
func (r *Registry) apply(env v1.Envelope) (cache.Key, error) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	switch env.Type {
	case v1.TypeMessageNew, v1.TypeMessageEdited:
		var p v1.MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return cache.Key{}, err
		}
		if p.MessageID == "" || p.ConversationID == "" {
			return cache.Key{}, errors.New("missing message identity")
		}
		key := cache.Key{Type: cache.TypeMessage, ID: p.MessageID}
		r.put(ctx, key, env.Payload)
		r.invalidateType(ctx, cache.TypeMessageList)
		r.invalidateType(ctx, cache.TypeConversationList)
		return key, nil

	case v1.TypeMessageDeleted:
		var p v1.MessageDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return cache.Key{}, err
		}
		if p.MessageID == "" {
			return cache.Key{}, errors.New("missing message identity")
		}
		key := cache.Key{Type: cache.TypeMessage, ID: p.MessageID}
		r.invalidate(ctx, key)
		r.invalidateType(ctx, cache.TypeMessageList)
		return key, nil

	case v1.TypeTyping:
		var p v1.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return cache.Key{}, err
		}
		// Transient indicator: fanout only, never cached.
		return cache.Key{}, nil

	case v1.TypeEventUpdated:
		var p v1.EventUpdatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return cache.Key{}, err
		}
		if p.EventID == "" || len(p.Event) == 0 {
			return cache.Key{}, errors.New("missing event identity")
		}
		key := cache.Key{Type: cache.TypeEvent, ID: p.EventID}
		r.put(ctx, key, p.Event)
		return key, nil

	case v1.TypeOrderUpdated:
		var p v1.OrderUpdatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return cache.Key{}, err
		}
		if p.OrderID == "" || len(p.Order) == 0 {
			return cache.Key{}, errors.New("missing order identity")
		}
		key := cache.Key{Type: cache.TypeOrder, ID: p.OrderID}
		r.put(ctx, key, p.Order)
		r.invalidateType(ctx, cache.TypeOrderList)
		return key, nil

	default:
		return cache.Key{}, fmt.Errorf("no payload shape for type %q", env.Type)
	}
}

func (r *Registry) put(ctx context.Context, key cache.Key, value json.RawMessage) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(ctx, key, value, cache.ClassVolatile); err != nil {
		r.log.Warn("live.cache.put.fail", "key", key.String(), "err", err)
	}
}

func (r *Registry) invalidate(ctx context.Context, key cache.Key) {
	if r.store == nil {
		return
	}
	if err := r.store.Invalidate(ctx, key); err != nil {
		r.log.Warn("live.cache.invalidate.fail", "key", key.String(), "err", err)
	}
}

func (r *Registry) invalidateType(ctx context.Context, resourceType string) {
	if r.store == nil {
		return
	}
	if err := r.store.InvalidateType(ctx, resourceType); err != nil {
		r.log.Warn("live.cache.invalidate_type.fail", "type", resourceType, "err", err)
	}
}
