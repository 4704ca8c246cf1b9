// Package live merges server-pushed deltas into the same logical resource
// streams the repositories expose.
//
// One upstream subscription exists per topic per process, shared by every
// observer of that topic and torn down (reference-counted) when the last
// observer detaches. Inbound frames update the cache store first, then fan
// out to observers; a malformed frame is logged and dropped, never
// propagated, so one bad frame cannot terminate a consumer stream.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"souk/cache"
	v1 "souk/contracts/push/v1"
)

const (
	// Per-subscription delivery queue. Fanout never blocks: a full queue
	// drops the update for that observer only.
	subQueueSize = 64

	// Bound on the upstream unsubscribe call issued during teardown.
	unsubscribeTimeout = 5 * time.Second
)

// Update is one merged delta delivered to observers.
//
// Key is the cache entry the update touched; it is the zero Key for
// transient payloads (typing indicators) that are never cached.
type Update struct {
	Topic   string
	Type    string
	Key     cache.Key
	Payload json.RawMessage
}

// Upstream is the push transport the registry subscribes through.
type Upstream interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Subscription is one observer's handle on a topic stream.
//
// C is never closed by the registry (fanout safety, same discipline as a
// broadcast channel that concurrent senders write to); consumers select on
// C together with Done.
type Subscription struct {
	topic string
	c     chan Update
	done  chan struct{}

	reg       *Registry
	closeOnce sync.Once
}

// C is the update delivery channel.
func (s *Subscription) C() <-chan Update { return s.c }

// Done is closed when the subscription is detached.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches this observer (idempotent). When it is the topic's last
// observer, the upstream subscription is released.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.reg.detach(s)
	})
}

// Topic returns the observed topic string.
func (s *Subscription) Topic() string { return s.topic }

type topicPhase uint8

const (
	phaseUnsubscribed topicPhase = iota
	phaseSubscribing
	phaseActive
	phaseClosed
)

type topicState struct {
	phase topicPhase
	subs  map[*Subscription]struct{}
}

// Registry owns the topic -> stream map.
type Registry struct {
	log      *slog.Logger
	store    cache.Store
	upstream Upstream
	metrics  *Metrics

	mu     sync.Mutex
	topics map[string]*topicState
}

// NewRegistry constructs a Registry. store and metrics may be nil (updates
// are then fanout-only).
func NewRegistry(log *slog.Logger, store cache.Store, upstream Upstream, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Registry{
		log:      log,
		store:    store,
		upstream: upstream,
		metrics:  metrics,
		topics:   make(map[string]*topicState),
	}
}

// Observe returns a stream of updates for topic.
//
// The first observer of a topic opens the upstream subscription; later
// observers share it. Each observer must Close its subscription when its
// owning scope is discarded.
func (r *Registry) Observe(ctx context.Context, topic string) (*Subscription, error) {
	sub := &Subscription{
		topic: topic,
		c:     make(chan Update, subQueueSize),
		done:  make(chan struct{}),
		reg:   r,
	}

	r.mu.Lock()
	st, ok := r.topics[topic]
	needSubscribe := false
	if !ok || st.phase == phaseClosed {
		st = &topicState{phase: phaseSubscribing, subs: make(map[*Subscription]struct{})}
		r.topics[topic] = st
		needSubscribe = true
	}
	st.subs[sub] = struct{}{}
	r.mu.Unlock()

	if !needSubscribe {
		return sub, nil
	}

	r.metrics.TopicOpened()

	if err := r.upstream.Subscribe(ctx, topic); err != nil {
		// The whole topic failed to open, not just this observer: anyone
		// who joined while the subscribe was pending has no upstream either
		// and must be detached, or they would wait on a dead stream.
		r.mu.Lock()
		delete(st.subs, sub)
		orphans := make([]*Subscription, 0, len(st.subs))
		for o := range st.subs {
			orphans = append(orphans, o)
		}
		st.phase = phaseClosed
		st.subs = make(map[*Subscription]struct{})
		if r.topics[topic] == st {
			delete(r.topics, topic)
		}
		r.mu.Unlock()

		for _, o := range orphans {
			o.closeOnce.Do(func() { close(o.done) })
		}

		r.metrics.TopicClosed()
		r.log.Warn("live.topic.subscribe.fail", "topic", topic, "err", err)
		return nil, err
	}

	r.mu.Lock()
	if st.phase == phaseSubscribing {
		st.phase = phaseActive
	}
	r.mu.Unlock()

	r.log.Debug("live.topic.subscribe", "topic", topic)
	return sub, nil
}

// detach removes sub from its topic; the last detach closes the topic and
// releases the upstream subscription.
func (r *Registry) detach(sub *Subscription) {
	r.mu.Lock()
	st, ok := r.topics[sub.topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(st.subs, sub)
	last := len(st.subs) == 0
	if last {
		st.phase = phaseClosed
		delete(r.topics, sub.topic)
	}
	r.mu.Unlock()

	if !last {
		return
	}

	r.metrics.TopicClosed()

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := r.upstream.Unsubscribe(ctx, sub.topic); err != nil {
		r.log.Warn("live.topic.unsubscribe.fail", "topic", sub.topic, "err", err)
		return
	}
	r.log.Debug("live.topic.unsubscribe", "topic", sub.topic)
}

// HandleFrame processes one inbound wire frame: decode, apply to the cache,
// fan out. Malformed frames are dropped with a log line.
func (r *Registry) HandleFrame(data []byte) {
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.metrics.FrameDropped()
		r.log.Warn("live.frame.drop", "reason", "bad_json", "err", err)
		return
	}
	if err := env.Validate(); err != nil {
		r.metrics.FrameDropped()
		r.log.Warn("live.frame.drop", "reason", "bad_envelope", "err", err)
		return
	}

	switch env.Type {
	case v1.TypeSubscribeAck, v1.TypeError:
		// Control frames carry nothing to merge or fan out.
		if env.Type == v1.TypeError {
			r.logServerError(env)
		}
		r.metrics.FrameOK()
		return
	}

	key, err := r.apply(env)
	if err != nil {
		r.metrics.FrameDropped()
		r.log.Warn("live.frame.drop", "reason", "bad_payload", "topic", env.Topic, "type", env.Type, "err", err)
		return
	}

	r.metrics.FrameOK()
	r.fanout(Update{
		Topic:   env.Topic,
		Type:    env.Type,
		Key:     key,
		Payload: env.Payload,
	})
}

// fanout re-emits an update to all current observers of its topic.
// Non-blocking: a full or closing observer queue drops the update for that
// observer only.
func (r *Registry) fanout(u Update) {
	r.mu.Lock()
	st, ok := r.topics[u.Topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(st.subs))
	for s := range st.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		select {
		case <-s.done:
			continue
		default:
		}

		select {
		case s.c <- u:
		default:
			// Drop rather than block the whole topic.
			r.log.Debug("live.fanout.drop", "topic", u.Topic)
		}
	}
}

func (r *Registry) logServerError(env v1.Envelope) {
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		r.log.Warn("live.server.error", "topic", env.Topic)
		return
	}
	r.log.Warn("live.server.error", "topic", env.Topic, "code", p.Code, "message", p.Message)
}
