// Package sse fans host events out to Server-Sent Events subscribers. With a
// Redis client the fan-out goes through pub/sub so several control API
// processes see the same stream; without one it stays in process.
package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/pearconnect/connect-server/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	clientBuffer = 100
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Topic  string
	Events chan Event
	Done   chan struct{}
}

// listenFunc feeds events published elsewhere for topic into deliver until
// ctx ends.
type listenFunc func(ctx context.Context, topic string, deliver func(Event))

// topicState is one topic's subscribers and, with Redis, the pub/sub
// listener that lives exactly as long as the topic has subscribers.
type topicState struct {
	clients map[*Client]struct{}
	stop    context.CancelFunc
	dropped uint64
}

type Broker struct {
	redis  *redisclient.Client
	listen listenFunc

	mu     sync.RWMutex
	topics map[string]*topicState
	closed bool
}

// NewBroker creates a broker. redisClient may be nil.
func NewBroker(redisClient *redisclient.Client) *Broker {
	b := &Broker{
		redis:  redisClient,
		topics: make(map[string]*topicState),
	}
	if redisClient != nil {
		b.listen = b.listenRedis
	}
	return b
}

// Subscribe registers a client on topic. After Close the client comes back
// already done.
func (b *Broker) Subscribe(topic string) *Client {
	client := &Client{
		Topic:  topic,
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(client.Done)
		return client
	}

	ts, ok := b.topics[topic]
	if !ok {
		ts = &topicState{clients: make(map[*Client]struct{})}
		if b.listen != nil {
			ctx, stop := context.WithCancel(context.Background())
			ts.stop = stop
			go b.listen(ctx, topic, func(e Event) { b.deliver(topic, e) })
		}
		b.topics[topic] = ts
	}
	ts.clients[client] = struct{}{}

	log.Info().
		Str("topic", topic).
		Int("clientCount", len(ts.clients)).
		Msg("sse client subscribed")

	return client
}

// Unsubscribe removes client and closes its Done channel. The last client
// leaving a topic stops that topic's listener. Repeated calls are no-ops.
func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[client.Topic]
	if !ok {
		return
	}
	if _, ok := ts.clients[client]; !ok {
		return
	}
	delete(ts.clients, client)
	close(client.Done)

	if len(ts.clients) == 0 {
		b.dropTopicLocked(client.Topic, ts)
	}

	log.Info().
		Str("topic", client.Topic).
		Int("clientCount", len(ts.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) dropTopicLocked(topic string, ts *topicState) {
	if ts.stop != nil {
		ts.stop()
	}
	if ts.dropped > 0 {
		log.Warn().
			Str("topic", topic).
			Uint64("dropped", ts.dropped).
			Msg("sse topic closed with dropped events")
	}
	delete(b.topics, topic)
}

// Publish delivers event to every subscriber of topic, through Redis when
// one is configured.
func (b *Broker) Publish(ctx context.Context, topic string, event Event) error {
	if b.redis == nil {
		b.deliver(topic, event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.EventChannel(topic), data).Err()
}

func (b *Broker) listenRedis(ctx context.Context, topic string, deliver func(Event)) {
	channel := redisclient.EventChannel(topic)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().Str("topic", topic).Str("channel", channel).Msg("redis pubsub subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("topic", topic).Msg("redis pubsub released")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("failed to unmarshal event")
				continue
			}
			deliver(event)
		}
	}
}

// deliver hands event to each subscriber without waiting; a subscriber whose
// buffer is full misses it.
func (b *Broker) deliver(topic string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[topic]
	if !ok {
		return
	}
	for client := range ts.clients {
		select {
		case client.Events <- event:
		default:
			ts.dropped++
			log.Warn().
				Str("topic", topic).
				Str("eventType", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

// Close ends every subscription and stops all listeners.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for topic, ts := range b.topics {
		for client := range ts.clients {
			close(client.Done)
		}
		b.dropTopicLocked(topic, ts)
	}
}

func (b *Broker) ClientCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ts, ok := b.topics[topic]; ok {
		return len(ts.clients)
	}
	return 0
}

// Dropped counts events a live topic's subscribers missed because their
// buffers were full.
func (b *Broker) Dropped(topic string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ts, ok := b.topics[topic]; ok {
		return ts.dropped
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, ts := range b.topics {
		total += len(ts.clients)
	}
	return total
}
