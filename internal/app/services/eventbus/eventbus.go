// Package eventbus implements the Event Bus Adapter: a
// publish/subscribe fan-in point between the engines and the WebSocket
// Fan-out, backed by Redis Pub/Sub.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	coresvc "github.com/acme-industrial/enms-analytics/internal/app/core/service"
)

// Event is a published domain event envelope.
type Event struct {
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler is called for each event received on a subscribed channel.
type Handler func(ctx context.Context, event Event)

// handlerTimeout bounds how long a single handler invocation may run before
// it is abandoned.
const handlerTimeout = 30 * time.Second

// Bus is a Redis Pub/Sub backed event bus. Publish is fire-and-forget: a
// Redis outage degrades event delivery without blocking the caller.
type Bus struct {
	client *redis.Client
	log    *logrus.Entry
	hooks  coresvc.ObservationHooks

	mu       sync.RWMutex
	handlers map[string][]Handler
	pubsub   *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bus over an existing Redis client. The dispatch loop starts
// immediately; call Close to stop it.
func New(client *redis.Client, log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		client:   client,
		log:      log,
		handlers: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.pubsub = client.Subscribe(ctx)
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// WithHooks attaches observation hooks fired around every publish attempt
// and returns the bus for chaining.
func (b *Bus) WithHooks(hooks coresvc.ObservationHooks) *Bus {
	b.hooks = hooks
	return b
}

// Publish marshals payload and sends it on channel. Errors are logged and
// swallowed so that a down Redis never blocks an engine's write path.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) {
	finish := coresvc.StartObservation(ctx, b.hooks, map[string]string{"job_id": channel})
	finish(b.publish(ctx, channel, payload))
}

func (b *Bus) publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.WithError(err).WithField("channel", channel).Warn("eventbus: marshal payload")
		return err
	}
	envelope := Event{Channel: channel, Payload: data, Timestamp: time.Now().UTC()}
	envelopeData, err := json.Marshal(envelope)
	if err != nil {
		b.log.WithError(err).WithField("channel", channel).Warn("eventbus: marshal envelope")
		return err
	}
	if err := b.client.Publish(ctx, channel, envelopeData).Err(); err != nil {
		b.log.WithError(err).WithField("channel", channel).Warn("eventbus: publish")
		return err
	}
	return nil
}

// Subscribe registers handler for channel, issuing a Redis SUBSCRIBE if this
// is the channel's first handler.
func (b *Bus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.handlers[channel]) == 0 {
		if err := b.pubsub.Subscribe(b.ctx, channel); err != nil {
			return fmt.Errorf("eventbus: subscribe %s: %w", channel, err)
		}
	}
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

// Unsubscribe drops all handlers for channel and issues a Redis UNSUBSCRIBE.
func (b *Bus) Unsubscribe(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, channel)
	return b.pubsub.Unsubscribe(b.ctx, channel)
}

// Close stops the dispatch loop and closes the underlying subscription.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.pubsub.Close()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				event = Event{Channel: msg.Channel, Payload: json.RawMessage(msg.Payload), Timestamp: time.Now().UTC()}
			}

			b.mu.RLock()
			handlers := make([]Handler, len(b.handlers[msg.Channel]))
			copy(handlers, b.handlers[msg.Channel])
			b.mu.RUnlock()

			for _, h := range handlers {
				b.invoke(h, event)
			}
		}
	}
}

func (b *Bus) invoke(handler Handler, event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		handler(ctx, event)
	}()
}
