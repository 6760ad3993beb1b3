package scope

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// DefaultInvalidationChannel is the redis channel change events travel on
const DefaultInvalidationChannel = "tenantguard:scope:invalidate"

// Notifier publishes change events raised by the storage layer
type Notifier interface {
	Notify(ctx context.Context, ev ChangeEvent)
}

// LocalNotifier forwards events straight to an in-process invalidator
type LocalNotifier struct {
	Target Invalidator
}

// Notify implements Notifier
func (n LocalNotifier) Notify(_ context.Context, ev ChangeEvent) {
	if n.Target != nil {
		n.Target.Invalidate(ev)
	}
}

// RedisBus fans change events out to every process sharing a redis
// instance, so each process can drop its own cached scopes.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *observability.Logger
	local   Invalidator
}

// NewRedisBus creates a bus on channel. local, if set, is invalidated
// synchronously on Notify so the publishing process never waits for the
// round trip.
func NewRedisBus(client *redis.Client, channel string, local Invalidator, logger *observability.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = observability.Default()
	}
	return &RedisBus{client: client, channel: channel, local: local, logger: logger}
}

// Publish sends ev to all subscribers
func (b *RedisBus) Publish(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Notify invalidates locally and publishes. A publish failure is logged;
// remote caches then fall back to their ttl.
func (b *RedisBus) Notify(ctx context.Context, ev ChangeEvent) {
	if b.local != nil {
		b.local.Invalidate(ev)
	}
	if err := b.Publish(ctx, ev); err != nil {
		b.logger.WithError(err).Warn("scope invalidation not published")
	}
}

// Subscribe delivers every received event to fn until the returned cancel
// func is called or ctx ends. It returns once the subscription is live.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(ChangeEvent)) (func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer observability.RecoverPanic(b.logger, "scope invalidation subscriber")
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.WithError(err).Warn("discarding malformed change event")
					continue
				}
				fn(ev)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			ps.Close()
			wg.Wait()
		})
	}, nil
}
