// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package events

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/metrics"
)

const defaultSubscriptionBufferSize = 256

var droppedEventsCounter = metrics.NewRegisteredCounter("arb/events/dropped", nil)

// ErrClosed is returned by Next once the subscription or its producer closed
// and every buffered event was consumed.
var ErrClosed = errors.New("subscription closed")

// Producer fans events out to subscriptions. Broadcast never blocks: each
// subscription has its own buffer, and events that do not fit are dropped for
// that subscription only. Events reach every subscription in broadcast order.
type Producer[T any] struct {
	sync.Mutex
	subscriptionBufferSize int
	nextId                 subId
	subs                   map[subId]*Subscription[T]
	closed                 bool
}

type ProducerOpt[T any] func(*Producer[T])

// WithSubscriptionBuffer customizes the size of the subscription buffer channel.
func WithSubscriptionBuffer[T any](size int) ProducerOpt[T] {
	return func(ep *Producer[T]) {
		ep.subscriptionBufferSize = size
	}
}

func NewProducer[T any](opts ...ProducerOpt[T]) *Producer[T] {
	producer := &Producer[T]{
		subs:                   make(map[subId]*Subscription[T]),
		subscriptionBufferSize: defaultSubscriptionBufferSize,
	}
	for _, opt := range opts {
		opt(producer)
	}
	return producer
}

// Subscribe returns a handle to a new event subscription. Subscribing to a
// closed producer returns a subscription that is already closed.
func (ep *Producer[T]) Subscribe() *Subscription[T] {
	ep.Lock()
	defer ep.Unlock()
	sub := &Subscription[T]{
		id:       ep.nextId,
		events:   make(chan T, ep.subscriptionBufferSize),
		producer: ep,
	}
	ep.nextId++
	if ep.closed {
		close(sub.events)
		return sub
	}
	ep.subs[sub.id] = sub
	return sub
}

// Broadcast hands event to every subscription with room for it.
func (ep *Producer[T]) Broadcast(event T) {
	ep.Lock()
	defer ep.Unlock()
	for _, sub := range ep.subs {
		select {
		case sub.events <- event:
		default:
			sub.dropped++
			droppedEventsCounter.Inc(1)
		}
	}
}

// NumSubscriptions is the number of open subscriptions.
func (ep *Producer[T]) NumSubscriptions() int {
	ep.Lock()
	defer ep.Unlock()
	return len(ep.subs)
}

// Close ends every subscription. Buffered events can still be read.
func (ep *Producer[T]) Close() {
	ep.Lock()
	defer ep.Unlock()
	if ep.closed {
		return
	}
	ep.closed = true
	for id, sub := range ep.subs {
		close(sub.events)
		delete(ep.subs, id)
	}
}

func (ep *Producer[T]) unsubscribe(id subId) {
	ep.Lock()
	defer ep.Unlock()
	sub, ok := ep.subs[id]
	if !ok {
		return
	}
	close(sub.events)
	delete(ep.subs, id)
}

type subId uint64

// Subscription defines a generic handle to a subscription of
// events from a producer.
type Subscription[T any] struct {
	id       subId
	events   chan T
	producer *Producer[T]
	dropped  uint64 // guarded by the producer mutex
}

// Next waits for the next event or context cancelation, returning the event or an error.
func (es *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zeroVal T
	select {
	case ev, ok := <-es.events:
		if !ok {
			return zeroVal, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return zeroVal, ctx.Err()
	}
}

// Dropped is the number of events that did not fit in this subscription's buffer.
func (es *Subscription[T]) Dropped() uint64 {
	es.producer.Lock()
	defer es.producer.Unlock()
	return es.dropped
}

// Unsubscribe stops delivery to this subscription.
func (es *Subscription[T]) Unsubscribe() {
	es.producer.unsubscribe(es.id)
}
