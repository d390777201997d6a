package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Amund211/chatrelay/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrProducerPanicked = errors.New("producer panicked")
	ErrProducerExited   = errors.New("producer exited without a result")
)

type inFlightRequest[T any] struct {
	done        chan struct{}
	value       T
	err         error
	subscribers int
}

// Coordinator collapses concurrent requests for the same key into one call.
//
// The first caller for a key runs the producer. Callers arriving while it is
// running wait for the same outcome instead. Outcomes are never stored: once
// the producer settles, the next call for the key runs the producer again.
type Coordinator[T any] struct {
	name string

	mu       sync.Mutex
	inFlight map[string]*inFlightRequest[T]
}

func NewCoordinator[T any](name string) *Coordinator[T] {
	return &Coordinator[T]{
		name:     name,
		inFlight: make(map[string]*inFlightRequest[T]),
	}
}

func (c *Coordinator[T]) Do(ctx context.Context, key string, producer func(ctx context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if request, ok := c.inFlight[key]; ok {
		request.subscribers++
		subscribers := request.subscribers
		c.mu.Unlock()

		c.recordRole(ctx, "follower")
		logging.FromContext(ctx).InfoContext(ctx, "Waiting for in-flight request", "key", key, "subscribers", subscribers)

		select {
		case <-request.done:
			return request.value, request.err
		case <-ctx.Done():
			var empty T
			return empty, ctx.Err()
		}
	}

	request := &inFlightRequest[T]{
		done:        make(chan struct{}),
		subscribers: 1,
	}
	c.inFlight[key] = request
	c.mu.Unlock()

	c.recordRole(ctx, "leader")

	c.run(ctx, key, request, producer)

	return request.value, request.err
}

func (c *Coordinator[T]) run(ctx context.Context, key string, request *inFlightRequest[T], producer func(ctx context.Context) (T, error)) {
	settled := false
	defer func() {
		if settled {
			return
		}
		// The producer panicked or exited the goroutine. Release the followers
		// before either carries on.
		r := recover()
		if r == nil {
			request.err = ErrProducerExited
			c.settle(key, request)
			return
		}
		request.err = fmt.Errorf("%w: %v", ErrProducerPanicked, r)
		c.settle(key, request)
		panic(r)
	}()

	// Followers depend on this call, so it must not end with the leader's request
	request.value, request.err = producer(context.WithoutCancel(ctx))
	settled = true
	c.settle(key, request)
}

func (c *Coordinator[T]) settle(key string, request *inFlightRequest[T]) {
	c.mu.Lock()
	// Clear may have replaced the record already
	if c.inFlight[key] == request {
		delete(c.inFlight, key)
	}
	c.mu.Unlock()

	close(request.done)
}

// Subscribers returns the number of callers sharing the in-flight request for key
func (c *Coordinator[T]) Subscribers(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	request, ok := c.inFlight[key]
	if !ok {
		return 0
	}
	return request.subscribers
}

func (c *Coordinator[T]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.inFlight)
}

// Clear forgets every in-flight record. Running producers still deliver their
// outcome to the callers already waiting on them.
func (c *Coordinator[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight = make(map[string]*inFlightRequest[T])
}

func (c *Coordinator[T]) recordRole(ctx context.Context, role string) {
	metrics.dedupCount.Add(
		ctx,
		1,
		metric.WithAttributes(
			attribute.String("coordinator", c.name),
			attribute.String("role", role),
		),
	)
}
