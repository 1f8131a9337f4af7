// Package notify carries "something changed" signals keyed by raid, duel or
// player stream so clients holding stale state know to re-fetch.
package notify

import (
	"context"
	"sync"
)

// Broker publishes and subscribes to change signals. A signal carries no
// payload; subscribers re-read the record store when one arrives.
type Broker interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error)
}

// Local fans signals out to subscribers inside one process.
type Local struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewLocal() *Local {
	return &Local{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every subscriber of topic. A subscriber with a signal
// already pending is not signalled twice.
func (l *Local) Publish(_ context.Context, topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers for signals on topic until cancel is called or ctx ends.
func (l *Local) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	if l.subs[topic] == nil {
		l.subs[topic] = make(map[chan struct{}]struct{})
	}
	l.subs[topic][ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs[topic], ch)
			if len(l.subs[topic]) == 0 {
				delete(l.subs, topic)
			}
			l.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// PublishAll signals each topic, returning the first error.
func PublishAll(ctx context.Context, b Broker, topics ...string) error {
	if b == nil {
		return nil
	}
	var first error
	for _, t := range topics {
		if err := b.Publish(ctx, t); err != nil && first == nil {
			first = err
		}
	}
	return first
}
