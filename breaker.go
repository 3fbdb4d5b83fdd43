package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	log "github.com/Financial-Times/go-logger"
	"github.com/sony/gobreaker"
)

const (
	defaultBreakerTimeout     = 10 * time.Second
	defaultBreakerInterval    = 30 * time.Second
	defaultBreakerMaxRequests = 5
)

// breakingCaller keeps one circuit breaker per endpoint name in front of another caller.
type breakingCaller struct {
	next     backendCaller
	settings gobreaker.Settings

	sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

type breakerOutcome struct {
	prediction json.RawMessage
	err        error
}

func newBreakingCaller(next backendCaller) *breakingCaller {
	return &breakingCaller{
		next: next,
		settings: gobreaker.Settings{
			Timeout:     defaultBreakerTimeout,
			MaxRequests: defaultBreakerMaxRequests,
			Interval:    defaultBreakerInterval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > (defaultBreakerMaxRequests/2)+1
			},
			// a caller giving up says nothing about the endpoint
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warnf("Circuit breaker for %s changed from %s to %s", name, from.String(), to.String())
			},
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *breakingCaller) breakerFor(name string) *gobreaker.CircuitBreaker {
	b.Lock()
	defer b.Unlock()

	cb, ok := b.breakers[name]
	if !ok {
		settings := b.settings
		settings.Name = name
		cb = gobreaker.NewCircuitBreaker(settings)
		b.breakers[name] = cb
	}
	return cb
}

func (b *breakingCaller) call(ctx context.Context, ep endpoint, path string, body []byte) (json.RawMessage, error) {
	out, err := b.breakerFor(ep.name).Execute(func() (interface{}, error) {
		prediction, err := b.next.call(ctx, ep, path, body)
		// an empty prediction is a valid answer and must not trip the breaker
		if errors.Is(err, errNoPrediction) {
			return breakerOutcome{err: err}, nil
		}
		if err != nil {
			return nil, err
		}
		return breakerOutcome{prediction: prediction}, nil
	})
	if err != nil {
		return nil, err
	}

	outcome := out.(breakerOutcome)
	return outcome.prediction, outcome.err
}
