package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/Financial-Times/go-logger"
)

var errNoCaches = errors.New("no cache replicas configured")

// cacheRotator balances cache lookups over equivalent replicas in configuration order.
// Every fetch moves the cursor exactly once, whatever the number of attempts it made.
type cacheRotator struct {
	caches  []endpoint
	caller  backendCaller
	metrics *orchestratorMetrics

	sync.Mutex
	cursor int
}

func newCacheRotator(caches []endpoint, caller backendCaller, metrics *orchestratorMetrics) (*cacheRotator, error) {
	if len(caches) == 0 {
		return nil, errNoCaches
	}
	for _, c := range caches {
		if err := validateEndpoint(c); err != nil {
			return nil, err
		}
	}

	replicas := make([]endpoint, len(caches))
	copy(replicas, caches)

	return &cacheRotator{
		caches:  replicas,
		caller:  caller,
		metrics: metrics,
	}, nil
}

func validateEndpoint(ep endpoint) error {
	if ep.host == "" || ep.port <= 0 {
		return fmt.Errorf("endpoint %s has no valid address", ep.name)
	}
	if ep.secret == "" {
		return fmt.Errorf("endpoint %s: %w", ep.name, errEmptySecret)
	}
	return nil
}

// turn hands out the current replica and moves the cursor past it.
func (r *cacheRotator) turn() int {
	r.Lock()
	defer r.Unlock()

	current := r.cursor
	r.cursor = (r.cursor + 1) % len(r.caches)
	return current
}

func (r *cacheRotator) current() endpoint {
	r.Lock()
	defer r.Unlock()
	return r.caches[r.cursor]
}

// fetch looks up a cached classification. The boolean is false on a cache miss,
// which includes the case where no replica could answer.
func (r *cacheRotator) fetch(ctx context.Context, text string, kind string) (json.RawMessage, bool) {
	body, err := json.Marshal(cacheRequest{Text: text, Service: kind})
	if err != nil {
		log.WithError(err).Errorf("Cannot encode cache request for %s", kind)
		return nil, false
	}

	first := r.turn()
	prediction, err := r.caller.call(ctx, r.caches[first], cachePath, body)
	switch {
	case err == nil:
		r.metrics.observeFetch(kind, fetchHit)
		return prediction, true
	case errors.Is(err, errNoPrediction):
		log.Debugf("Cache %s has no %s prediction", r.caches[first].name, kind)
		r.metrics.observeFetch(kind, fetchMiss)
		return nil, false
	}
	logAttemptFailure(err, r.caches[first], kind)

	if len(r.caches) == 1 || ctx.Err() != nil {
		r.metrics.observeFetch(kind, fetchMiss)
		return nil, false
	}

	second := (first + 1) % len(r.caches)
	log.Debugf("Failing over %s lookup from cache %s to %s", kind, r.caches[first].name, r.caches[second].name)
	prediction, err = r.caller.call(ctx, r.caches[second], cachePath, body)
	if err != nil {
		if !errors.Is(err, errNoPrediction) {
			logAttemptFailure(err, r.caches[second], kind)
		}
		r.metrics.observeFetch(kind, fetchMiss)
		return nil, false
	}

	r.metrics.observeFetch(kind, fetchFailoverHit)
	return prediction, true
}

func logAttemptFailure(err error, ep endpoint, kind string) {
	if errors.Is(err, errMalformedResponse) {
		log.WithError(err).Warnf("Cache %s answered the %s lookup with a malformed body", ep.name, kind)
		return
	}
	log.WithError(err).Debugf("Cache %s failed the %s lookup", ep.name, kind)
}
