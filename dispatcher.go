package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/Financial-Times/go-logger"
)

var (
	errDispatchTimeout = errors.New("backend did not answer before the dispatch deadline")
	errInvalidTimeout  = errors.New("dispatch timeout must be positive")
)

type dispatcher struct {
	caller  backendCaller
	timeout time.Duration
	metrics *orchestratorMetrics
}

func newDispatcher(caller backendCaller, timeout time.Duration, metrics *orchestratorMetrics) (*dispatcher, error) {
	if timeout <= 0 {
		return nil, errInvalidTimeout
	}
	return &dispatcher{
		caller:  caller,
		timeout: timeout,
		metrics: metrics,
	}, nil
}

// fanOut is the state of one dispatch call. Workers write under the lock, the worker
// recording the last expected result closes done.
type fanOut struct {
	sync.Mutex
	results  map[string]result
	closed   bool
	recorded int32
	expected int32
	done     chan struct{}
}

func (f *fanOut) record(name string, r result) {
	f.Lock()
	if f.closed {
		f.Unlock()
		return
	}
	f.results[name] = r
	f.Unlock()

	if atomic.AddInt32(&f.recorded, 1) == f.expected {
		close(f.done)
	}
}

// seal stops accepting results and returns the recorded ones, with every name still
// pending marked as timed out.
func (f *fanOut) seal(names []string) map[string]result {
	f.Lock()
	defer f.Unlock()

	f.closed = true
	out := make(map[string]result, len(names))
	for _, name := range names {
		if r, ok := f.results[name]; ok {
			out[name] = r
		} else {
			out[name] = result{err: errDispatchTimeout}
		}
	}
	return out
}

// dispatch calls every job concurrently and blocks until all of them answered or the
// deadline passed. The returned map always holds exactly the names of jobs. The error is
// only set for configuration faults, in which case no call is made.
func (d *dispatcher) dispatch(ctx context.Context, jobs map[string]endpoint, payload interface{}) (map[string]result, error) {
	if len(jobs) == 0 {
		return map[string]result{}, nil
	}

	names := make([]string, 0, len(jobs))
	for name, ep := range jobs {
		if err := validateEndpoint(ep); err != nil {
			return nil, fmt.Errorf("cannot dispatch to %s: %w", name, err)
		}
		names = append(names, name)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cannot encode dispatch payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	job := &fanOut{
		results:  make(map[string]result, len(jobs)),
		expected: int32(len(jobs)),
		done:     make(chan struct{}),
	}

	for name, ep := range jobs {
		go func(name string, ep endpoint) {
			prediction, err := d.caller.call(ctx, ep, servePath, body)
			if err != nil {
				log.WithError(err).Warnf("Service %s failed to classify", name)
			}
			job.record(name, result{prediction: prediction, err: err})
		}(name, ep)
	}

	select {
	case <-job.done:
	case <-ctx.Done():
		log.Warnf("Dispatch deadline passed before all of %d services answered", len(jobs))
	}

	results := job.seal(names)
	d.metrics.observeDispatch(results, time.Since(start))
	return results, nil
}
