package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	log "github.com/Financial-Times/go-logger"
)

type kindService struct {
	kind    string
	service string
}

type controller interface {
	classify(ctx context.Context, text string) (classification, error)
	buildHealthResult(ctx context.Context) fthealth.HealthResult
	goodToGo(ctx context.Context) (bool, string)
}

// orchestrationController owns the components built from the current registry snapshot.
// A reload builds new components and swaps them in whole; live ones are never mutated.
type orchestrationController struct {
	environment string
	caller      backendCaller
	dispatcher  *dispatcher
	healthCheck healthcheckService
	metrics     *orchestratorMetrics
	cacheNames  []string
	kinds       []kindService

	sync.RWMutex
	rotator     *cacheRotator
	caches      []endpoint
	classifiers map[string]endpoint
}

func newOrchestrationController(environment string, cacheNames []string, kinds []kindService, caller backendCaller, dispatcher *dispatcher, healthCheck healthcheckService, metrics *orchestratorMetrics) *orchestrationController {
	return &orchestrationController{
		environment: environment,
		caller:      caller,
		dispatcher:  dispatcher,
		healthCheck: healthCheck,
		metrics:     metrics,
		cacheNames:  cacheNames,
		kinds:       kinds,
	}
}

func (c *orchestrationController) reload(snapshot registrySnapshot) error {
	caches, err := snapshot.endpoints(c.cacheNames)
	if err != nil {
		return fmt.Errorf("cannot build cache pool: %w", err)
	}

	rotator, err := newCacheRotator(caches, c.caller, c.metrics)
	if err != nil {
		return fmt.Errorf("cannot build cache pool: %w", err)
	}

	classifiers := make(map[string]endpoint, len(c.kinds))
	for _, ks := range c.kinds {
		ep, err := snapshot.endpoint(ks.service)
		if err != nil {
			return fmt.Errorf("cannot build classifier for %s: %w", ks.kind, err)
		}
		classifiers[ks.service] = ep
	}

	c.Lock()
	c.rotator = rotator
	c.caches = caches
	c.classifiers = classifiers
	c.Unlock()

	log.Infof("Loaded %d cache replicas and %d classifiers", len(caches), len(classifiers))
	return nil
}

func (c *orchestrationController) components() (*cacheRotator, []endpoint, map[string]endpoint) {
	c.RLock()
	defer c.RUnlock()
	return c.rotator, c.caches, c.classifiers
}

func parseCacheNames(value string) ([]string, error) {
	var names []string
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, errNoCaches
	}
	return names, nil
}

// parseKindServices reads "kind=service" pairs separated by commas, keeping their order.
func parseKindServices(value string) ([]kindService, error) {
	var kinds []kindService
	seenKinds := make(map[string]bool)
	seenServices := make(map[string]bool)

	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid classifier mapping %q, expected kind=service", pair)
		}

		ks := kindService{kind: strings.TrimSpace(parts[0]), service: strings.TrimSpace(parts[1])}
		if seenKinds[ks.kind] || seenServices[ks.service] {
			return nil, fmt.Errorf("duplicate classifier mapping %q", pair)
		}
		seenKinds[ks.kind] = true
		seenServices[ks.service] = true
		kinds = append(kinds, ks)
	}

	if len(kinds) == 0 {
		return nil, errors.New("no classifier services configured")
	}
	return kinds, nil
}
