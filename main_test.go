package main

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullRegistry = `
cache-service-1: {general: {host: 10.2.51.2, port: 8080}, security: {secret_key: s1}}
cache-service-2: {general: {host: 10.2.51.3, port: 8080}, security: {secret_key: s2}}
named-entity-recognition-sidecar-service: {general: {host: ner, port: 8080}, security: {secret_key: s3}}
sentiment-sidecar-service: {general: {host: sentiment, port: 8080}, security: {secret_key: s4}}
intent-sidecar-service: {general: {host: intent, port: 8080}, security: {secret_key: s5}}
`

func testAppConfig(t *testing.T) appConfig {
	return appConfig{
		environment:        ENV,
		registry:           registryFile,
		registryPath:       writeRegistryFile(t, "services.yaml", fullRegistry),
		cacheServices:      "cache-service-1,cache-service-2",
		classifierServices: "ner=named-entity-recognition-sidecar-service,sentiment=sentiment-sidecar-service,intent=intent-sidecar-service",
		dispatchTimeout:    "5s",
		backendTimeout:     "4s",
		circuitBreaker:     true,
	}
}

func TestInitializeControllerFromFileRegistry(t *testing.T) {
	c, err := initializeController(context.Background(), testAppConfig(t), prometheus.NewRegistry())
	require.NoError(t, err)

	rotator, caches, classifiers := c.components()
	assert.NotNil(t, rotator)
	assert.Len(t, caches, 2)
	assert.Len(t, classifiers, 3)
	assert.IsType(t, &breakingCaller{}, c.caller)
}

func TestInitializeControllerWithoutCircuitBreaker(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.circuitBreaker = false

	c, err := initializeController(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)

	assert.IsType(t, &httpBackendCaller{}, c.caller)
}

func TestInitializeControllerErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *appConfig)
	}{
		{name: "unknown registry", modify: func(cfg *appConfig) { cfg.registry = "consul" }},
		{name: "missing registry file", modify: func(cfg *appConfig) { cfg.registryPath = "does-not-exist.yaml" }},
		{name: "no caches", modify: func(cfg *appConfig) { cfg.cacheServices = "" }},
		{name: "unregistered cache", modify: func(cfg *appConfig) { cfg.cacheServices = "cache-service-3" }},
		{name: "invalid classifier mapping", modify: func(cfg *appConfig) { cfg.classifierServices = "intent" }},
		{name: "unparsable dispatch timeout", modify: func(cfg *appConfig) { cfg.dispatchTimeout = "soon" }},
		{name: "zero dispatch timeout", modify: func(cfg *appConfig) { cfg.dispatchTimeout = "0s" }},
		{name: "unparsable backend timeout", modify: func(cfg *appConfig) { cfg.backendTimeout = "later" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testAppConfig(t)
			tt.modify(&cfg)

			_, err := initializeController(context.Background(), cfg, prometheus.NewRegistry())
			assert.Error(t, err)
		})
	}
}
