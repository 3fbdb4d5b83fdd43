package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type generalConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

type securityConfig struct {
	SecretKey string `yaml:"secret_key" json:"secret_key"`
}

type endpointConfig struct {
	General  generalConfig  `yaml:"general" json:"general"`
	Security securityConfig `yaml:"security" json:"security"`
}

// registrySnapshot is an immutable view of the registered services, keyed by service name.
type registrySnapshot map[string]endpointConfig

type endpointRegistry interface {
	snapshot(ctx context.Context) (registrySnapshot, error)
}

func (s registrySnapshot) endpoint(name string) (endpoint, error) {
	cfg, ok := s[name]
	if !ok {
		return endpoint{}, fmt.Errorf("service %s is not registered", name)
	}

	ep := endpoint{
		name:   name,
		host:   cfg.General.Host,
		port:   cfg.General.Port,
		secret: cfg.Security.SecretKey,
	}
	if err := validateEndpoint(ep); err != nil {
		return endpoint{}, err
	}
	return ep, nil
}

func (s registrySnapshot) endpoints(names []string) ([]endpoint, error) {
	eps := make([]endpoint, 0, len(names))
	for _, name := range names {
		ep, err := s.endpoint(name)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

type fileRegistry struct {
	path string
}

func (r *fileRegistry) snapshot(_ context.Context) (registrySnapshot, error) {
	content, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("cannot read registry file %s: %w", r.path, err)
	}

	snapshot := registrySnapshot{}
	if err := yaml.Unmarshal(content, &snapshot); err != nil {
		return nil, fmt.Errorf("cannot parse registry file %s: %w", r.path, err)
	}
	return snapshot, nil
}
