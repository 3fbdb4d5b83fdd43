package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	log "github.com/Financial-Times/go-logger"
	"github.com/Financial-Times/kafka-client-go/v3"
)

const (
	systemCode      = "classification-orchestrator"
	defaultSeverity = uint8(2)
	panicGuide      = "https://runbooks.in.ft.com/classification-orchestrator"
)

type healthcheckResponse struct {
	Name   string
	Checks []struct {
		Name             string
		OK               bool
		Severity         uint8
		TechnicalSummary string
	}
}

type healthcheckService interface {
	checkEndpointHealth(ctx context.Context, ep endpoint) (string, error)
}

type httpHealthcheckService struct {
	httpClient httpClient
}

func (hs *httpHealthcheckService) checkEndpointHealth(ctx context.Context, ep endpoint) (string, error) {
	health, err := hs.getHealthChecksForEndpoint(ctx, ep)
	if err != nil {
		return "", err
	}

	for _, check := range health.Checks {
		if !check.OK {
			// consumer lag on the backend does not stop it from answering requests
			if check.TechnicalSummary == kafka.LagTechnicalSummary {
				log.Debugf("Service %s is lagging behind when reading from Kafka", ep.name)
				continue
			}
			return "", fmt.Errorf("failing check is: %s", check.Name)
		}
	}

	return fmt.Sprintf("%s is healthy", ep.name), nil
}

func (hs *httpHealthcheckService) getHealthChecksForEndpoint(ctx context.Context, ep endpoint) (healthcheckResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/__health", ep.address()), nil)
	if err != nil {
		return healthcheckResponse{}, errors.New("Error constructing healthcheck request: " + err.Error())
	}

	req.Header.Set("Accept", "application/json")
	resp, err := hs.httpClient.Do(req)
	if err != nil {
		return healthcheckResponse{}, errors.New("Error performing healthcheck request: " + err.Error())
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			log.WithError(err).Errorf("Cannot close response body reader.")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return healthcheckResponse{}, fmt.Errorf("healthcheck endpoint returned non-200 status (%v)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return healthcheckResponse{}, errors.New("Error reading healthcheck response: " + err.Error())
	}

	health := &healthcheckResponse{}
	if err := json.Unmarshal(body, health); err != nil {
		return healthcheckResponse{}, errors.New("Error parsing healthcheck response: " + err.Error())
	}

	return *health, nil
}

func newEndpointHealthCheck(ctx context.Context, ep endpoint, role string, healthCheck healthcheckService) fthealth.Check {
	return fthealth.Check{
		BusinessImpact:   fmt.Sprintf("Messages may not get a %s classification until the %s recovers.", role, role),
		Name:             ep.name,
		PanicGuide:       panicGuide,
		Severity:         defaultSeverity,
		TechnicalSummary: fmt.Sprintf("The %s %s at %s is not healthy. Please check the panic guide.", role, ep.name, ep.address()),
		Checker: func() (string, error) {
			return healthCheck.checkEndpointHealth(ctx, ep)
		},
	}
}

func (c *orchestrationController) buildHealthResult(ctx context.Context) fthealth.HealthResult {
	_, caches, classifiers := c.components()

	checks := make([]fthealth.Check, 0, len(caches)+len(classifiers))
	for _, ep := range caches {
		checks = append(checks, newEndpointHealthCheck(ctx, ep, "cache replica", c.healthCheck))
	}
	for _, ks := range c.kinds {
		if ep, ok := classifiers[ks.service]; ok {
			checks = append(checks, newEndpointHealthCheck(ctx, ep, ks.kind+" classifier", c.healthCheck))
		}
	}

	health := fthealth.RunCheck(fthealth.HealthCheck{
		SystemCode:  systemCode,
		Name:        "Classification Orchestrator",
		Description: fmt.Sprintf("Cache replicas and classifiers used by the %s classification orchestrator", c.environment),
		Checks:      checks,
	})

	sort.Sort(byNameComparator(health.Checks))
	return health
}

// goodToGo holds as long as one cache replica is healthy, as lookups fail over between them.
func (c *orchestrationController) goodToGo(ctx context.Context) (bool, string) {
	_, caches, _ := c.components()
	if len(caches) == 0 {
		return false, errNotStarted.Error()
	}

	var failures []string
	for _, ep := range caches {
		if _, err := c.healthCheck.checkEndpointHealth(ctx, ep); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", ep.name, err.Error()))
			continue
		}
		return true, ""
	}

	return false, "no healthy cache replica: " + strings.Join(failures, "; ")
}

type byNameComparator []fthealth.CheckResult

func (s byNameComparator) Less(i, j int) bool {
	return s[i].Name < s[j].Name
}

func (s byNameComparator) Len() int {
	return len(s)
}

func (s byNameComparator) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}
