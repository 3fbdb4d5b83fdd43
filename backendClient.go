package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/Financial-Times/go-logger"
)

const (
	cachePath = "/cache"
	servePath = "/serve"
)

var (
	errNonSuccessStatus  = errors.New("backend returned non-200 status")
	errMalformedResponse = errors.New("malformed backend response")
	errNoPrediction      = errors.New("backend returned an empty prediction")
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type backendCaller interface {
	call(ctx context.Context, ep endpoint, path string, body []byte) (json.RawMessage, error)
}

type predictionResponse struct {
	Prediction json.RawMessage `json:"prediction"`
}

type httpBackendCaller struct {
	httpClient httpClient
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 100,
			DialContext: (&net.Dialer{
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

func newHTTPBackendCaller(client httpClient) *httpBackendCaller {
	return &httpBackendCaller{httpClient: client}
}

func (c *httpBackendCaller) call(ctx context.Context, ep endpoint, path string, body []byte) (json.RawMessage, error) {
	token, err := signPayload(ep.secret, body)
	if err != nil {
		return nil, fmt.Errorf("cannot sign request for %s: %w", ep.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s%s", ep.address(), path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cannot construct request for %s: %w", ep.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot call %s: %w", ep.name, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Errorf("Cannot close response body reader.")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w (%d) from %s", errNonSuccessStatus, resp.StatusCode, ep.name)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read response from %s: %w", ep.name, err)
	}

	return decodePrediction(payload)
}

func decodePrediction(payload []byte) (json.RawMessage, error) {
	var pr predictionResponse
	if err := json.Unmarshal(payload, &pr); err != nil {
		return nil, fmt.Errorf("%w: %s", errMalformedResponse, err.Error())
	}
	if len(pr.Prediction) == 0 {
		return nil, fmt.Errorf("%w: missing prediction field", errMalformedResponse)
	}
	if bytes.Equal(pr.Prediction, []byte("null")) {
		return nil, errNoPrediction
	}
	return pr.Prediction, nil
}
