package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	errEmptyText  = errors.New("text must not be empty")
	errNotStarted = errors.New("no endpoints loaded yet")
)

// classify resolves every configured classification kind for text. Cached kinds are
// served by the cache pool; the rest go to their classifier services in one dispatch.
func (c *orchestrationController) classify(ctx context.Context, text string) (classification, error) {
	if strings.TrimSpace(text) == "" {
		return classification{}, errEmptyText
	}

	rotator, _, classifiers := c.components()
	if rotator == nil {
		return classification{}, errNotStarted
	}

	out := classification{
		CorrelationID: uuid.NewString(),
		Results:       make(map[string]kindResult, len(c.kinds)),
	}

	jobs := make(map[string]endpoint)
	for _, ks := range c.kinds {
		if prediction, ok := rotator.fetch(ctx, text, ks.kind); ok {
			out.Results[ks.kind] = kindResult{Prediction: prediction, Cached: true, OK: true}
			continue
		}
		jobs[ks.service] = classifiers[ks.service]
	}

	fresh, err := c.dispatcher.dispatch(ctx, jobs, serveRequest{Text: text, CorrelationID: out.CorrelationID})
	if err != nil {
		return classification{}, fmt.Errorf("cannot dispatch classification %s: %w", out.CorrelationID, err)
	}

	for _, ks := range c.kinds {
		if r, found := fresh[ks.service]; found {
			out.Results[ks.kind] = kindResult{Prediction: r.prediction, OK: r.ok()}
		}
	}

	return out, nil
}
