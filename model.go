package main

import (
	"encoding/json"
	"net"
	"strconv"
)

type endpoint struct {
	name   string
	host   string
	port   int
	secret string
}

func (e endpoint) address() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

// result is what a fan-out worker records for one logical name.
// A non-nil err is the failure marker; prediction is only meaningful when err is nil.
type result struct {
	prediction json.RawMessage
	err        error
}

func (r result) ok() bool {
	return r.err == nil
}

type kindResult struct {
	Prediction json.RawMessage `json:"prediction"`
	Cached     bool            `json:"cached"`
	OK         bool            `json:"ok"`
}

type classification struct {
	CorrelationID string                `json:"correlation_id"`
	Results       map[string]kindResult `json:"results"`
}

type cacheRequest struct {
	Text    string `json:"text"`
	Service string `json:"service"`
}

type serveRequest struct {
	Text          string `json:"text"`
	CorrelationID string `json:"correlation_id"`
}
