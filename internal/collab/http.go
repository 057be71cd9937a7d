/*
PURPOSE:
  JSON-over-HTTP adapters for collaborators that expose a small control API
  instead of files.

REQUIREMENTS:
  User-specified:
  - Every collaborator call carries a timeout.
  - reject(reason) and unavailability stay distinguishable.

  Implementation-discovered:
  - A daemon applying a large configuration can hold the connection open
    before answering; bound the header wait separately from the dial.
  - Endpoints: POST /params, GET /metrics (workload);
    POST /limits, GET /state (agent); POST /reset (both).

ARCHITECTURE INTEGRATION:
  - Implements: collab.Workload (HTTPWorkload), collab.Agent (HTTPAgent)
  - Built by: internal/cli from config.CollaboratorConfig

ERROR HANDLING:
  - 4xx -> *RejectError with the response body as the reason, except 408
    and 429, which mean "try again later".
  - Transport errors, timeouts, 5xx, 408, 429, undecodable bodies -> ErrUnavailable.

IMPLEMENTATION RULES:
  - Use net/http with a cloned default transport.
  - Never retry here; the collector owns retries.

USAGE:
  w := collab.NewHTTPWorkload("http://127.0.0.1:8080", 2*time.Second)

SELF-HEALING INSTRUCTIONS:
  - If the daemon moves endpoints, update the path constants.

RELATED FILES:
  - internal/collab/collab.go
  - internal/engine/collector.go

MAINTENANCE:
  - Keep the sample wire format in sync with model.MetricSample.
*/

package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/output"
)

const (
	pathParams  = "/params"
	pathMetrics = "/metrics"
	pathLimits  = "/limits"
	pathState   = "/state"
	pathReset   = "/reset"
)

// DefaultCallTimeout bounds a single HTTP exchange when none is configured.
const DefaultCallTimeout = 5 * time.Second

type wireSample struct {
	Metric    string    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type samplesPayload struct {
	Samples []wireSample `json:"samples"`
}

type peer struct {
	src     model.Source
	base    string
	timeout time.Duration
	client  *http.Client
}

func newPeer(src model.Source, baseURL string, timeout time.Duration) peer {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return peer{
		src:     src,
		base:    strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{Transport: transport},
	}
}

func (p peer) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			output.Logger.Debug("Collaborator connected", "source", p.src, "reused", info.Reused)
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, Reject(p.src, "unencodable params: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Unavailable(p.src, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Unavailable(p.src, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return nil, Unavailable(p.src, fmt.Errorf("%s %s: %s", method, path, resp.Status))
	case resp.StatusCode >= 400:
		reason := strings.TrimSpace(string(respBody))
		if reason == "" {
			reason = resp.Status
		}
		return nil, Reject(p.src, "%s", reason)
	}
	return respBody, nil
}

func (p peer) samples(ctx context.Context, path string) ([]model.MetricSample, error) {
	body, err := p.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var payload samplesPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, Unavailable(p.src, fmt.Errorf("decode %s: %w", path, err))
	}
	out := make([]model.MetricSample, 0, len(payload.Samples))
	for _, s := range payload.Samples {
		out = append(out, model.MetricSample{
			Source:    p.src,
			Metric:    s.Metric,
			Timestamp: s.Timestamp,
			Value:     s.Value,
		})
	}
	return out, nil
}

func (p peer) reset(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodPost, pathReset, struct{}{})
	return err
}

// HTTPWorkload talks to a workload generator's control API.
type HTTPWorkload struct {
	peer peer
}

// NewHTTPWorkload returns a workload adapter for baseURL.
func NewHTTPWorkload(baseURL string, timeout time.Duration) *HTTPWorkload {
	return &HTTPWorkload{peer: newPeer(model.SourceWorkload, baseURL, timeout)}
}

func (w *HTTPWorkload) Configure(ctx context.Context, p Params) error {
	_, err := w.peer.do(ctx, http.MethodPost, pathParams, p)
	return err
}

func (w *HTTPWorkload) ReadMetrics(ctx context.Context) ([]model.MetricSample, error) {
	return w.peer.samples(ctx, pathMetrics)
}

func (w *HTTPWorkload) Reset(ctx context.Context) error {
	return w.peer.reset(ctx)
}

// HTTPAgent talks to a resource-control agent's control API.
type HTTPAgent struct {
	peer peer
}

// NewHTTPAgent returns an agent adapter for baseURL.
func NewHTTPAgent(baseURL string, timeout time.Duration) *HTTPAgent {
	return &HTTPAgent{peer: newPeer(model.SourceAgent, baseURL, timeout)}
}

func (a *HTTPAgent) ApplyLimits(ctx context.Context, p Params) error {
	_, err := a.peer.do(ctx, http.MethodPost, pathLimits, p)
	return err
}

func (a *HTTPAgent) ReadState(ctx context.Context) ([]model.MetricSample, error) {
	return a.peer.samples(ctx, pathState)
}

func (a *HTTPAgent) Reset(ctx context.Context) error {
	return a.peer.reset(ctx)
}
