// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package client implements the caller side of a relay broker. A Client
// issues calls over the HTTP surface of the broker, and reconstructs the
// typed errors of package relay from the error objects it reports.
//
//	c := client.New("http://127.0.0.1:8085", nil)
//	if err := c.Ensure(ctx, client.ExecLauncher{Path: "relay", Args: []string{"serve"}}, 10, 500*time.Millisecond); err != nil {
//	   log.Fatalf("Broker unavailable: %v", err)
//	}
//	info, err := c.GetStudioInfo(ctx)
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/creachadair/relay"
	"github.com/creachadair/relay/httpapi"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultURL is the default base URL of the broker HTTP surface.
const DefaultURL = "http://127.0.0.1:8085"

// ErrUnreachable is reported when the broker cannot be contacted.
var ErrUnreachable = errors.New("broker unreachable")

// Options are settings for a Client. A nil *Options is ready for use and
// provides default values as described.
type Options struct {
	// HTTPClient is used to issue requests. If nil, a client with no
	// overall timeout is used; calls are bounded by their contexts.
	HTTPClient *http.Client

	// ProbeTimeout bounds each liveness probe. If zero, 2s is used.
	ProbeTimeout time.Duration

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger
}

func (o *Options) httpClient() *http.Client {
	if o == nil || o.HTTPClient == nil {
		return new(http.Client)
	}
	return o.HTTPClient
}

func (o *Options) probeTimeout() time.Duration {
	if o == nil || o.ProbeTimeout <= 0 {
		return 2 * time.Second
	}
	return o.ProbeTimeout
}

func (o *Options) logger() zerolog.Logger {
	if o == nil || o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// A Client issues calls to a broker over HTTP. It is safe for concurrent use.
type Client struct {
	base  string
	hc    *http.Client
	probe time.Duration
	log   zerolog.Logger
}

// New constructs a client for the broker whose HTTP surface is at baseURL.
// If baseURL == "", DefaultURL is used.
func New(baseURL string, opts *Options) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		base:  strings.TrimSuffix(baseURL, "/"),
		hc:    opts.httpClient(),
		probe: opts.probeTimeout(),
		log:   opts.logger(),
	}
}

// Call invokes method on the peer with the given parameters, and returns the
// result reported by the peer. If timeout > 0, it overrides the default call
// timeout of the broker.
//
// If the call fails, the error has concrete type *relay.CallError, wrapping
// ErrUnreachable if the broker could not be contacted, or the error reported
// by the broker: one of relay.ErrNotConnected, relay.ErrTimeout,
// relay.ErrDisconnected, relay.ErrRateLimited, a *relay.PeerError, or a
// *relay.ProtocolError.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	result, err := c.call(ctx, method, params, timeout)
	if err != nil {
		return nil, &relay.CallError{Method: method, Err: err}
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	req := httpapi.CallRequest{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}
	if timeout > 0 {
		req.Timeout = timeout.String()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/call", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	rsp, err := c.hc.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer rsp.Body.Close()

	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var cr httpapi.CallResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("invalid response (status %d): %w", rsp.StatusCode, err)
	}
	if cr.Error != nil {
		c.log.Debug().Str("method", method).Int("status", rsp.StatusCode).
			Int("code", int(cr.Error.Code)).Msg("call failed")
		return nil, relay.FromErrorObject(cr.Error)
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", rsp.StatusCode)
	}
	return cr.Result, nil
}

// Health reports the health status of the broker.
func (c *Client) Health(ctx context.Context) (httpapi.Health, error) {
	var h httpapi.Health
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return h, err
	}
	return h, nil
}

// Status reports the statistics of the broker.
func (c *Client) Status(ctx context.Context) (relay.Stats, error) {
	var st relay.Stats
	if err := c.getJSON(ctx, "/status", &st); err != nil {
		return st, err
	}
	return st, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	rsp, err := c.hc.Do(hreq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, rsp.StatusCode)
	}
	return json.NewDecoder(rsp.Body).Decode(v)
}

// IsReachable reports whether the broker answers a liveness probe. It does
// not report whether the peer is connected.
func (c *Client) IsReachable(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, c.probe)
	defer cancel()
	h, err := c.Health(pctx)
	return err == nil && h.OK
}
