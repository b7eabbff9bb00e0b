// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package httpapi implements the caller-facing HTTP surface of a relay broker.
//
// Routes:
//
//	POST /call        forward a call to the peer and report its outcome
//	GET  /health      liveness probe
//	GET  /status      broker statistics and recent events
//	GET  /events      websocket stream of broker events
//	GET  /debug/vars  expvar metrics
//
// A call body has the form
//
//	{"method": "get_selection", "params": {...}, "timeout": "2s"}
//
// and the response is either {"result": ...} or {"error": {...}}.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/creachadair/relay"
	"github.com/creachadair/relay/wire"
	"github.com/creachadair/taskgroup"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultMaxBodyBytes is the default limit on the size of a call body.
const DefaultMaxBodyBytes = 4 << 20

// Options are settings for a Server. A nil *Options is ready for use and
// provides default values as described.
type Options struct {
	// Logger receives request logs. If nil, logs are discarded.
	Logger *zerolog.Logger

	// RateLimit is the number of calls per second accepted on /call.
	// If zero or negative, calls are not limited.
	RateLimit float64

	// RateBurst is the largest burst of calls accepted at once when
	// RateLimit > 0. If zero, 1 is used.
	RateBurst int

	// AllowOrigins lists the origins that may open the event stream.
	// Requests with no Origin header, or whose origin matches the host of
	// the request, are always allowed.
	AllowOrigins []string

	// MaxBodyBytes bounds the size of a call body.
	// If zero, DefaultMaxBodyBytes is used.
	MaxBodyBytes int64
}

func (o *Options) logger() zerolog.Logger {
	if o == nil || o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

func (o *Options) limiter() *rate.Limiter {
	if o == nil || o.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(o.RateLimit), max(o.RateBurst, 1))
}

func (o *Options) allowOrigins() []string {
	if o == nil {
		return nil
	}
	return o.AllowOrigins
}

func (o *Options) maxBodyBytes() int64 {
	if o == nil || o.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return o.MaxBodyBytes
}

// A Server exposes a broker to HTTP callers. It implements http.Handler.
type Server struct {
	b       *relay.Broker
	log     zerolog.Logger
	limit   *rate.Limiter // nil for no limit
	maxBody int64
	origins []string
	router  *mux.Router
	up      websocket.Upgrader
}

// New constructs a Server that forwards calls to b.
func New(b *relay.Broker, opts *Options) *Server {
	s := &Server{
		b:       b,
		log:     opts.logger(),
		limit:   opts.limiter(),
		maxBody: opts.maxBodyBytes(),
		origins: opts.allowOrigins(),
	}
	s.up = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	r := mux.NewRouter()
	r.HandleFunc("/call", s.handleCall).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.Handle("/debug/vars", expvar.Handler()).Methods(http.MethodGet)
	r.Use(s.logRequests)
	s.router = r
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Run serves HTTP requests on lst until ctx ends, then shuts down the server
// and waits for active requests to finish. Run returns nil if the server
// stopped because ctx ended.
func (s *Server) Run(ctx context.Context, lst net.Listener) error {
	hs := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	done := make(chan struct{})
	shut := taskgroup.Go(func() error {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown incomplete")
			return hs.Close()
		}
		return nil
	})

	err := hs.Serve(lst)
	close(done)
	shut.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// CallRequest is the body of a POST /call request.
type CallRequest struct {
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Timeout string          `json:"timeout,omitempty"` // e.g., "2s"; empty for the broker default
}

// CallResponse is the body of a response to POST /call. Exactly one of
// Result and Error is set.
type CallResponse struct {
	Result json.RawMessage   `json:"result,omitempty"`
	Error  *wire.ErrorObject `json:"error,omitempty"`
}

// Health is the body of a response to GET /health.
type Health struct {
	OK       bool   `json:"ok"`
	Instance string `json:"instance"`
	Peer     bool   `json:"peer"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if s.limit != nil && !s.limit.Allow() {
		writeJSON(w, http.StatusTooManyRequests, CallResponse{Error: relay.ErrorObject(relay.ErrRateLimited)})
		return
	}

	var req CallRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CallResponse{
			Error: wire.Errorf(wire.CodeInvalidRequest, "invalid call body: %v", err),
		})
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusBadRequest, CallResponse{
			Error: wire.Errorf(wire.CodeInvalidRequest, "missing method name"),
		})
		return
	}
	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, CallResponse{
				Error: wire.Errorf(wire.CodeInvalidRequest, "invalid timeout %q", req.Timeout),
			})
			return
		}
		timeout = d
	}
	var params any
	if len(req.Params) != 0 && !bytes.Equal(req.Params, []byte("null")) {
		params = req.Params
	}

	result, err := s.b.Call(r.Context(), req.Method, params, timeout)
	if err != nil {
		writeJSON(w, callStatus(err), CallResponse{Error: relay.ErrorObject(err)})
		return
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, CallResponse{Result: result})
}

// callStatus maps an error from Broker.Call to an HTTP status code.
func callStatus(err error) int {
	var pe *relay.PeerError
	var xe *relay.ProtocolError
	switch {
	case errors.As(err, &pe):
		return http.StatusOK // the call worked; the peer reported failure
	case errors.As(err, &xe):
		return http.StatusBadGateway
	case errors.Is(err, relay.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, relay.ErrNotConnected), errors.Is(err, relay.ErrDisconnected),
		errors.Is(err, relay.ErrClosed), errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{OK: true, Instance: s.b.Instance(), Peer: s.b.Connected()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.b.Stats())
}

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the upgrade, so that the client sees every event
	// published after its handshake completes.
	evs, cancel := s.b.Subscribe(eventBuffer)
	defer cancel()

	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already reported the failure to the client.
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The client sends nothing; reading detects when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-evs:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "broker closed"),
					time.Now().Add(writeTimeout))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error().Err(err).Msg("encode event")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("event stream closed")
				return
			}
		}
	}
}

// checkOrigin reports whether r may open the event stream.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, origin) || slices.Contains(s.origins, "*") {
		return true
	}
	_, host, ok := strings.Cut(origin, "://")
	return ok && strings.EqualFold(host, r.Host)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(data, '\n'))
}
