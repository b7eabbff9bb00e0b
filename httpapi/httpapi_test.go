// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/creachadair/relay"
	"github.com/creachadair/relay/agent"
	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/relay/httpapi"
	"github.com/creachadair/relay/peers"
	"github.com/creachadair/relay/wire"
	"github.com/fortytw2/leaktest"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

type testServer struct {
	*httptest.Server
	loc     *peers.Local
	release chan struct{}
}

// newServer starts a broker connected to a local agent, with an HTTP server
// in front of it. The agent serves a studio, plus a "stall" method that does
// not reply until the server is stopped.
func newServer(t *testing.T, opts *httpapi.Options) *testServer {
	t.Helper()
	release := make(chan struct{})
	st := agent.NewStudio("Test", "/test.lrcat", agent.Photo{ID: 1, Filename: "a.dng"})
	tab := st.Register(dispatch.New()).
		Handle("stall", func(context.Context, json.RawMessage) (any, error) {
			<-release
			return nil, nil
		})
	loc := peers.NewLocal(tab, nil)
	ts := &testServer{
		Server:  httptest.NewServer(httpapi.New(loc.Broker, opts)),
		loc:     loc,
		release: release,
	}
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	close(ts.release)
	ts.Close()
	if err := ts.loc.Stop(); err != nil {
		t.Errorf("Stop: unexpected error: %v", err)
	}
}

func (ts *testServer) post(t *testing.T, body string) (int, httpapi.CallResponse) {
	t.Helper()
	rsp, err := http.Post(ts.URL+"/call", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /call: %v", err)
	}
	defer rsp.Body.Close()
	var cr httpapi.CallResponse
	if err := json.NewDecoder(rsp.Body).Decode(&cr); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	return rsp.StatusCode, cr
}

func (ts *testServer) get(t *testing.T, path string, v any) {
	t.Helper()
	rsp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, rsp.StatusCode)
	}
	if err := json.NewDecoder(rsp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
}

func TestCall(t *testing.T) {
	defer leaktest.Check(t)()
	ts := newServer(t, nil)
	defer ts.stop(t)

	tests := []struct {
		name   string
		body   string
		status int
		result string
		code   wire.Code
	}{
		{"OK", `{"method":"get_studio_info"}`, http.StatusOK,
			`{"catalog_name":"Test","catalog_path":"/test.lrcat","plugin_version":"1.0","photos":1}`, 0},
		{"NullParams", `{"method":"get_selection","params":null}`, http.StatusOK,
			`{"count":0,"photos":[]}`, 0},
		{"NoMethod", `{"method":"nonesuch"}`, http.StatusOK, "", wire.CodeMethodNotFound},
		{"BadParams", `{"method":"set_metadata","params":{"rating":9}}`, http.StatusOK, "", wire.CodeInvalidParams},
		{"PeerFailure", `{"method":"set_metadata","params":{"rating":1}}`, http.StatusOK, "", wire.CodeInternalError},
		{"Timeout", `{"method":"stall","timeout":"10ms"}`, http.StatusGatewayTimeout, "", wire.CodeTimeout},
		{"BadBody", `{"method":`, http.StatusBadRequest, "", wire.CodeInvalidRequest},
		{"UnknownField", `{"method":"x","bogus":1}`, http.StatusBadRequest, "", wire.CodeInvalidRequest},
		{"EmptyMethod", `{"params":[]}`, http.StatusBadRequest, "", wire.CodeInvalidRequest},
		{"BadTimeout", `{"method":"x","timeout":"soon"}`, http.StatusBadRequest, "", wire.CodeInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, rsp := ts.post(t, tc.body)
			if status != tc.status {
				t.Errorf("Status: got %d, want %d", status, tc.status)
			}
			if tc.code != 0 {
				if rsp.Error == nil || rsp.Error.Code != tc.code {
					t.Errorf("Error: got %+v, want code %v", rsp.Error, tc.code)
				}
				return
			}
			if rsp.Error != nil {
				t.Fatalf("Error: unexpected %+v", rsp.Error)
			}
			if got := string(rsp.Result); got != tc.result {
				t.Errorf("Result: got %s, want %s", got, tc.result)
			}
		})
	}
}

func TestNotConnected(t *testing.T) {
	defer leaktest.Check(t)()
	ts := newServer(t, nil)
	defer ts.stop(t)
	ts.loc.Disconnect()

	status, rsp := ts.post(t, `{"method":"get_selection"}`)
	if status != http.StatusServiceUnavailable {
		t.Errorf("Status: got %d, want %d", status, http.StatusServiceUnavailable)
	}
	if rsp.Error == nil || rsp.Error.Code != wire.CodeNotConnected {
		t.Errorf("Error: got %+v, want code %v", rsp.Error, wire.CodeNotConnected)
	}
	if !relay.Retryable(relay.FromErrorObject(rsp.Error)) {
		t.Errorf("Error %v should be retryable", rsp.Error)
	}

	var h httpapi.Health
	ts.get(t, "/health", &h)
	if !h.OK || h.Peer {
		t.Errorf("Health: got %+v, want ok without peer", h)
	}
}

func TestRateLimit(t *testing.T) {
	defer leaktest.Check(t)()
	ts := newServer(t, &httpapi.Options{RateLimit: 0.001, RateBurst: 2})
	defer ts.stop(t)

	var codes []int
	for range 3 {
		status, _ := ts.post(t, `{"method":"get_selection"}`)
		codes = append(codes, status)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("Status codes (-want, +got):\n%s", diff)
	}
}

func TestHealthStatus(t *testing.T) {
	defer leaktest.Check(t)()
	ts := newServer(t, nil)
	defer ts.stop(t)

	var h httpapi.Health
	ts.get(t, "/health", &h)
	if !h.OK || !h.Peer || h.Instance != ts.loc.Broker.Instance() {
		t.Errorf("Health: got %+v", h)
	}

	ts.post(t, `{"method":"get_selection"}`)
	ts.post(t, `{"method":"nonesuch"}`)

	var st relay.Stats
	ts.get(t, "/status", &st)
	if !st.Connected || st.ConnectedSince == nil {
		t.Errorf("Status: got %+v, want connected", st)
	}
	if st.Calls != 2 || st.Succeeded != 1 || st.Failed != 1 {
		t.Errorf("Status: calls %d/%d/%d, want 2/1/1", st.Calls, st.Succeeded, st.Failed)
	}

	var vars map[string]any
	ts.get(t, "/debug/vars", &vars)
	if _, ok := vars["cmdline"]; !ok {
		t.Errorf("Metrics: got %v, want expvar defaults", vars)
	}

	rsp, err := http.Get(ts.URL + "/call")
	if err != nil {
		t.Fatalf("GET /call: %v", err)
	}
	rsp.Body.Close()
	if rsp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /call: got status %d, want %d", rsp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestEvents(t *testing.T) {
	defer leaktest.Check(t)()
	ts := newServer(t, &httpapi.Options{AllowOrigins: []string{"http://trusted.example"}})
	defer ts.stop(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"

	t.Run("Stream", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer conn.Close()

		ts.post(t, `{"method":"get_studio_info"}`)
		ts.loc.Disconnect()

		var got []relay.EventKind
		for len(got) < 2 {
			_, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			var ev relay.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Fatalf("Decode event: %v", err)
			}
			got = append(got, ev.Kind)
		}
		want := []relay.EventKind{relay.EventCall, relay.EventPeerDisconnected}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Events (-want, +got):\n%s", diff)
		}
		ts.loc.Connect()
	})

	t.Run("Origin", func(t *testing.T) {
		for _, origin := range []string{"http://trusted.example", ts.URL} {
			hdr := http.Header{"Origin": []string{origin}}
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
			if err != nil {
				t.Errorf("Dial from %q: unexpected error: %v", origin, err)
				continue
			}
			conn.Close()
		}

		hdr := http.Header{"Origin": []string{"http://evil.example"}}
		conn, rsp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
		if err == nil {
			conn.Close()
			t.Fatal("Dial from untrusted origin: got nil error")
		}
		if rsp == nil || rsp.StatusCode != http.StatusForbidden {
			t.Errorf("Dial from untrusted origin: got %v, want status 403", rsp)
		}
	})
}
