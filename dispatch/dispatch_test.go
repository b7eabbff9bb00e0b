// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/relay/wire"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

func echo(_ context.Context, params json.RawMessage) (any, error) { return params, nil }

func TestDispatch(t *testing.T) {
	tab := dispatch.New().
		Handle("echo", echo).
		Handle("fail", func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("catalog unavailable")
		}).
		Handle("typed", func(context.Context, json.RawMessage) (any, error) {
			return nil, wire.Errorf(-32010, "no photos selected").WithData([]string{"hint"})
		}).
		Handle("panic", func(context.Context, json.RawMessage) (any, error) {
			panic("kaboom")
		}).
		Handle("value", func(context.Context, json.RawMessage) (any, error) {
			return map[string]int{"a": 1}, nil
		}).
		Handle("badjson", func(context.Context, json.RawMessage) (any, error) {
			return json.RawMessage(`{"a":`), nil
		}).
		HandleCatalog()

	ctx := context.Background()
	tests := []struct {
		name   string
		req    *wire.Message
		result string
		code   wire.Code
	}{
		{"Echo", wire.NewRequest(1, "echo", []byte(`{"x":true}`)), `{"x":true}`, 0},
		{"Value", wire.NewRequest(2, "value", nil), `{"a":1}`, 0},
		{"Unknown", wire.NewRequest(3, "bad_method", nil), "", wire.CodeMethodNotFound},
		{"Error", wire.NewRequest(4, "fail", nil), "", wire.CodeInternalError},
		{"Typed", wire.NewRequest(5, "typed", nil), "", -32010},
		{"Panic", wire.NewRequest(6, "panic", nil), "", wire.CodeInternalError},
		{"BadJSON", wire.NewRequest(7, "badjson", nil), "", wire.CodeInternalError},
		{"Catalog", wire.NewRequest(8, dispatch.CatalogMethod, nil),
			`["badjson","echo","fail","panic","rpc.methods","typed","value"]`, 0},
		{"NotRequest", wire.NewResult(9, []byte("1")), "", wire.CodeInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rsp := tab.Dispatch(ctx, tc.req)
			if rsp == nil {
				t.Fatal("Dispatch: got nil response")
			}
			if rsp.ID != tc.req.ID {
				t.Errorf("Response ID: got %d, want %d", rsp.ID, tc.req.ID)
			}
			if tc.code != 0 {
				if rsp.Error == nil {
					t.Fatalf("Dispatch: got %v, want error code %v", rsp, tc.code)
				} else if rsp.Error.Code != tc.code {
					t.Errorf("Error code: got %v, want %v", rsp.Error.Code, tc.code)
				}
				t.Logf("Error: %v data=%s", rsp.Error, rsp.Error.Data)
				return
			}
			if rsp.Error != nil {
				t.Fatalf("Dispatch: unexpected error: %v", rsp.Error)
			}
			if got := string(rsp.Result); got != tc.result {
				t.Errorf("Result: got %s, want %s", got, tc.result)
			}
		})
	}
}

func TestDiagnosticData(t *testing.T) {
	tab := dispatch.New().Handle("panic", func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	})
	_, err := tab.Exec(context.Background(), "panic", nil)
	eo := wire.AsErrorObject(err)

	var data map[string]string
	if err := json.Unmarshal(eo.Data, &data); err != nil {
		t.Fatalf("Decode error data: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"method": "panic", "panic": "kaboom"}, data); diff != "" {
		t.Errorf("Error data (-want, +got):\n%s", diff)
	}
}

func TestNotification(t *testing.T) {
	var called bool
	tab := dispatch.New().Handle("note", func(context.Context, json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})
	req := wire.NewRequest(0, "note", nil)
	req.NullID = true
	if rsp := tab.Dispatch(context.Background(), req); rsp != nil {
		t.Errorf("Dispatch notification: got %v, want nil", rsp)
	}
	if !called {
		t.Error("Handler was not called for a notification")
	}
}

func TestRegistration(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		mtest.MustPanic(t, func() { dispatch.New().Handle("", echo) })
	})
	t.Run("Nil", func(t *testing.T) {
		mtest.MustPanic(t, func() { dispatch.New().Handle("x", nil) })
	})
	t.Run("Duplicate", func(t *testing.T) {
		mtest.MustPanic(t, func() { dispatch.New().Handle("x", echo).Handle("x", echo) })
	})
	t.Run("Frozen", func(t *testing.T) {
		tab := dispatch.New().Handle("x", echo)
		if _, err := tab.Exec(context.Background(), "x", nil); err != nil {
			t.Fatalf("Exec: unexpected error: %v", err)
		}
		mtest.MustPanic(t, func() { tab.Handle("y", echo) })

		if diff := cmp.Diff([]string{"x"}, tab.Methods()); diff != "" {
			t.Errorf("Methods (-want, +got):\n%s", diff)
		}
	})
}
