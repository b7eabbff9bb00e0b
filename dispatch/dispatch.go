// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package dispatch implements a closed table of command handlers keyed by
// method name.
//
// A Table is populated at startup and then frozen. Dispatch looks up method
// names only in the table, so a caller cannot reach any capability that was
// not explicitly registered:
//
//	tab := dispatch.New().
//	   Handle("get_studio_info", studioInfo).
//	   Handle("set_metadata", setMetadata)
//
//	rsp := tab.Dispatch(ctx, req)
//
// Unknown methods are reported with [wire.CodeMethodNotFound]. A handler that
// panics or reports an error other than a *wire.ErrorObject is reported with
// [wire.CodeInternalError], carrying diagnostic data. Faults never propagate
// past the table as panics.
package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/creachadair/relay/wire"
	"github.com/goccy/go-json"
)

// A Handler executes a command with the given encoded parameters. The result
// is encoded as JSON; a json.RawMessage result is sent verbatim.
//
// By default an error reported by a handler is returned to the caller with
// code wire.CodeInternalError and the text of the error as its message. A
// handler may return a *wire.ErrorObject to control the code, message, and
// data reported to the caller.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// CatalogMethod is the conventional name of the method that lists the
// methods of a table. See [Table.HandleCatalog].
const CatalogMethod = "rpc.methods"

// A Table maps method names to handlers. A zero Table is not ready for use;
// use New to construct one.
//
// Handlers may only be added before the first call to Exec or Dispatch;
// after that the table is frozen and Handle panics.
type Table struct {
	once sync.Once

	μ       sync.Mutex
	frozen  bool
	methods map[string]Handler
}

// New constructs a new empty Table.
func New() *Table { return &Table{methods: make(map[string]Handler)} }

// Handle registers h for the specified method name, and returns t to permit
// chaining. It panics if name is empty or already registered, if h is nil,
// or if t is frozen.
func (t *Table) Handle(name string, h Handler) *Table {
	if name == "" {
		panic("empty method name")
	} else if h == nil {
		panic(fmt.Sprintf("nil handler for method %q", name))
	}
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.frozen {
		panic(fmt.Sprintf("cannot add method %q to a frozen table", name))
	} else if _, ok := t.methods[name]; ok {
		panic(fmt.Sprintf("duplicate method %q", name))
	}
	t.methods[name] = h
	return t
}

// HandleCatalog registers a handler for CatalogMethod that reports the sorted
// names of all the methods in t, and returns t to permit chaining.
func (t *Table) HandleCatalog() *Table {
	return t.Handle(CatalogMethod, func(context.Context, json.RawMessage) (any, error) {
		return t.Methods(), nil
	})
}

// Freeze prevents further changes to t, and returns t to permit chaining.
// Exec and Dispatch freeze the table implicitly.
func (t *Table) Freeze() *Table {
	t.once.Do(func() {
		t.μ.Lock()
		defer t.μ.Unlock()
		t.frozen = true
	})
	return t
}

// Methods returns the names of the methods registered in t, in sorted order.
func (t *Table) Methods() []string {
	t.μ.Lock()
	defer t.μ.Unlock()
	names := make([]string, 0, len(t.methods))
	for name := range t.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Exec executes the handler for method with the given parameters and returns
// its encoded result. Any error it reports has concrete type *wire.ErrorObject.
func (t *Table) Exec(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	t.Freeze()
	h, ok := t.methods[method] // the table no longer changes
	if !ok {
		return nil, wire.Errorf(wire.CodeMethodNotFound, "method %q not found", method).
			WithData(map[string]string{"method": method})
	}

	result, err := func() (_ any, err error) {
		// Ensure a panic out of the handler is turned into a graceful response.
		defer func() {
			if x := recover(); x != nil {
				err = wire.Errorf(wire.CodeInternalError, "handler panicked (recovered): %v", x).
					WithData(map[string]string{"method": method, "panic": fmt.Sprint(x)})
			}
		}()
		return h(ctx, params)
	}()
	if err != nil {
		eo := wire.AsErrorObject(err)
		if eo.Code == wire.CodeInternalError && eo.Data == nil {
			eo = eo.WithData(map[string]string{"method": method, "error": err.Error()})
		}
		return nil, eo
	}
	return encodeResult(method, result)
}

func encodeResult(method string, v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(t) == 0 {
			return json.RawMessage("null"), nil
		} else if !json.Valid(t) {
			return nil, wire.Errorf(wire.CodeInternalError, "method %q returned invalid JSON", method)
		}
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, wire.Errorf(wire.CodeInternalError, "encoding result: %v", err).
			WithData(map[string]string{"method": method})
	}
	return data, nil
}

// Dispatch executes the request req and returns the response to send back.
// If req is a notification (it has a null ID), Dispatch returns nil after the
// handler completes. If req is not a request, Dispatch reports an invalid
// request error.
func (t *Table) Dispatch(ctx context.Context, req *wire.Message) *wire.Message {
	if req.Kind() != wire.KindRequest {
		return req.Reply(nil, wire.Errorf(wire.CodeInvalidRequest, "message is not a request"))
	}
	result, err := t.Exec(context.WithValue(ctx, reqContextKey{}, req), req.Method, req.Params)
	if req.NullID {
		return nil
	}
	return req.Reply(result, err)
}

type reqContextKey struct{}

// ContextRequest returns the request message being dispatched, or nil if ctx
// has no associated request. The context passed to a handler by Dispatch has
// this value.
func ContextRequest(ctx context.Context) *wire.Message {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*wire.Message)
	}
	return nil
}
