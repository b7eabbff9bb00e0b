// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters to the dispatch.Handler type for
// functions with typed parameters and results.
//
// Parameters are decoded from JSON into a value of type P. An absent or null
// parameter value leaves P at its zero value. If P or *P has a method
//
//	Validate() error
//
// it is called after decoding. Parameters that fail to decode or validate are
// reported to the caller with code wire.CodeInvalidParams.
//
// Results are encoded as JSON by the dispatch table.
package handler

import (
	"context"
	"errors"

	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/relay/wire"
	"github.com/goccy/go-json"
)

// A Validator checks the values of decoded parameters.
type Validator interface {
	Validate() error
}

// ParamResultError adapts a function f that accepts parameters of type P and
// returns a result of type R and an error, to a dispatch.Handler.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) dispatch.Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p P
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		return f(ctx, p)
	}
}

// ParamResult adapts a function f that accepts parameters of type P and
// returns a result of type R without error, to a dispatch.Handler.
func ParamResult[P, R any](f func(context.Context, P) R) dispatch.Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p P
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		return f(ctx, p), nil
	}
}

// ParamError adapts a function f that accepts parameters of type P and returns
// an error with no result, to a dispatch.Handler. On success the result is
// null.
func ParamError[P any](f func(context.Context, P) error) dispatch.Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p P
		if err := unmarshal(params, &p); err != nil {
			return nil, err
		}
		return nil, f(ctx, p)
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to a dispatch.Handler. Any parameters sent
// by the caller are ignored.
func ResultError[R any](f func(context.Context) (R, error)) dispatch.Handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return f(ctx)
	}
}

// unmarshal decodes params into v, then validates it.
func unmarshal(params json.RawMessage, v any) error {
	if len(params) != 0 && string(params) != "null" {
		if err := json.Unmarshal(params, v); err != nil {
			return wire.Errorf(wire.CodeInvalidParams, "invalid parameters: %v", err)
		}
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			var eo *wire.ErrorObject
			if errors.As(err, &eo) {
				return eo
			}
			return wire.Errorf(wire.CodeInvalidParams, "invalid parameters: %v", err)
		}
	}
	return nil
}
