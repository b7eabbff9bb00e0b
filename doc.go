// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package relay implements a correlation broker between many short-lived
// callers and one long-running stateful peer.
//
// The peer dials in to the broker over a byte stream and stays connected.
// Callers issue calls to the broker, which forwards each one to the peer as a
// request envelope carrying a fresh identifier, and matches the response from
// the peer back to the caller waiting for it. The peer may answer in any
// order.
//
// # Brokers
//
// The core type defined by this package is the [Broker]:
//
//	b := relay.New(&relay.Options{DefaultTimeout: 10 * time.Second})
//
// To accept peer connections, call Serve with an [Accepter]. The peers
// package provides an implementation for network listeners:
//
//	lst, err := net.Listen(relay.SplitAddress(addr))
//	...
//	go b.Serve(ctx, peers.NetAccepter(lst))
//
// The broker services one peer at a time. When the peer disconnects, every
// pending call fails with [ErrDisconnected] and the broker returns to waiting
// for a peer.
//
// # Calls
//
// To call a method on the peer:
//
//	result, err := b.Call(ctx, "get_studio_info", nil, 2*time.Second)
//
// Call returns the encoded result reported by the peer. Errors returned by
// Call have concrete type [*CallError]. Use errors.Is to distinguish
// infrastructure failures ([ErrNotConnected], [ErrTimeout], [ErrDisconnected])
// from errors reported by the peer itself ([*PeerError]); [Retryable] reports
// whether a failure warrants reconnecting and retrying.
//
// A timeout ends the wait of the caller, not the request: the peer may still
// act on it, and a response arriving late is discarded.
//
// # Channels
//
// The [Channel] interface defines the ability to send and receive envelopes.
// The channel package provides implementations over an in-memory pipe and
// over a byte stream using the framing rules of the wire package.
//
// # Metrics
//
// Brokers maintain a collection of metrics while running. Use [Metrics] to
// obtain an [expvar.Map] containing them. Metrics are shared among all
// brokers in the process. The metrics currently exported include:
//
//   - frames_received: counter of envelopes received from the peer
//   - frames_sent: counter of envelopes sent to the peer
//   - frames_dropped: counter of responses discarded with no pending call
//   - parse_errors: counter of frames that could not be decoded
//   - calls_out: counter of calls issued to the peer
//   - calls_out_failed: counter of calls resulting in errors
//   - calls_timeout: counter of calls that timed out
//   - calls_pending: gauge of calls awaiting a response
//   - calls_in: counter of requests received from the peer
//   - peer_connects: counter of peer connections accepted
//   - peer_disconnects: counter of peer connections lost
//   - peer_connected: gauge, 1 while a peer is connected
package relay
