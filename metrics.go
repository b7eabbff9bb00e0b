// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package relay

import "expvar"

// relayMetrics record broker activity counters.
type relayMetrics struct {
	framesRecv    expvar.Int
	framesSent    expvar.Int
	framesDropped expvar.Int // responses with no pending call
	parseErrors   expvar.Int // frames that did not decode
	callOut       expvar.Int // number of caller requests issued
	callOutErr    expvar.Int // number of caller requests reporting an error
	callTimeout   expvar.Int // number of caller requests that timed out
	callPending   expvar.Int // gauge of caller requests awaiting a response
	callIn        expvar.Int // number of requests received from the peer
	connects      expvar.Int
	disconnects   expvar.Int
	connected     expvar.Int // gauge: 1 while a peer is connected

	emap *expvar.Map
}

var brokerMetrics = newRelayMetrics()

func newRelayMetrics() *relayMetrics {
	rm := &relayMetrics{emap: new(expvar.Map)}
	rm.emap.Set("frames_received", &rm.framesRecv)
	rm.emap.Set("frames_sent", &rm.framesSent)
	rm.emap.Set("frames_dropped", &rm.framesDropped)
	rm.emap.Set("parse_errors", &rm.parseErrors)
	rm.emap.Set("calls_out", &rm.callOut)
	rm.emap.Set("calls_out_failed", &rm.callOutErr)
	rm.emap.Set("calls_timeout", &rm.callTimeout)
	rm.emap.Set("calls_pending", &rm.callPending)
	rm.emap.Set("calls_in", &rm.callIn)
	rm.emap.Set("peer_connects", &rm.connects)
	rm.emap.Set("peer_disconnects", &rm.disconnects)
	rm.emap.Set("peer_connected", &rm.connected)
	return rm
}

// Metrics returns the metrics map shared by all brokers in the process. It is
// safe for the caller to add additional metrics to the map.
func Metrics() *expvar.Map { return brokerMetrics.emap }
