package pylon

import "expvar"

// clientMetrics record gateway and pipeline activity counters.
type clientMetrics struct {
	framesRecv     expvar.Int
	framesSent     expvar.Int
	eventsApplied  expvar.Int // dispatch frames applied to the cache
	eventsDropped  expvar.Int // dispatch frames dropped (unknown guild, bad payload)
	identifies     expvar.Int
	resumes        expvar.Int
	reconnects     expvar.Int
	heartbeats     expvar.Int
	heartbeatMiss  expvar.Int // reconnects forced by a missed heartbeat ack
	handlerInvokes expvar.Int

	emap *expvar.Map
}

var metrics = newClientMetrics()

func newClientMetrics() *clientMetrics {
	m := &clientMetrics{emap: new(expvar.Map)}
	m.emap.Set("frames_received", &m.framesRecv)
	m.emap.Set("frames_sent", &m.framesSent)
	m.emap.Set("events_applied", &m.eventsApplied)
	m.emap.Set("events_dropped", &m.eventsDropped)
	m.emap.Set("identifies", &m.identifies)
	m.emap.Set("resumes", &m.resumes)
	m.emap.Set("reconnects", &m.reconnects)
	m.emap.Set("heartbeats", &m.heartbeats)
	m.emap.Set("heartbeats_missed", &m.heartbeatMiss)
	m.emap.Set("handler_invocations", &m.handlerInvokes)
	return m
}
