package engine

import (
	"context"
	"time"
)

// MetricsRecorder receives engine measurements.
type MetricsRecorder interface {
	RecordTick(duration time.Duration)
	RecordSpikeEmitted(signal string)
	RecordSpikeWiped()
	SetLive(spikes, activations int)
	RecordFiring(ctx context.Context, state, result string, duration time.Duration)
	RecordFiringFailure(state string)
	RecordPressureRelease()
	RecordConsentRefused()
}

// EventBroadcaster publishes spike and activation lifecycle events.
type EventBroadcaster interface {
	BroadcastSpike(eventType, spikeID, signal string, age int64, group string)
	BroadcastActivation(eventType, activationID, state, detail string)
}

type nopMetrics struct{}

func (nopMetrics) RecordTick(time.Duration)                                    {}
func (nopMetrics) RecordSpikeEmitted(string)                                   {}
func (nopMetrics) RecordSpikeWiped()                                           {}
func (nopMetrics) SetLive(int, int)                                            {}
func (nopMetrics) RecordFiring(context.Context, string, string, time.Duration) {}
func (nopMetrics) RecordFiringFailure(string)                                  {}
func (nopMetrics) RecordPressureRelease()                                      {}
func (nopMetrics) RecordConsentRefused()                                       {}

type nopEvents struct{}

func (nopEvents) BroadcastSpike(string, string, string, int64, string) {}
func (nopEvents) BroadcastActivation(string, string, string, string)   {}
