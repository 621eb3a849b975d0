package monitor

import (
	"context"
	"time"

	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

// RawEvent is one event as delivered by the host event-log or trace
// subscription, before it is turned into a formatted Record. Producing
// RawEvent values is the job of an external collaborator (spec §1: "the
// underlying OS APIs for event subscription... are out of scope");
// EventLogSubscriber and TraceSession below are the narrow contracts
// EventLogMonitor and TraceMonitor consume.
type RawEvent struct {
	Channel   string
	Provider  string
	Level     types.Level
	EventID   uint16
	Timestamp time.Time
	Message   string
	XML       string
	// Payload carries the raw trace event bytes for schema decoding
	// when Message has not already been rendered by the session.
	Payload []byte
}

// EventLogSubscriber is the host binding EventLogMonitor drives. A
// concrete implementation enumerates a query equivalent to "for each
// channel, events with severity <= the channel's threshold" and
// delivers results as they arrive (or in batches of up to N on poll).
type EventLogSubscriber interface {
	// EnableChannel ensures a channel is enabled before subscribing to it.
	EnableChannel(ctx context.Context, channel string) error
	// Subscribe opens a subscription over the given channels, starting
	// at the oldest available record if startAtOldest is true, else at
	// future-only. The returned channel is closed when ctx is canceled
	// or the subscription ends.
	Subscribe(ctx context.Context, channels []types.EventLogChannel, startAtOldest bool) (<-chan RawEvent, error)
}

// TraceSession is the host binding TraceMonitor drives: a real-time
// trace session bound to a set of providers. BufferLoss reports the
// cumulative count of events dropped by the session due to buffer
// overruns since the session was opened; callers diff successive
// reads to detect new loss.
type TraceSession interface {
	Open(ctx context.Context, sessionName string) error
	EnableProvider(ctx context.Context, provider types.TraceProvider) error
	DisableProvider(ctx context.Context, provider types.TraceProvider) error
	Events() <-chan RawEvent
	BufferLoss() uint64
	Close() error
}
