package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oyelaran-devlabs/logmonitor/internal/backoff"
	"github.com/oyelaran-devlabs/logmonitor/internal/logging"
	"github.com/oyelaran-devlabs/logmonitor/internal/recordpool"
	"github.com/oyelaran-devlabs/logmonitor/internal/writer"
	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

// eventLogState is the state machine named in spec §4.2:
// Idle -> Subscribing -> Streaming -> Stopping -> Stopped.
type eventLogState int32

const (
	eventLogIdle eventLogState = iota
	eventLogSubscribing
	eventLogStreaming
	eventLogStopping
	eventLogStopped
)

// EventLogMonitor subscribes to a merged set of host event-log
// channels and formats each delivered event onto the shared Writer.
type EventLogMonitor struct {
	channels      []types.EventLogChannel
	multiline     bool
	startAtOldest bool
	format        Format

	subscriber EventLogSubscriber
	writer     *writer.Writer
	logger     *logging.Logger
	metrics    MetricsRecorder

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventLogMonitor constructs an EventLogMonitor. At most one exists
// at any moment (spec §3 invariant); the supervisor enforces that.
func NewEventLogMonitor(channels []types.EventLogChannel, multiline, startAtOldest bool, format Format, subscriber EventLogSubscriber, w *writer.Writer, logger *logging.Logger) *EventLogMonitor {
	return &EventLogMonitor{
		channels:      channels,
		multiline:     multiline,
		startAtOldest: startAtOldest,
		format:        format,
		subscriber:    subscriber,
		writer:        w,
		logger:        logger.WithComponent("eventlog"),
	}
}

// SetMetrics wires an optional metrics recorder. Safe to call before Start.
func (m *EventLogMonitor) SetMetrics(recorder MetricsRecorder) {
	m.metrics = recorder
}

// Channels returns the configured channel set, used by the
// supervisor's diff to compare identity against a new configuration.
func (m *EventLogMonitor) Channels() []types.EventLogChannel {
	return m.channels
}

// MultiLine and StartAtOldest expose the flags the diff compares.
func (m *EventLogMonitor) MultiLine() bool     { return m.multiline }
func (m *EventLogMonitor) StartAtOldest() bool { return m.startAtOldest }

func (m *EventLogMonitor) Start(ctx context.Context) error {
	m.state.Store(int32(eventLogSubscribing))

	for _, c := range m.channels {
		if err := m.subscriber.EnableChannel(ctx, c.Name); err != nil {
			m.logger.Warn().Str("channel", c.Name).Err(err).Msg("failed to enable channel, continuing")
		}
	}

	events, err := m.subscriber.Subscribe(ctx, m.channels, m.startAtOldest)
	if err != nil {
		m.state.Store(int32(eventLogStopped))
		return fmt.Errorf("subscribe failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state.Store(int32(eventLogStreaming))

	m.wg.Add(1)
	go m.streamLoop(runCtx, events)

	return nil
}

func (m *EventLogMonitor) Stop(ctx context.Context) error {
	m.state.Store(int32(eventLogStopping))
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.state.Store(int32(eventLogStopped))
	return nil
}

func (m *EventLogMonitor) streamLoop(ctx context.Context, events <-chan RawEvent) {
	defer m.wg.Done()

	threshold := make(map[string]types.Level, len(m.channels))
	for _, c := range m.channels {
		threshold[c.Name] = c.Level
	}

	b := backoff.New(backoff.DefaultConfig())

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				// A closed subscription ends the stream; the monitor does
				// not wait or resubscribe.
				m.logger.Warn().Msg("event subscription closed, stopping the stream")
				return
			}
			level, known := threshold[raw.Channel]
			if known && !level.Accepts(raw.Level) {
				continue
			}
			m.emit(raw)
			b.Reset()
		}
	}
}

func (m *EventLogMonitor) emit(raw RawEvent) {
	rec := recordpool.Get()
	defer recordpool.Put(rec)

	rec.SourceKind = types.SourceEventLog
	rec.Timestamp = raw.Timestamp.UTC()
	rec.Severity = raw.Level
	rec.Origin = raw.Channel
	rec.EventID = raw.EventID
	rec.Body = raw.Message
	rec.SetRaw(raw.XML)

	line := formatRecord(rec, m.format, m.multiline)
	if err := m.writer.Write(line); err != nil {
		m.logger.Error().Err(err).Msg("failed to write record")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordEmitted(string(types.SourceEventLog))
	}
}
