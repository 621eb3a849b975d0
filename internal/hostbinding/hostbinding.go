// Package hostbinding provides the concrete OS-facing collaborators
// that EventLogMonitor and TraceMonitor drive. The design deliberately
// keeps these out of the monitor package itself (spec's external-
// collaborator boundary): the monitor package only knows the narrow
// EventLogSubscriber/TraceSession/SchemaResolver contracts, and this
// package supplies whatever a given host can actually offer.
package hostbinding

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/oyelaran-devlabs/logmonitor/internal/logging"
	"github.com/oyelaran-devlabs/logmonitor/internal/monitor"
	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

// UnavailableEventLogSubscriber stands in on hosts with no structured
// event-log subsystem. Every channel enable is logged and skipped, and
// Subscribe returns an already-closed channel, which drives
// EventLogMonitor straight through Streaming to a clean, empty exit
// rather than failing initialize outright.
type UnavailableEventLogSubscriber struct {
	Logger *logging.Logger
}

func (s UnavailableEventLogSubscriber) EnableChannel(ctx context.Context, channel string) error {
	s.Logger.Warn().Str("channel", channel).Msg("no event-log subsystem available on this host")
	return nil
}

func (s UnavailableEventLogSubscriber) Subscribe(ctx context.Context, channels []types.EventLogChannel, startAtOldest bool) (<-chan monitor.RawEvent, error) {
	empty := make(chan monitor.RawEvent)
	close(empty)
	return empty, nil
}

// pinnedMapRoot is where a companion loader (outside this process's
// scope, per the spec's external-collaborator boundary) is expected to
// pin the ring buffer map backing a trace session.
const pinnedMapRoot = "/sys/fs/bpf/logmonitor"

type eventHeader struct {
	ProviderIndex uint32
	EventID       uint16
	Level         uint8
	Version       uint8
}

// RingbufTraceSession is the Linux analog of a real-time trace
// session: providers are enabled by index against an already-loaded
// eBPF program's ring buffer map, identified by a path pinned to the
// bpf filesystem under the session name. Loading and attaching the
// eBPF program itself is outside this session's job, matching the
// spec's treatment of trace consumption as an external collaborator;
// this type only owns consuming the ring buffer once it exists.
type RingbufTraceSession struct {
	Logger *logging.Logger

	mapHandle *ebpf.Map
	reader    *ringbuf.Reader
	providers []types.TraceProvider
	events    chan monitor.RawEvent
	lost      atomic.Uint64
	stop      chan struct{}
}

func NewRingbufTraceSession(logger *logging.Logger) *RingbufTraceSession {
	return &RingbufTraceSession{
		Logger: logger,
		events: make(chan monitor.RawEvent, 64),
		stop:   make(chan struct{}),
	}
}

func (s *RingbufTraceSession) Open(ctx context.Context, sessionName string) error {
	path := fmt.Sprintf("%s/%s", pinnedMapRoot, sessionName)
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return fmt.Errorf("open trace session %q: %w", sessionName, err)
	}
	reader, err := ringbuf.NewReader(m)
	if err != nil {
		m.Close()
		return fmt.Errorf("open trace session %q: %w", sessionName, err)
	}
	s.mapHandle = m
	s.reader = reader
	go s.consume()
	return nil
}

func (s *RingbufTraceSession) EnableProvider(ctx context.Context, provider types.TraceProvider) error {
	s.providers = append(s.providers, provider)
	return nil
}

func (s *RingbufTraceSession) DisableProvider(ctx context.Context, provider types.TraceProvider) error {
	for i, p := range s.providers {
		if p.Equal(provider) {
			s.providers = append(s.providers[:i], s.providers[i+1:]...)
			break
		}
	}
	return nil
}

func (s *RingbufTraceSession) Events() <-chan monitor.RawEvent { return s.events }

func (s *RingbufTraceSession) BufferLoss() uint64 { return s.lost.Load() }

func (s *RingbufTraceSession) Close() error {
	close(s.stop)
	if s.reader != nil {
		s.reader.Close()
	}
	if s.mapHandle != nil {
		s.mapHandle.Close()
	}
	close(s.events)
	return nil
}

func (s *RingbufTraceSession) consume() {
	for {
		record, err := s.reader.Read()
		if err != nil {
			if err == ringbuf.ErrClosed {
				return
			}
			s.Logger.Warn().Err(err).Msg("ring buffer read error")
			continue
		}

		var header eventHeader
		body := bytes.NewReader(record.RawSample)
		if err := binary.Read(body, binary.LittleEndian, &header); err != nil {
			s.lost.Add(1)
			continue
		}

		var providerName string
		if int(header.ProviderIndex) < len(s.providers) {
			providerName = s.providers[header.ProviderIndex].Name
		}

		payload := make([]byte, body.Len())
		body.Read(payload)

		select {
		case s.events <- monitor.RawEvent{
			Provider: providerName,
			Level:    types.Level(header.Level),
			EventID:  header.EventID,
			Payload:  payload,
		}:
		case <-s.stop:
			return
		}
	}
}

// UnresolvedSchemaResolver never has a schema on hand; TraceMonitor
// falls back to hex-dumping every payload. Wiring in a real resolver
// means reading BTF type information alongside the pinned map, which
// is left to the companion loader that owns the eBPF program.
type UnresolvedSchemaResolver struct{}

func (UnresolvedSchemaResolver) Resolve(provider string, eventID uint16, version uint8) (monitor.Schema, error) {
	return monitor.Schema{}, fmt.Errorf("no schema registry available for provider %q", provider)
}
