package monitor

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/oyelaran-devlabs/logmonitor/internal/logging"
	"github.com/oyelaran-devlabs/logmonitor/internal/recordpool"
	"github.com/oyelaran-devlabs/logmonitor/internal/writer"
	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

// PropertyKind identifies how a schema property's bytes should be
// decoded when walking a trace event's payload.
type PropertyKind int

const (
	KindUint8 PropertyKind = iota
	KindUint16
	KindUint32
	KindUint64
	KindInt32
	KindInt64
	KindBool
	KindString // null-terminated UTF-8
	KindStruct // nested schema, expands as "outer.inner=value"
	KindArray  // fixed-count repetition of Elem, expands as "name.0=value name.1=value"
)

// Property is one field of an event schema, in payload order. Nested
// and Elem are only meaningful for KindStruct and KindArray
// respectively; Count is the element count for KindArray.
type Property struct {
	Name   string
	Kind   PropertyKind
	Nested *Schema
	Elem   *Property
	Count  int
}

// Schema describes how to walk a trace event's raw payload into
// name=value pairs.
type Schema struct {
	Properties []Property
}

// SchemaResolver requests the event schema for a (provider, event id,
// version) triple, another external-collaborator contract (spec:
// "requests the event schema... walks property descriptors").
type SchemaResolver interface {
	Resolve(provider string, eventID uint16, version uint8) (Schema, error)
}

type schemaKey struct {
	provider string
	eventID  uint16
	version  uint8
}

// TraceMonitor opens a real-time trace session bound to a set of
// providers, decodes each event's schema, and emits formatted records.
type TraceMonitor struct {
	providers []types.TraceProvider
	multiline bool
	format    Format

	session  TraceSession
	resolver SchemaResolver
	writer   *writer.Writer
	logger   *logging.Logger
	metrics  MetricsRecorder

	sessionName string

	schemaCache   map[schemaKey]Schema
	schemaCacheMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTraceMonitor constructs a TraceMonitor. At most one exists at any
// moment (spec §3 invariant); the supervisor enforces that.
func NewTraceMonitor(providers []types.TraceProvider, multiline bool, format Format, sessionName string, session TraceSession, resolver SchemaResolver, w *writer.Writer, logger *logging.Logger) *TraceMonitor {
	return &TraceMonitor{
		providers:   providers,
		multiline:   multiline,
		format:      format,
		session:     session,
		resolver:    resolver,
		writer:      w,
		logger:      logger.WithComponent("trace"),
		sessionName: sessionName,
		schemaCache: make(map[schemaKey]Schema),
	}
}

func (m *TraceMonitor) Providers() []types.TraceProvider { return m.providers }
func (m *TraceMonitor) MultiLine() bool                  { return m.multiline }

// SetMetrics wires an optional metrics recorder. Safe to call before Start.
func (m *TraceMonitor) SetMetrics(recorder MetricsRecorder) {
	m.metrics = recorder
}

func (m *TraceMonitor) Start(ctx context.Context) error {
	if err := m.session.Open(ctx, m.sessionName); err != nil {
		return fmt.Errorf("open session %q: %w", m.sessionName, err)
	}

	for _, p := range m.providers {
		if err := m.session.EnableProvider(ctx, p); err != nil {
			m.logger.Warn().Str("provider", p.Name).Err(err).Msg("failed to enable provider, skipping")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.consumeLoop(runCtx)

	return nil
}

func (m *TraceMonitor) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	for _, p := range m.providers {
		_ = m.session.DisableProvider(ctx, p)
	}
	return m.session.Close()
}

func (m *TraceMonitor) consumeLoop(ctx context.Context) {
	defer m.wg.Done()

	events := m.session.Events()
	var lastLoss uint64

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			if loss := m.session.BufferLoss(); loss > lastLoss {
				m.emitBufferLossWarning(loss - lastLoss)
				lastLoss = loss
			}
			m.emit(raw)
		}
	}
}

func (m *TraceMonitor) emit(raw RawEvent) {
	message := raw.Message
	if message == "" {
		message = m.decode(raw)
	}

	rec := recordpool.Get()
	defer recordpool.Put(rec)

	rec.SourceKind = types.SourceTrace
	rec.Timestamp = raw.Timestamp.UTC()
	rec.Severity = raw.Level
	rec.Origin = raw.Provider
	rec.EventID = raw.EventID
	rec.Body = message
	rec.SetRaw(raw.XML)

	line := formatRecord(rec, m.format, m.multiline)
	if err := m.writer.Write(line); err != nil {
		m.logger.Error().Err(err).Msg("failed to write record")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordEmitted(string(types.SourceTrace))
	}
}

// decode resolves the cached schema for this event and walks the
// payload into "name=value" pairs; unknown schemas fall back to a hex
// dump.
func (m *TraceMonitor) decode(raw RawEvent) string {
	schema, ok := m.lookupSchema(raw.Provider, raw.EventID, 0)
	if !ok {
		return "0x" + hex.EncodeToString(raw.Payload)
	}
	return walkProperties(schema, raw.Payload)
}

func (m *TraceMonitor) lookupSchema(provider string, eventID uint16, version uint8) (Schema, bool) {
	key := schemaKey{provider: provider, eventID: eventID, version: version}

	m.schemaCacheMu.Lock()
	if s, ok := m.schemaCache[key]; ok {
		m.schemaCacheMu.Unlock()
		return s, true
	}
	m.schemaCacheMu.Unlock()

	if m.resolver == nil {
		return Schema{}, false
	}
	schema, err := m.resolver.Resolve(provider, eventID, version)
	if err != nil {
		return Schema{}, false
	}

	m.schemaCacheMu.Lock()
	m.schemaCache[key] = schema
	m.schemaCacheMu.Unlock()
	return schema, true
}

// walkProperties renders a payload as "name=value" pairs joined by
// spaces, in schema order. Nested structs and fixed-count arrays
// expand into dotted paths ("outer.inner=value", "items.0=value
// items.1=value"); a property that runs past the end of the payload
// truncates the walk.
func walkProperties(schema Schema, payload []byte) string {
	var b strings.Builder
	offset := 0
	first := true

	for _, p := range schema.Properties {
		consumed, ok := walkProperty(p.Name, p, payload[offset:], &b, &first)
		if !ok {
			break
		}
		offset += consumed
	}

	return b.String()
}

// walkProperty decodes a single property at path into b, recursing
// into KindStruct's nested schema and KindArray's element kind. path
// is the dotted name already built for this property ("outer.inner",
// "items.0", ...).
func walkProperty(path string, p Property, buf []byte, b *strings.Builder, first *bool) (int, bool) {
	switch p.Kind {
	case KindStruct:
		if p.Nested == nil {
			return 0, false
		}
		offset := 0
		for _, child := range p.Nested.Properties {
			consumed, ok := walkProperty(path+"."+child.Name, child, buf[offset:], b, first)
			if !ok {
				return offset, false
			}
			offset += consumed
		}
		return offset, true
	case KindArray:
		if p.Elem == nil {
			return 0, false
		}
		offset := 0
		for i := 0; i < p.Count; i++ {
			elemPath := path + "." + strconv.Itoa(i)
			consumed, ok := walkProperty(elemPath, *p.Elem, buf[offset:], b, first)
			if !ok {
				return offset, false
			}
			offset += consumed
		}
		return offset, true
	default:
		value, consumed, ok := decodeProperty(p.Kind, buf)
		if !ok {
			return 0, false
		}
		if !*first {
			b.WriteByte(' ')
		}
		*first = false
		b.WriteString(path)
		b.WriteByte('=')
		b.WriteString(value)
		return consumed, true
	}
}

func decodeProperty(kind PropertyKind, buf []byte) (string, int, bool) {
	switch kind {
	case KindUint8:
		if len(buf) < 1 {
			return "", 0, false
		}
		return strconv.FormatUint(uint64(buf[0]), 10), 1, true
	case KindBool:
		if len(buf) < 1 {
			return "", 0, false
		}
		return strconv.FormatBool(buf[0] != 0), 1, true
	case KindUint16:
		if len(buf) < 2 {
			return "", 0, false
		}
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint16(buf)), 10), 2, true
	case KindUint32:
		if len(buf) < 4 {
			return "", 0, false
		}
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(buf)), 10), 4, true
	case KindInt32:
		if len(buf) < 4 {
			return "", 0, false
		}
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(buf))), 10), 4, true
	case KindUint64:
		if len(buf) < 8 {
			return "", 0, false
		}
		return strconv.FormatUint(binary.LittleEndian.Uint64(buf), 10), 8, true
	case KindInt64:
		if len(buf) < 8 {
			return "", 0, false
		}
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(buf)), 10), 8, true
	case KindString:
		end := 0
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		if end == len(buf) {
			return string(buf), len(buf), true
		}
		return string(buf[:end]), end + 1, true
	default:
		return "", 0, false
	}
}

func (m *TraceMonitor) emitBufferLossWarning(lost uint64) {
	rec := recordpool.Get()
	defer recordpool.Put(rec)

	rec.SourceKind = types.SourceTrace
	rec.Severity = types.LevelWarning
	rec.Origin = m.sessionName
	rec.Body = fmt.Sprintf("trace session dropped %d events (buffer overrun)", lost)

	m.writer.TraceWarn(rec.Body)
	if m.metrics != nil {
		m.metrics.AddBufferLoss(lost)
	}
}
