// Package config loads and normalizes the sources document that drives
// the supervisor: which event-log channels, watched directories, and
// trace providers to monitor. The wire format is JSON (optionally with
// comments and trailing commas, and optionally UTF-16 encoded), wrapped
// under a single top-level "LogConfig" object.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

// Sentinel errors, matched with errors.Is by callers.
var (
	// ErrConfigNotFound means the path did not resolve to a readable file.
	ErrConfigNotFound = errors.New("config: file not found")
	// ErrConfigInvalid means the document failed to parse or violated the schema.
	ErrConfigInvalid = errors.New("config: invalid document")
)

// SourceType identifies which variant a source entry carries.
type SourceType string

const (
	SourceTypeEventLog SourceType = "EventLog"
	SourceTypeFile     SourceType = "File"
	SourceTypeTrace    SourceType = "ETW"
)

// parseSourceType maps the case-insensitive "type" field to a SourceType.
func parseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(s) {
	case "eventlog":
		return SourceTypeEventLog, nil
	case "file":
		return SourceTypeFile, nil
	case "etw", "trace":
		return SourceTypeTrace, nil
	default:
		return "", fmt.Errorf("%w: unknown source type %q", ErrConfigInvalid, s)
	}
}

// EventLogSource is the normalized, merged EventLog configuration: at
// most one exists in a loaded Config.
type EventLogSource struct {
	Channels             []types.EventLogChannel
	EventFormatMultiLine bool
	StartAtOldestRecord  bool
}

// channelSet returns the channel set keyed for set-equality comparison.
func (e EventLogSource) channelSet() map[string]types.EventLogChannel {
	set := make(map[string]types.EventLogChannel, len(e.Channels))
	for _, c := range e.Channels {
		set[c.Key()] = c
	}
	return set
}

// Equal reports whether two EventLogSource values are equivalent for
// the purposes of the reload diff: same flags and the same channel set.
func (e EventLogSource) Equal(other EventLogSource) bool {
	if e.EventFormatMultiLine != other.EventFormatMultiLine {
		return false
	}
	if e.StartAtOldestRecord != other.StartAtOldestRecord {
		return false
	}
	a, b := e.channelSet(), other.channelSet()
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// TraceSource is the normalized, merged Trace (ETW-analog) configuration.
type TraceSource struct {
	Providers            []types.TraceProvider
	EventFormatMultiLine bool
}

func (t TraceSource) providerSet() map[string]types.TraceProvider {
	set := make(map[string]types.TraceProvider, len(t.Providers))
	for _, p := range t.Providers {
		set[p.Key()] = p
	}
	return set
}

// Equal reports whether two TraceSource values are equivalent for the
// reload diff.
func (t TraceSource) Equal(other TraceSource) bool {
	if t.EventFormatMultiLine != other.EventFormatMultiLine {
		return false
	}
	a, b := t.providerSet(), other.providerSet()
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// FileSource is one watched directory. Multiple FileSource entries can
// coexist; each is identified positionally by its normalized identity.
type FileSource struct {
	Directory             string
	Filter                string
	IncludeSubdirectories bool
}

// Key returns the identity used by the reload diff's intersection test:
// normalized absolute directory, filter, and recursion flag.
func (f FileSource) Key() string {
	abs, err := filepath.Abs(f.Directory)
	if err != nil {
		abs = f.Directory
	}
	return filepath.Clean(abs) + "\x00" + f.Filter + "\x00" + boolKey(f.IncludeSubdirectories)
}

func boolKey(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Equal reports whether two FileSource values share the same identity.
func (f FileSource) Equal(other FileSource) bool {
	return f.Key() == other.Key()
}

// Config is the normalized, merged sources document consumed by the
// supervisor. At most one EventLog and one Trace exist; Files is an
// ordered sequence, order-preserving from the document.
type Config struct {
	EventLog *EventLogSource
	Trace    *TraceSource
	Files    []FileSource
}

// wire types mirror the JSON schema in the spec's §6 documentation.

type wireDocument struct {
	LogConfig wireLogConfig `json:"LogConfig"`
}

type wireLogConfig struct {
	Sources []wireSource `json:"sources"`
}

type wireSource struct {
	Type string `json:"type"`

	// EventLog fields
	Channels             []wireChannel `json:"channels,omitempty"`
	EventFormatMultiLine *bool         `json:"eventFormatMultiLine,omitempty"`
	StartAtOldestRecord  *bool         `json:"startAtOldestRecord,omitempty"`

	// File fields
	Directory             string `json:"directory,omitempty"`
	Filter                string `json:"filter,omitempty"`
	IncludeSubdirectories bool   `json:"includeSubdirectories,omitempty"`

	// Trace fields
	Providers []wireProvider `json:"providers,omitempty"`
}

type wireChannel struct {
	Name  string `json:"name"`
	Level string `json:"level"`
}

type wireProvider struct {
	ProviderName string  `json:"providerName,omitempty"`
	ProviderGUID string  `json:"providerGuid,omitempty"`
	Level        string  `json:"level,omitempty"`
	Keywords     *uint64 `json:"keywords,omitempty"`
}

// Load reads, decodes, and normalizes the config document at path.
// It returns ErrConfigNotFound if the path is unreadable, or
// ErrConfigInvalid if the document fails to parse or violates the
// schema (missing required fields, unknown source type, malformed
// channel/provider entries).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, path, err)
	}

	decoded, err := decodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	stripped := jsonc.ToJSON(decoded)

	var doc wireDocument
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	return normalize(doc.LogConfig.Sources)
}

// decodeText detects UTF-8 vs UTF-16 and returns the content as UTF-8
// bytes. UTF-16 with a BOM is decoded in either byte order; without a
// BOM only little-endian UTF-16 is recognized (looksLikeUTF16), and
// anything else is passed through as UTF-8. The spec's config format is
// "UTF-8 or UTF-16 JSON".
func decodeText(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}), bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
		out, _, err := transform.Bytes(decoder, raw)
		return out, err
	case looksLikeUTF16(raw):
		enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
		return enc.NewDecoder().Bytes(raw)
	default:
		return raw, nil
	}
}

// looksLikeUTF16 applies a coarse byte-statistics heuristic: JSON is
// ASCII-heavy, so UTF-16 encodings of it show a long run of alternating
// zero bytes that plain UTF-8 JSON never does.
func looksLikeUTF16(raw []byte) bool {
	if len(raw) < 4 || len(raw)%2 != 0 {
		return false
	}
	zeros := 0
	for i := 1; i < len(raw) && i < 64; i += 2 {
		if raw[i] == 0 {
			zeros++
		}
	}
	return zeros > 12
}

// normalize applies the merge rules from the data model: EventLog
// entries merge into one, Trace entries merge into one, File entries
// stay an ordered sequence.
func normalize(sources []wireSource) (*Config, error) {
	cfg := &Config{}

	for i, s := range sources {
		kind, err := parseSourceType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}

		switch kind {
		case SourceTypeEventLog:
			parsed, err := parseEventLogSource(s)
			if err != nil {
				return nil, fmt.Errorf("source %d: %w", i, err)
			}
			if cfg.EventLog == nil {
				cfg.EventLog = parsed
			} else {
				cfg.EventLog.Channels = append(cfg.EventLog.Channels, parsed.Channels...)
				cfg.EventLog.EventFormatMultiLine = parsed.EventFormatMultiLine
				cfg.EventLog.StartAtOldestRecord = parsed.StartAtOldestRecord
			}

		case SourceTypeTrace:
			parsed, err := parseTraceSource(s)
			if err != nil {
				return nil, fmt.Errorf("source %d: %w", i, err)
			}
			if cfg.Trace == nil {
				cfg.Trace = parsed
			} else {
				cfg.Trace.Providers = append(cfg.Trace.Providers, parsed.Providers...)
				cfg.Trace.EventFormatMultiLine = parsed.EventFormatMultiLine
			}

		case SourceTypeFile:
			parsed, err := parseFileSource(s)
			if err != nil {
				return nil, fmt.Errorf("source %d: %w", i, err)
			}
			cfg.Files = append(cfg.Files, *parsed)
		}
	}

	return cfg, nil
}

func parseEventLogSource(s wireSource) (*EventLogSource, error) {
	channels := make([]types.EventLogChannel, 0, len(s.Channels))
	for _, c := range s.Channels {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: EventLog channel missing name", ErrConfigInvalid)
		}
		level, err := types.ParseLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: EventLog channel %q: %v", ErrConfigInvalid, c.Name, err)
		}
		channels = append(channels, types.EventLogChannel{Name: c.Name, Level: level})
	}

	multiline := true
	if s.EventFormatMultiLine != nil {
		multiline = *s.EventFormatMultiLine
	}
	oldest := false
	if s.StartAtOldestRecord != nil {
		oldest = *s.StartAtOldestRecord
	}

	return &EventLogSource{
		Channels:             channels,
		EventFormatMultiLine: multiline,
		StartAtOldestRecord:  oldest,
	}, nil
}

func parseTraceSource(s wireSource) (*TraceSource, error) {
	providers := make([]types.TraceProvider, 0, len(s.Providers))
	for _, p := range s.Providers {
		if p.ProviderName == "" && p.ProviderGUID == "" {
			return nil, fmt.Errorf("%w: Trace provider requires providerName or providerGuid", ErrConfigInvalid)
		}

		level := types.LevelError
		if p.Level != "" {
			parsed, err := types.ParseLevel(p.Level)
			if err != nil {
				return nil, fmt.Errorf("%w: Trace provider %q: %v", ErrConfigInvalid, p.ProviderName, err)
			}
			level = parsed
		}

		var keywords uint64
		if p.Keywords != nil {
			keywords = *p.Keywords
		}

		guid, err := parseGUID(p.ProviderGUID)
		if err != nil {
			return nil, fmt.Errorf("%w: Trace provider %q: %v", ErrConfigInvalid, p.ProviderName, err)
		}

		providers = append(providers, types.TraceProvider{
			Name:     p.ProviderName,
			GUID:     guid,
			Level:    level,
			Keywords: keywords,
		})
	}

	multiline := true
	if s.EventFormatMultiLine != nil {
		multiline = *s.EventFormatMultiLine
	}

	return &TraceSource{Providers: providers, EventFormatMultiLine: multiline}, nil
}

// parseGUID accepts an empty string (no GUID configured, matched by
// name instead) or a standard GUID string.
func parseGUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid providerGuid %q: %w", s, err)
	}
	return id, nil
}

func parseFileSource(s wireSource) (*FileSource, error) {
	if s.Directory == "" {
		return nil, fmt.Errorf("%w: File source missing directory", ErrConfigInvalid)
	}
	filter := s.Filter
	if filter == "" {
		filter = "*"
	}
	return &FileSource{
		Directory:             s.Directory,
		Filter:                filter,
		IncludeSubdirectories: s.IncludeSubdirectories,
	}, nil
}

// FileKeys returns the identity keys of the Files sequence, in
// document order, for the supervisor's diff algorithm.
func (c *Config) FileKeys() []string {
	keys := make([]string, len(c.Files))
	for i, f := range c.Files {
		keys[i] = f.Key()
	}
	return keys
}

// SortedChannelNames is a small helper used by tests and logging to
// present a deterministic channel listing.
func (e EventLogSource) SortedChannelNames() []string {
	names := make([]string, len(e.Channels))
	for i, c := range e.Channels {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}
