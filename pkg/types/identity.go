package types

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// EventLogChannel identifies one subscribed channel. Identity is
// (case-insensitive name, level); two channels are equal when both match.
type EventLogChannel struct {
	Name  string
	Level Level
}

// Equal compares two channels by their identity, case-insensitive on name.
func (c EventLogChannel) Equal(other EventLogChannel) bool {
	return strings.EqualFold(c.Name, other.Name) && c.Level == other.Level
}

// Key returns a canonical map key for set-equality comparisons.
func (c EventLogChannel) Key() string {
	return strings.ToLower(c.Name) + "\x00" + c.Level.String()
}

// TraceProvider identifies one enabled ETW/eBPF provider. Identity is
// (guid, guid-string, level, keywords), ordered lexicographically by
// those four fields.
type TraceProvider struct {
	Name     string
	GUID     uuid.UUID
	Level    Level
	Keywords uint64
}

// Equal compares two providers by their full identity tuple.
func (p TraceProvider) Equal(other TraceProvider) bool {
	return p.GUID == other.GUID &&
		strings.EqualFold(p.Name, other.Name) &&
		p.Level == other.Level &&
		p.Keywords == other.Keywords
}

// Key returns a canonical map key for set-equality comparisons.
func (p TraceProvider) Key() string {
	return p.GUID.String() + "\x00" + strings.ToLower(p.Name) + "\x00" + p.Level.String() + "\x00" + strconv.FormatUint(p.Keywords, 10)
}

// Less implements the lexicographic ordering by (guid, guid-string,
// level, keywords) spec.md §3 requires for TraceProvider.
func (p TraceProvider) Less(other TraceProvider) bool {
	if c := strings.Compare(p.GUID.String(), other.GUID.String()); c != 0 {
		return c < 0
	}
	if c := strings.Compare(p.Name, other.Name); c != 0 {
		return c < 0
	}
	if p.Level != other.Level {
		return p.Level < other.Level
	}
	return p.Keywords < other.Keywords
}
