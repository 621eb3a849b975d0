package monitor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

// Format selects how EventLogMonitor and TraceMonitor render a record.
type Format string

const (
	FormatXML  Format = "XML"
	FormatLine Format = "Line"
	FormatJSON Format = "JSON"
)

// jsonRecord is the wire shape for FormatJSON: the same fields the
// spec's shared record shape names, with a channel-or-origin field
// that also carries the trace provider name.
type jsonRecord struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Level     string `json:"level"`
	EventID   uint16 `json:"eventId"`
	Message   string `json:"message"`
}

// formatRecord renders r in the requested format. multiline controls
// whether internal newlines in the body are preserved (true) or
// collapsed to spaces (false) — meaningful for Line and the message
// field of JSON; XML always carries the body untouched.
func formatRecord(r *types.Record, format Format, multiline bool) string {
	switch format {
	case FormatXML:
		return formatXML(r)
	case FormatJSON:
		return formatJSON(r, multiline)
	default:
		return formatLine(r, multiline)
	}
}

func formatXML(r *types.Record) string {
	header := fmt.Sprintf("<Source=%s><Time=%s>", r.Origin, r.Timestamp.Format("2006-01-02T15:04:05.000Z"))
	if raw := r.Raw(); raw != "" {
		return header + raw
	}
	return header + r.Body
}

func formatLine(r *types.Record, multiline bool) string {
	body := r.Body
	if !multiline {
		body = collapseNewlines(body)
	}
	return fmt.Sprintf("%s %s %s %d %s",
		r.Timestamp.Format("2006-01-02T15:04:05.000Z"),
		r.Severity.String(),
		r.Origin,
		r.EventID,
		body,
	)
}

func formatJSON(r *types.Record, multiline bool) string {
	body := r.Body
	if !multiline {
		body = collapseNewlines(body)
	}
	rec := jsonRecord{
		Source:    string(r.SourceKind),
		Timestamp: r.Timestamp.Format("2006-01-02T15:04:05.000Z"),
		Channel:   r.Origin,
		Level:     r.Severity.String(),
		EventID:   r.EventID,
		Message:   body,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf(`{"source":%q,"error":"marshal failed"}`, r.SourceKind)
	}
	return string(b)
}

func collapseNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
