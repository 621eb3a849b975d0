package monitor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

func sampleRecord() *types.Record {
	r := &types.Record{}
	r.SourceKind = types.SourceEventLog
	r.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.Severity = types.LevelWarning
	r.Origin = "System"
	r.EventID = 42
	r.Body = "line one\nline two"
	return r
}

func TestFormatJSONRoundTrip(t *testing.T) {
	rec := sampleRecord()
	out := formatRecord(rec, FormatJSON, true)

	var decoded jsonRecord
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("failed to unmarshal formatted JSON: %v", err)
	}
	if decoded.Channel != rec.Origin {
		t.Errorf("channel: got %q, want %q", decoded.Channel, rec.Origin)
	}
	if decoded.EventID != rec.EventID {
		t.Errorf("eventId: got %d, want %d", decoded.EventID, rec.EventID)
	}
	if decoded.Level != rec.Severity.String() {
		t.Errorf("level: got %q, want %q", decoded.Level, rec.Severity.String())
	}
	if decoded.Message != rec.Body {
		t.Errorf("message: got %q, want %q", decoded.Message, rec.Body)
	}
}

func TestFormatLineCollapsesNewlinesWhenNotMultiline(t *testing.T) {
	rec := sampleRecord()
	out := formatRecord(rec, FormatLine, false)
	if want := "line one line two"; !containsAll(out, want) {
		t.Errorf("expected collapsed body %q within %q", want, out)
	}
}

func TestFormatLinePreservesNewlinesWhenMultiline(t *testing.T) {
	rec := sampleRecord()
	out := formatRecord(rec, FormatLine, true)
	if !containsAll(out, "line one\nline two") {
		t.Errorf("expected preserved newline within %q", out)
	}
}

func TestFormatXMLUsesRawWhenSet(t *testing.T) {
	rec := sampleRecord()
	rec.SetRaw("<Event>payload</Event>")
	out := formatRecord(rec, FormatXML, true)
	if !containsAll(out, "<Event>payload</Event>") {
		t.Errorf("expected raw XML payload within %q", out)
	}
	if !containsAll(out, "<Source=System>") {
		t.Errorf("expected source header within %q", out)
	}
}

func containsAll(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
