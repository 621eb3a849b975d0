package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oyelaran-devlabs/logmonitor/internal/logging"
	"github.com/oyelaran-devlabs/logmonitor/internal/writer"
	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

type fakeSubscriber struct {
	events  chan RawEvent
	enabled []string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{events: make(chan RawEvent, 16)}
}

func (f *fakeSubscriber) EnableChannel(ctx context.Context, channel string) error {
	f.enabled = append(f.enabled, channel)
	return nil
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channels []types.EventLogChannel, startAtOldest bool) (<-chan RawEvent, error) {
	return f.events, nil
}

type recordingWriter struct {
	mu    sync.Mutex
	lines []string
}

func newRecordingWriter() (*writer.Writer, *recordingWriter) {
	rw := &recordingWriter{}
	return writer.New(rw), rw
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (r *recordingWriter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func TestEventLogMonitorFiltersBySeverity(t *testing.T) {
	sub := newFakeSubscriber()
	w, rec := newRecordingWriter()
	channels := []types.EventLogChannel{{Name: "System", Level: types.LevelWarning}}

	m := NewEventLogMonitor(channels, true, false, FormatLine, sub, w, testLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	sub.events <- RawEvent{Channel: "System", Level: types.LevelInformation, Message: "should be dropped"}
	sub.events <- RawEvent{Channel: "System", Level: types.LevelError, Message: "should pass"}

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	lines := rec.snapshot()
	if !strings.Contains(lines[0], "should pass") {
		t.Errorf("expected only the accepted event, got %v", lines)
	}
}

func TestEventLogMonitorEnablesEachChannel(t *testing.T) {
	sub := newFakeSubscriber()
	w, _ := newRecordingWriter()
	channels := []types.EventLogChannel{
		{Name: "System", Level: types.LevelError},
		{Name: "Application", Level: types.LevelWarning},
	}

	m := NewEventLogMonitor(channels, true, false, FormatLine, sub, w, testLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	if len(sub.enabled) != 2 {
		t.Fatalf("expected 2 channels enabled, got %d", len(sub.enabled))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
