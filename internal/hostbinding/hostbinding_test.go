package hostbinding

import (
	"context"
	"io"
	"testing"

	"github.com/oyelaran-devlabs/logmonitor/internal/logging"
	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Output: io.Discard})
}

func TestUnavailableEventLogSubscriberEnableChannelNeverFails(t *testing.T) {
	s := UnavailableEventLogSubscriber{Logger: testLogger()}
	if err := s.EnableChannel(context.Background(), "Application"); err != nil {
		t.Fatalf("EnableChannel returned error: %v", err)
	}
}

func TestUnavailableEventLogSubscriberSubscribeReturnsClosedChannel(t *testing.T) {
	s := UnavailableEventLogSubscriber{Logger: testLogger()}
	events, err := s.Subscribe(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if _, ok := <-events; ok {
		t.Fatal("expected an already-closed channel")
	}
}

func TestUnresolvedSchemaResolverAlwaysErrors(t *testing.T) {
	r := UnresolvedSchemaResolver{}
	if _, err := r.Resolve("Microsoft-Windows-Kernel-Process", 1, 0); err == nil {
		t.Fatal("expected an error forcing the hex-dump fallback")
	}
}

func TestRingbufTraceSessionEnableDisableProvider(t *testing.T) {
	s := NewRingbufTraceSession(testLogger())
	a := types.TraceProvider{Name: "provider-a"}
	b := types.TraceProvider{Name: "provider-b"}

	if err := s.EnableProvider(context.Background(), a); err != nil {
		t.Fatalf("EnableProvider a: %v", err)
	}
	if err := s.EnableProvider(context.Background(), b); err != nil {
		t.Fatalf("EnableProvider b: %v", err)
	}
	if len(s.providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(s.providers))
	}

	if err := s.DisableProvider(context.Background(), a); err != nil {
		t.Fatalf("DisableProvider a: %v", err)
	}
	if len(s.providers) != 1 || s.providers[0].Name != "provider-b" {
		t.Fatalf("expected only provider-b left, got %+v", s.providers)
	}
}

func TestRingbufTraceSessionBufferLossStartsAtZero(t *testing.T) {
	s := NewRingbufTraceSession(testLogger())
	if got := s.BufferLoss(); got != 0 {
		t.Fatalf("expected 0 buffer loss before any reads, got %d", got)
	}
}
