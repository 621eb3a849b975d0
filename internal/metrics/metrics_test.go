package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.registry == nil {
		t.Error("registry is nil")
	}
	if c.RecordsEmitted == nil {
		t.Error("RecordsEmitted is nil")
	}
	if c.TraceBufferLoss == nil {
		t.Error("TraceBufferLoss is nil")
	}
}

func TestRecordsEmittedByKind(t *testing.T) {
	c := NewCollector()
	c.RecordsEmitted.WithLabelValues("File").Add(3)

	metric := &dto.Metric{}
	if err := c.RecordsEmitted.WithLabelValues("File").(prometheus.Counter).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 3 {
		t.Errorf("expected 3, got %f", metric.Counter.GetValue())
	}
}

func TestMonitorRestartsAndErrors(t *testing.T) {
	c := NewCollector()
	c.MonitorRestarts.WithLabelValues("EventLog").Inc()
	c.MonitorErrors.WithLabelValues("ETW").Inc()
	c.TraceBufferLoss.Add(5)

	metric := &dto.Metric{}
	if err := c.TraceBufferLoss.(prometheus.Counter).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 5 {
		t.Errorf("expected 5, got %f", metric.Counter.GetValue())
	}
}

func TestConfigReloadOutcomes(t *testing.T) {
	c := NewCollector()
	c.ConfigReloads.WithLabelValues("applied").Inc()
	c.ConfigReloads.WithLabelValues("invalid").Inc()

	metric := &dto.Metric{}
	if err := c.ConfigReloads.WithLabelValues("applied").(prometheus.Counter).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("expected 1, got %f", metric.Counter.GetValue())
	}
}

func TestRecordEmittedAndAddBufferLossWrappers(t *testing.T) {
	c := NewCollector()
	c.RecordEmitted("EventLog")
	c.RecordEmitted("EventLog")
	c.AddBufferLoss(7)

	metric := &dto.Metric{}
	if err := c.RecordsEmitted.WithLabelValues("EventLog").(prometheus.Counter).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("expected 2, got %f", metric.Counter.GetValue())
	}

	lossMetric := &dto.Metric{}
	if err := c.TraceBufferLoss.(prometheus.Counter).Write(lossMetric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if lossMetric.Counter.GetValue() != 7 {
		t.Errorf("expected 7, got %f", lossMetric.Counter.GetValue())
	}
}

func TestLifecycleMetricsWrappers(t *testing.T) {
	c := NewCollector()
	c.SetMonitorsActive("File", 3)
	c.IncMonitorRestart("EventLog")
	c.IncMonitorError("ETW")
	c.IncConfigReload("partial")

	active := &dto.Metric{}
	if err := c.MonitorsActive.WithLabelValues("File").(prometheus.Gauge).Write(active); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if active.Gauge.GetValue() != 3 {
		t.Errorf("expected 3, got %f", active.Gauge.GetValue())
	}

	restarts := &dto.Metric{}
	if err := c.MonitorRestarts.WithLabelValues("EventLog").(prometheus.Counter).Write(restarts); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if restarts.Counter.GetValue() != 1 {
		t.Errorf("expected 1, got %f", restarts.Counter.GetValue())
	}

	errs := &dto.Metric{}
	if err := c.MonitorErrors.WithLabelValues("ETW").(prometheus.Counter).Write(errs); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if errs.Counter.GetValue() != 1 {
		t.Errorf("expected 1, got %f", errs.Counter.GetValue())
	}

	reloads := &dto.Metric{}
	if err := c.ConfigReloads.WithLabelValues("partial").(prometheus.Counter).Write(reloads); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if reloads.Counter.GetValue() != 1 {
		t.Errorf("expected 1, got %f", reloads.Counter.GetValue())
	}
}
