// Package supervisor owns the lifecycle of the concrete source
// monitors, watches the configuration document for live edits, and
// applies the minimal reconfiguration plan on each change.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/oyelaran-devlabs/logmonitor/internal/config"
	"github.com/oyelaran-devlabs/logmonitor/internal/logging"
	"github.com/oyelaran-devlabs/logmonitor/internal/monitor"
	"github.com/oyelaran-devlabs/logmonitor/internal/writer"
)

// LifecycleMetrics is the supervisor-level metrics surface, satisfied
// structurally by *metrics.Collector. It extends monitor.MetricsRecorder
// so a single collector can be handed both to the Supervisor (lifecycle
// gauges/counters) and, through each monitor's SetMetrics, to each
// monitor's own emit path.
type LifecycleMetrics interface {
	monitor.MetricsRecorder
	SetMonitorsActive(sourceKind string, n int)
	IncMonitorRestart(sourceKind string)
	IncMonitorError(sourceKind string)
	IncConfigReload(outcome string)
}

// Deps are the collaborators a Supervisor needs to construct concrete
// monitors. NewEventLogSubscriber and NewTraceSession are factories
// because each (re)start of EventLog/Trace needs a fresh host binding;
// SchemaResolver is stateless and shared across trace sessions. Metrics
// is optional; a nil value disables all lifecycle metrics recording.
type Deps struct {
	Writer                *writer.Writer
	Logger                *logging.Logger
	NewEventLogSubscriber func() monitor.EventLogSubscriber
	NewTraceSession       func(sessionName string) monitor.TraceSession
	SchemaResolver        monitor.SchemaResolver
	Format                monitor.Format
	TraceSessionName      string
	Metrics               LifecycleMetrics
}

// Supervisor is explicitly owned by main (spec §9's "Open questions":
// the original exposes it as process-wide singleton state; here it is
// an object with a bounded lifetime, constructed once and passed by
// reference to whatever needs to request a reload).
type Supervisor struct {
	deps Deps

	configPath string
	configDir  string
	longName   string
	shortName  string

	mu              sync.Mutex
	cfg             *config.Config
	eventLogMonitor *monitor.EventLogMonitor
	traceMonitor    *monitor.TraceMonitor
	fileMonitors    map[string]*monitor.FileLogMonitor

	watcher  *fsnotify.Watcher
	reloadCh chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Supervisor. Call Initialize before use.
func New(deps Deps) *Supervisor {
	if deps.Format == "" {
		deps.Format = monitor.FormatLine
	}
	if deps.TraceSessionName == "" {
		deps.TraceSessionName = "logmonitor-trace"
	}
	return &Supervisor{
		deps:         deps,
		fileMonitors: make(map[string]*monitor.FileLogMonitor),
		reloadCh:     make(chan struct{}, 1),
	}
}

// Initialize loads the config document, instantiates monitors, and
// starts the filesystem watcher on the config file's directory. A
// missing or invalid config at initial load is logged and Initialize
// still succeeds with no monitors running (spec §7). Failing to create
// the watcher or to watch the config file's directory (for example
// because that directory does not exist) does fail Initialize.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.configPathParts()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config directory watcher: %w", err)
	}
	if err := watcher.Add(s.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory %q: %w", s.configDir, err)
	}
	s.watcher = watcher

	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.logConfigLoadFailure(err)
		cfg = &config.Config{}
	}

	if err := s.applyDiff(ctx, nil, cfg); err != nil {
		s.deps.Logger.Warn().Err(err).Msg("one or more monitors failed to start during initialize")
	}
	s.cfg = cfg

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.watchLoop(runCtx)

	return nil
}

func (s *Supervisor) configPathParts() {
	s.configDir = filepath.Dir(s.configPath)
	s.longName = filepath.Base(s.configPath)
	s.shortName = shortName(s.longName)
}

// SetConfigPath must be called before Initialize.
func (s *Supervisor) SetConfigPath(path string) {
	s.configPath = path
}

func (s *Supervisor) logConfigLoadFailure(err error) {
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		s.deps.Logger.Warn().Str("path", s.configPath).Msg("config file not found, starting with no monitors")
	case errors.Is(err, config.ErrConfigInvalid):
		s.deps.Logger.Error().Err(err).Str("path", s.configPath).Msg("config file invalid, starting with no monitors")
	default:
		s.deps.Logger.Error().Err(err).Str("path", s.configPath).Msg("failed to load config")
	}
}

// WaitUntilStopped blocks until stopSignal fires, reloading whenever
// the filesystem watcher reports a change to the config file.
func (s *Supervisor) WaitUntilStopped(ctx context.Context, stopSignal <-chan struct{}) {
	for {
		select {
		case <-stopSignal:
			return
		case <-ctx.Done():
			return
		case <-s.reloadCh:
			if err := s.Reload(ctx); err != nil {
				s.deps.Logger.Error().Err(err).Msg("config reload failed")
			}
		}
	}
}

// Reload re-reads the config file and applies the diff. An invalid
// document leaves the current configuration and monitors untouched.
func (s *Supervisor) Reload(ctx context.Context) error {
	newCfg, err := config.Load(s.configPath)
	if err != nil {
		s.logConfigLoadFailure(err)
		if s.deps.Metrics != nil {
			s.deps.Metrics.IncConfigReload("invalid")
		}
		return err
	}

	s.mu.Lock()
	oldCfg := s.cfg
	s.mu.Unlock()

	outcome := "applied"
	if err := s.applyDiff(ctx, oldCfg, newCfg); err != nil {
		s.deps.Logger.Warn().Err(err).Msg("one or more monitors failed to start during reload")
		outcome = "partial"
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.IncConfigReload(outcome)
	}

	s.mu.Lock()
	s.cfg = newCfg
	s.mu.Unlock()
	return nil
}

// Status reports whether every source named in the current
// configuration actually has a monitor running, along with a
// breakdown for the caller's health surface. A source configured but
// missing its monitor means a previous Start call failed and hasn't
// been retried by a later reload. Returned as plain values rather than
// a health.ComponentHealth so this package stays decoupled from any
// particular health-reporting shape.
func (s *Supervisor) Status() (healthy bool, message string, detail map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	detail = map[string]interface{}{
		"event_log_running": s.eventLogMonitor != nil,
		"trace_running":     s.traceMonitor != nil,
		"file_monitors":     len(s.fileMonitors),
	}

	if s.cfg == nil {
		return true, "no configuration loaded yet", detail
	}
	if s.cfg.EventLog != nil && s.eventLogMonitor == nil {
		return false, "EventLog source configured but not running", detail
	}
	if s.cfg.Trace != nil && s.traceMonitor == nil {
		return false, "Trace source configured but not running", detail
	}
	for _, f := range s.cfg.Files {
		if _, ok := s.fileMonitors[f.Key()]; !ok {
			return false, fmt.Sprintf("File source %q configured but not running", f.Directory), detail
		}
	}
	return true, "all configured monitors running", detail
}

// Shutdown stops all monitors and releases the filesystem watcher.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	var stopErr error
	if s.eventLogMonitor != nil {
		if err := s.eventLogMonitor.Stop(ctx); err != nil {
			stopErr = err
		}
		s.eventLogMonitor = nil
	}
	if s.traceMonitor != nil {
		if err := s.traceMonitor.Stop(ctx); err != nil {
			stopErr = err
		}
		s.traceMonitor = nil
	}
	for key, fm := range s.fileMonitors {
		if err := fm.Stop(ctx); err != nil {
			stopErr = err
		}
		delete(s.fileMonitors, key)
	}
	return stopErr
}

func (s *Supervisor) watchLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleWatchEvent(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.deps.Logger.Error().Err(err).Msg("config directory watcher error")
		}
	}
}

// handleWatchEvent implements the long/short filename match from
// spec §4.1: a notification triggers a reload only if its name matches
// either form of the configured filename, and a create/rename refreshes
// the tracked short name.
func (s *Supervisor) handleWatchEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if name != s.longName && name != s.shortName {
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
		s.shortName = shortName(s.longName)
	}

	select {
	case s.reloadCh <- struct{}{}:
	default:
		// A reload is already pending; the watcher re-arms itself
		// after each batch, so this event's effect will be picked up
		// by the in-flight reload's fresh read of the file.
	}
}

// shortName is a documented no-op on this platform: Linux has no
// 8.3-style alternate filename, so the "short form" the original
// design tracks is always identical to the long form here. The hook
// stays so handleWatchEvent's matching logic mirrors the original
// two-name comparison exactly.
func shortName(long string) string {
	return long
}
