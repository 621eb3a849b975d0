package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/oyelaran-devlabs/logmonitor/internal/config"
	"github.com/oyelaran-devlabs/logmonitor/internal/monitor"
	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

// applyDiff reconciles the running monitors against a new config,
// starting from an (possibly nil) previous config. EventLog and Trace
// are coarse-grained: any difference in flags or set membership
// restarts the whole source. File sources are fine-grained: kept
// directories keep their running monitor instance untouched, and only
// the added/removed identities are started or stopped.
func (s *Supervisor) applyDiff(ctx context.Context, oldCfg, newCfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	if err := s.applyEventLogDiff(ctx, oldCfg, newCfg); err != nil {
		errs = append(errs, err)
	}
	if err := s.applyTraceDiff(ctx, oldCfg, newCfg); err != nil {
		errs = append(errs, err)
	}
	if err := s.applyFileDiff(ctx, oldCfg, newCfg); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("supervisor: %d monitor(s) failed to (re)start: %w", len(errs), errors.Join(errs...))
}

func (s *Supervisor) applyEventLogDiff(ctx context.Context, oldCfg, newCfg *config.Config) error {
	var oldSrc, newSrc *config.EventLogSource
	if oldCfg != nil {
		oldSrc = oldCfg.EventLog
	}
	if newCfg != nil {
		newSrc = newCfg.EventLog
	}

	unchanged := oldSrc != nil && newSrc != nil && oldSrc.Equal(*newSrc)
	if unchanged {
		return nil
	}

	restarting := oldSrc != nil && s.eventLogMonitor != nil

	if s.eventLogMonitor != nil {
		if err := s.eventLogMonitor.Stop(ctx); err != nil {
			s.deps.Logger.Warn().Err(err).Msg("error stopping EventLog monitor during reconfigure")
		}
		s.eventLogMonitor = nil
		if s.deps.Metrics != nil {
			s.deps.Metrics.SetMonitorsActive(string(types.SourceEventLog), 0)
		}
	}

	if newSrc == nil {
		return nil
	}

	subscriber := s.deps.NewEventLogSubscriber()
	m := monitor.NewEventLogMonitor(newSrc.Channels, newSrc.EventFormatMultiLine, newSrc.StartAtOldestRecord, s.deps.Format, subscriber, s.deps.Writer, s.deps.Logger)
	if s.deps.Metrics != nil {
		m.SetMetrics(s.deps.Metrics)
	}
	if err := m.Start(ctx); err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.IncMonitorError(string(types.SourceEventLog))
		}
		return fmt.Errorf("EventLog monitor: %w: %w", monitor.ErrMonitorStartFailed, err)
	}
	s.eventLogMonitor = m
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetMonitorsActive(string(types.SourceEventLog), 1)
		if restarting {
			s.deps.Metrics.IncMonitorRestart(string(types.SourceEventLog))
		}
	}
	return nil
}

func (s *Supervisor) applyTraceDiff(ctx context.Context, oldCfg, newCfg *config.Config) error {
	var oldSrc, newSrc *config.TraceSource
	if oldCfg != nil {
		oldSrc = oldCfg.Trace
	}
	if newCfg != nil {
		newSrc = newCfg.Trace
	}

	unchanged := oldSrc != nil && newSrc != nil && oldSrc.Equal(*newSrc)
	if unchanged {
		return nil
	}

	restarting := oldSrc != nil && s.traceMonitor != nil

	if s.traceMonitor != nil {
		if err := s.traceMonitor.Stop(ctx); err != nil {
			s.deps.Logger.Warn().Err(err).Msg("error stopping Trace monitor during reconfigure")
		}
		s.traceMonitor = nil
		if s.deps.Metrics != nil {
			s.deps.Metrics.SetMonitorsActive(string(types.SourceTrace), 0)
		}
	}

	if newSrc == nil {
		return nil
	}

	session := s.deps.NewTraceSession(s.deps.TraceSessionName)
	m := monitor.NewTraceMonitor(newSrc.Providers, newSrc.EventFormatMultiLine, s.deps.Format, s.deps.TraceSessionName, session, s.deps.SchemaResolver, s.deps.Writer, s.deps.Logger)
	if s.deps.Metrics != nil {
		m.SetMetrics(s.deps.Metrics)
	}
	if err := m.Start(ctx); err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.IncMonitorError(string(types.SourceTrace))
		}
		return fmt.Errorf("Trace monitor: %w: %w", monitor.ErrMonitorStartFailed, err)
	}
	s.traceMonitor = m
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetMonitorsActive(string(types.SourceTrace), 1)
		if restarting {
			s.deps.Metrics.IncMonitorRestart(string(types.SourceTrace))
		}
	}
	return nil
}

func (s *Supervisor) applyFileDiff(ctx context.Context, oldCfg, newCfg *config.Config) error {
	var oldFiles, newFiles []config.FileSource
	if oldCfg != nil {
		oldFiles = oldCfg.Files
	}
	if newCfg != nil {
		newFiles = newCfg.Files
	}

	oldKeys := make(map[string]struct{}, len(oldFiles))
	for _, f := range oldFiles {
		oldKeys[f.Key()] = struct{}{}
	}
	newKeys := make(map[string]struct{}, len(newFiles))
	for _, f := range newFiles {
		newKeys[f.Key()] = struct{}{}
	}

	// Stop monitors for identities no longer present.
	for key := range oldKeys {
		if _, keep := newKeys[key]; keep {
			continue
		}
		if fm, ok := s.fileMonitors[key]; ok {
			if err := fm.Stop(ctx); err != nil {
				s.deps.Logger.Warn().Err(err).Str("directory", fm.Directory()).Msg("error stopping file monitor during reconfigure")
			}
			delete(s.fileMonitors, key)
		}
	}

	// Start monitors for newly added identities, in document order.
	// Identities present in both are left running untouched.
	var errs []error
	for _, f := range newFiles {
		key := f.Key()
		if _, exists := s.fileMonitors[key]; exists {
			continue
		}
		fm := monitor.NewFileLogMonitor(f.Directory, f.Filter, f.IncludeSubdirectories, s.deps.Writer, s.deps.Logger)
		if s.deps.Metrics != nil {
			fm.SetMetrics(s.deps.Metrics)
		}
		if err := fm.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("File monitor %q: %w: %w", f.Directory, monitor.ErrMonitorStartFailed, err))
			if s.deps.Metrics != nil {
				s.deps.Metrics.IncMonitorError(string(types.SourceFile))
			}
			continue
		}
		s.fileMonitors[key] = fm
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.SetMonitorsActive(string(types.SourceFile), len(s.fileMonitors))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
