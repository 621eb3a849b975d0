package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oyelaran-devlabs/logmonitor/internal/hostbinding"
	"github.com/oyelaran-devlabs/logmonitor/internal/logging"
	"github.com/oyelaran-devlabs/logmonitor/internal/metrics"
	"github.com/oyelaran-devlabs/logmonitor/internal/monitor"
	"github.com/oyelaran-devlabs/logmonitor/internal/profiling"
	"github.com/oyelaran-devlabs/logmonitor/internal/shutdown"
	"github.com/oyelaran-devlabs/logmonitor/internal/supervisor"
	"github.com/oyelaran-devlabs/logmonitor/internal/tracing"
	"github.com/oyelaran-devlabs/logmonitor/internal/writer"
)

const defaultConfigPath = "/etc/logmonitor/config.json"

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath, childArgs, help, parseErr := parseArgs(args)
	if help {
		printUsage()
		return 0
	}
	if parseErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", parseErr)
		return 1
	}

	logger := logging.New(logging.Config{
		Level:  getenv("LOGMONITOR_LOG_LEVEL", "info"),
		Format: getenv("LOGMONITOR_LOG_FORMAT", "json"),
		Output: os.Stderr,
	})
	logging.SetGlobal(logger)
	logger.Info().Str("version", version).Str("config", configPath).Msg("starting logmonitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingProvider, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:    getenvBool("LOGMONITOR_TRACING_ENABLED", false),
		Endpoint:   getenv("LOGMONITOR_TRACING_ENDPOINT", ""),
		SampleRate: getenvFloat("LOGMONITOR_TRACING_SAMPLE_RATE", 1.0),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize tracing")
		return 1
	}

	collector := metrics.NewCollector()
	collector.Start()

	shutdownMgr := shutdown.New(shutdown.Config{Timeout: 5 * time.Second, Logger: logger})

	var profiler *profiling.Profiler
	if getenvBool("LOGMONITOR_PROFILING_ENABLED", false) {
		profiler, err = profiling.New(profiling.Config{
			Enabled: true,
			Address: getenv("LOGMONITOR_PROFILING_ADDRESS", ":6060"),
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to initialize profiler")
		} else if err := profiler.Start(); err != nil {
			logger.Error().Err(err).Msg("failed to start profiler")
		}
	}

	recordWriter := writer.New(os.Stdout)

	sup := supervisor.New(supervisor.Deps{
		Writer: recordWriter,
		Logger: logger,
		NewEventLogSubscriber: func() monitor.EventLogSubscriber {
			return hostbinding.UnavailableEventLogSubscriber{Logger: logger}
		},
		NewTraceSession: func(name string) monitor.TraceSession {
			return hostbinding.NewRingbufTraceSession(logger)
		},
		SchemaResolver:   hostbinding.UnresolvedSchemaResolver{},
		Format:           monitor.FormatLine,
		TraceSessionName: "logmonitor-trace",
		Metrics:          collector,
	})
	sup.SetConfigPath(configPath)

	if err := sup.Initialize(ctx); err != nil {
		logger.Error().Err(err).Msg("supervisor failed to initialize")
		return 1
	}

	var adminServer *http.Server
	if addr := getenv("LOGMONITOR_ADMIN_ADDRESS", ""); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", livenessHandler())
		mux.HandleFunc("/readyz", readinessHandler(sup))
		adminServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			defer shutdownMgr.HandlePanic()
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("admin server failed")
			}
		}()
	}

	shutdownMgr.RegisterFunc("supervisor", sup.Shutdown)
	shutdownMgr.RegisterFunc("tracing", tracingProvider.Shutdown)
	shutdownMgr.RegisterFunc("metrics", func(context.Context) error {
		collector.Stop()
		return nil
	})
	if profiler != nil {
		shutdownMgr.RegisterFunc("profiler", func(context.Context) error {
			return profiler.Stop()
		})
	}
	if adminServer != nil {
		shutdownMgr.RegisterFunc("admin-server", adminServer.Shutdown)
	}

	stopCh := make(chan struct{})
	supervisorDone := make(chan struct{})
	go func() {
		defer shutdownMgr.HandlePanic()
		sup.WaitUntilStopped(ctx, stopCh)
		close(supervisorDone)
	}()

	exitCode := 0
	if len(childArgs) > 0 {
		exitCode = runWithChild(logger, childArgs, shutdownMgr)
	} else {
		shutdownMgr.WaitForSignal(syscall.SIGINT, syscall.SIGTERM)
	}

	close(stopCh)
	cancel()
	go shutdownMgr.Shutdown()
	<-shutdownMgr.Done()
	<-supervisorDone

	return exitCode
}

// runWithChild spawns the wrapped command, forwarding termination
// signals to it, and returns its exit code once it stops.
func runWithChild(logger *logging.Logger, childArgs []string, shutdownMgr *shutdown.Manager) int {
	cmd := exec.Command(childArgs[0], childArgs[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Str("command", childArgs[0]).Msg("failed to start child command")
		return 1
	}

	childDone := make(chan int, 1)
	go func() {
		defer shutdownMgr.HandlePanic()
		childDone <- exitCodeOf(cmd.Wait())
	}()

	sigDone := make(chan os.Signal, 1)
	go func() {
		defer shutdownMgr.HandlePanic()
		if sig := shutdownMgr.WaitForSignal(syscall.SIGINT, syscall.SIGTERM); sig != nil {
			logger.Info().Str("signal", sig.String()).Msg("forwarding signal to child command")
			cmd.Process.Signal(sig)
			sigDone <- sig
		}
	}()

	select {
	case <-sigDone:
		return <-childDone
	case code := <-childDone:
		logger.Info().Int("code", code).Msg("child command exited")
		return code
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// livenessHandler reports the process is up; it never depends on
// supervisor state, so a wedged monitor never takes the container down
// via a liveness-probe restart.
func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// readinessHandler reports whether every source in the supervisor's
// current configuration actually has a monitor running, per
// supervisor.Supervisor.Status.
func readinessHandler(sup *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy, message, detail := sup.Status()

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"healthy": healthy,
			"message": message,
			"detail":  detail,
		})
	}
}

// parseArgs implements the CLI surface from the external interfaces:
// bare invocation, /? or --help, /Config <path>, and an optional
// trailing child command. Flag matching is case-insensitive; the first
// token that isn't a recognized flag starts the child command line.
func parseArgs(args []string) (configPath string, childArgs []string, help bool, err error) {
	configPath = defaultConfigPath

	i := 0
	for i < len(args) {
		switch strings.ToLower(args[i]) {
		case "/?", "--help", "-h", "-help":
			return "", nil, true, nil
		case "/config", "--config":
			if i+1 >= len(args) {
				return "", nil, false, fmt.Errorf("%s requires a path argument", args[i])
			}
			configPath = args[i+1]
			i += 2
		default:
			return configPath, args[i:], false, nil
		}
	}
	return configPath, nil, false, nil
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `logmonitor - container-sidecar log shipper

Usage:
  logmonitor
  logmonitor /? | --help
  logmonitor /Config <path>
  logmonitor [/Config <path>] <command> [args...]

Without a trailing command, logmonitor runs until it receives SIGINT or
SIGTERM. With a trailing command, logmonitor spawns it and exits with
its exit code once it terminates.
`)
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
