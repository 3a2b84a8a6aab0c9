// Package craftvisor supervises a single Minecraft server process: lifecycle
// control, console monitoring, resource sampling, alerts, and an HTTP API.
package craftvisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/craftvisor/internal/alert"
	"github.com/loykin/craftvisor/internal/config"
	"github.com/loykin/craftvisor/internal/console"
	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/history"
	"github.com/loykin/craftvisor/internal/history/factory"
	"github.com/loykin/craftvisor/internal/instance"
	"github.com/loykin/craftvisor/internal/logger"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/monitor"
	"github.com/loykin/craftvisor/internal/schedule"
	"github.com/loykin/craftvisor/internal/server"
	"github.com/loykin/craftvisor/internal/state"
	"github.com/loykin/craftvisor/internal/stream"
	"github.com/loykin/craftvisor/internal/supervisor"
	apitls "github.com/loykin/craftvisor/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-exported for embedders.
type (
	Config = config.Config
	Launch = state.Launch
)

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// App is a fully wired supervisor instance.
type App struct {
	cfg    *Config
	logger *slog.Logger

	bus        *event.Bus
	state      *state.Shared
	console    *console.Monitor
	supervisor *supervisor.Supervisor
	monitor    *monitor.Monitor
	alerts     *alert.Evaluator
	history    *metrics.History
	properties *config.Properties
	hub        *stream.Hub
	scheduler  *schedule.Scheduler
	sinks      history.Multi
	recorder   *history.Recorder

	closers []io.Closer
	apiAddr string
}

type Option func(*App)

// WithLogger replaces the logger built from the [log] section.
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.logger = l } }

// New builds every component from cfg. Nothing runs until Run.
func New(cfg *Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		l, closer, err := logger.New(cfg.Log, nil)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		a.logger = l
		a.closers = append(a.closers, closer)
	}
	if err := a.build(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	launch, err := cfg.Launch()
	if err != nil {
		return fmt.Errorf("launch config: %w", err)
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	a.bus = event.NewBus(event.DefaultBuffer, a.logger)
	a.state = state.New(a.bus, launch, a.logger)

	props, err := config.OpenProperties(cfg.Server.PropertiesFile, a.logger)
	if err != nil {
		return err
	}
	a.properties = props
	a.state.SetMaxPlayers(props.MaxPlayers())
	props.OnChange(func(p *config.Properties) { a.state.SetMaxPlayers(p.MaxPlayers()) })

	classifier, err := console.NewClassifier(cfg.Console.Patterns)
	if err != nil {
		return fmt.Errorf("console patterns: %w", err)
	}
	consoleOpts := []console.Option{
		console.WithBacklog(console.NewBacklog(cfg.Console.Backlog)),
		console.WithLogger(a.logger),
	}
	if w := cfg.Log.ConsoleWriter(cfg.Console.LogFile); w != nil {
		consoleOpts = append(consoleOpts, console.WithTee(w))
		a.closers = append(a.closers, w)
	}
	a.console = console.NewMonitor(a.state, a.bus, classifier, consoleOpts...)

	a.supervisor = supervisor.New(supervisor.Config{StopCommand: cfg.Server.StopCommand}, a.state, a.console, a.logger)

	a.alerts = alert.NewEvaluator(cfg.Alerts, a.bus, a.logger)
	a.history = metrics.NewHistory(cfg.Monitor.HistorySize)
	a.monitor = monitor.New(monitor.Config{
		Interval:      cfg.Monitor.Interval,
		EventInterval: cfg.Monitor.EventInterval,
	}, a.state, a.history, a.bus, monitor.WithAlerts(a.alerts), monitor.WithLogger(a.logger))

	a.hub = stream.NewHub(stream.WithBacklog(a.console.Backlog()), stream.WithLogger(a.logger))
	a.bus.Subscribe(a.hub)

	if len(cfg.History.Sinks) > 0 {
		sinks, err := factory.NewMulti(cfg.History.Sinks)
		if err != nil {
			return err
		}
		a.sinks = sinks
		a.recorder = history.NewRecorder(cfg.Server.Name, sinks, a.logger)
		a.bus.Subscribe(a.recorder)
	}

	a.scheduler = schedule.New(a.supervisor, a.logger, nil)
	for _, s := range cfg.Schedules {
		job := schedule.Job{Name: s.Name, Cron: s.Cron, Action: schedule.Action(s.Action), Command: s.Command}
		if err := a.scheduler.Add(job); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Logger() *slog.Logger               { return a.logger }
func (a *App) Supervisor() *supervisor.Supervisor { return a.supervisor }
func (a *App) State() *state.Shared               { return a.state }
func (a *App) History() *metrics.History          { return a.history }
func (a *App) Alerts() *alert.Evaluator           { return a.alerts }
func (a *App) Scheduler() *schedule.Scheduler     { return a.scheduler }

// Subscribe registers an extra bus handler. Call it before Run.
//
// Handlers run on the single dispatcher goroutine and status changes are
// queued while the state's status lock is held. A handler that blocks stalls
// every later transition once the queue fills, and one that reads the status
// from inside Handle may see a newer value than the event it was given.
// Handlers must not block and should take the status from the payload.
func (a *App) Subscribe(h event.Handler) { a.bus.Subscribe(h) }

// APIAddr is the bound API address once Run has started the listener.
func (a *App) APIAddr() string { return a.apiAddr }

// Router returns the HTTP API handler.
func (a *App) Router() http.Handler {
	return server.NewRouter(a.deps(), a.cfg.API.BasePath).Handler()
}

func (a *App) deps() server.Deps {
	d := server.Deps{
		Controller: a.supervisor,
		State:      a.state,
		History:    a.history,
		Alerts:     a.alerts,
		Backlog:    a.console.Backlog(),
		Properties: a.properties,
		Events:     a.hub,
		Prometheus: metrics.Handler(),
		Logger:     a.logger,
	}
	if a.cfg.Server.EULAFile != "" {
		d.EULA = eulaFile(a.cfg.Server.EULAFile)
	}
	for _, s := range a.sinks {
		if l, ok := s.(history.Lister); ok {
			d.Lifecycle = l
			break
		}
	}
	return d
}

// Run starts the background components and blocks until ctx is cancelled.
// On the way out the server process is stopped and queued events drained.
// ready, when non-nil, is closed once the API is listening.
func (a *App) Run(ctx context.Context, ready chan<- struct{}) error {
	var tlsConfig *tls.Config
	if a.cfg.API.Enabled {
		c, err := apitls.Setup(a.cfg.API.TLS)
		if err != nil {
			return fmt.Errorf("api tls: %w", err)
		}
		tlsConfig = c
	}
	if path := a.cfg.Server.LockFile; path != "" {
		lock, err := instance.Acquire(path)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Close() }()
	}
	if dir := a.cfg.Monitor.MetricsDir; dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("metrics dir: %w", err)
		}
	}
	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	go a.bus.Run(busCtx)

	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	recDone := make(chan struct{})
	if a.recorder != nil {
		go func() {
			defer close(recDone)
			a.recorder.Run(recCtx)
		}()
	} else {
		close(recDone)
	}

	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.monitor.Run(workCtx)
	}()
	if a.cfg.Monitor.MetricsDir != "" {
		p := &metrics.Persister{
			History:  a.history,
			Dir:      a.cfg.Monitor.MetricsDir,
			Interval: a.cfg.Monitor.PersistInterval,
			Logger:   a.logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(workCtx)
		}()
	}

	if err := a.properties.Watch(); err != nil {
		a.logger.Debug("Not watching server properties", "error", err)
	}
	a.scheduler.Start()

	var api *http.Server
	if a.cfg.API.Enabled {
		gin.SetMode(gin.ReleaseMode)
		srv, err := server.NewServer(a.cfg.API.Listen, a.cfg.API.BasePath, a.deps(), tlsConfig)
		if err != nil {
			a.scheduler.Stop(context.Background())
			stopWork()
			wg.Wait()
			return err
		}
		api = srv
		a.apiAddr = srv.Addr
		a.logger.Info("API listening", "addr", srv.Addr, "base_path", a.cfg.API.BasePath, "tls", tlsConfig != nil)
	}
	a.logger.Info("craftvisor started", "server", a.cfg.Server.Name, "jar", a.cfg.Server.Jar)
	if ready != nil {
		close(ready)
	}

	<-ctx.Done()
	a.logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	a.scheduler.Stop(shutdownCtx)
	if api != nil {
		_ = api.Shutdown(shutdownCtx)
	}
	a.hub.Close()
	if task, err := a.supervisor.Stop(shutdownCtx); err == nil {
		if err := task.Wait(shutdownCtx); err != nil {
			a.logger.Warn("Server did not stop before shutdown deadline", "error", err)
		}
	}
	stopWork()
	wg.Wait()

	stopBus()
	<-a.bus.Done()
	stopRecorder()
	<-recDone
	a.close()
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	d := a.state.Launch().StopTimeout
	if d <= 0 {
		d = state.DefaultStopTimeout
	}
	return d + supervisor.DefaultKillWait + 5*time.Second
}

func (a *App) close() {
	var errs []error
	if a.sinks != nil {
		errs = append(errs, a.sinks.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("Error while closing resources", "error", err)
	}
}

type eulaFile string

func (p eulaFile) Accepted() (bool, error) { return config.EULAAccepted(string(p)) }

func (p eulaFile) Accept() error { return config.AcceptEULA(string(p), time.Now()) }
