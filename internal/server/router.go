package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/craftvisor/internal/alert"
	"github.com/loykin/craftvisor/internal/console"
	"github.com/loykin/craftvisor/internal/errs"
	"github.com/loykin/craftvisor/internal/history"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/state"
	"github.com/loykin/craftvisor/internal/status"
	"github.com/loykin/craftvisor/internal/supervisor"
)

// Controller is the lifecycle surface the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*supervisor.Task, error)
	RestartAsync(ctx context.Context) *supervisor.Task
	SendCommand(ctx context.Context, text string) error
	Status() status.Status
	Metrics() metrics.Snapshot
}

// Properties is the read side of server.properties.
type Properties interface {
	All() map[string]string
	Get(key string) (string, bool)
}

// EULA reads and accepts the server EULA.
type EULA interface {
	Accepted() (bool, error)
	Accept() error
}

// Deps are the components served by the router. Only Controller and State
// are required; a nil optional dependency turns its endpoints into 404s.
type Deps struct {
	Controller Controller
	State      *state.Shared
	History    *metrics.History
	Alerts     *alert.Evaluator
	Backlog    *console.Backlog
	Properties Properties
	EULA       EULA
	Lifecycle  history.Lister
	Events     http.Handler
	Prometheus http.Handler
	Logger     *slog.Logger
}

// Router provides embeddable HTTP handlers for controlling the server.
// Endpoints, relative to basePath:
//
//	POST /start                 start the server
//	POST /stop      ?wait=30s   stop; wait blocks until stopped
//	POST /restart   ?wait=60s   restart in the background
//	POST /command   {"command"} write a console command
//	GET  /status
//	GET  /metrics/current | /metrics/history?limit=N | /metrics/average?window=5m
//	GET|PUT /alerts/thresholds
//	GET  /console   ?lines=N
//	GET|PUT /launch
//	GET|POST /eula
//	GET  /properties, /properties/:key
//	GET  /history   ?limit=N
//	GET  /events    websocket event stream
//
// Prometheus metrics are served at /metrics outside basePath.
type Router struct {
	deps     Deps
	basePath string
	logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(deps Deps, basePath string) *Router {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Router{deps: deps, basePath: sanitizeBase(basePath), logger: l}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	if r.deps.Prometheus != nil {
		g.GET("/metrics", gin.WrapH(r.deps.Prometheus))
	}
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/command", r.handleCommand)
	group.GET("/status", r.handleStatus)
	group.GET("/metrics/current", r.handleMetricsCurrent)
	group.GET("/metrics/history", r.handleMetricsHistory)
	group.GET("/metrics/average", r.handleMetricsAverage)
	group.GET("/alerts/thresholds", r.handleGetThresholds)
	group.PUT("/alerts/thresholds", r.handlePutThresholds)
	group.GET("/console", r.handleConsole)
	group.GET("/launch", r.handleGetLaunch)
	group.PUT("/launch", r.handlePutLaunch)
	group.GET("/eula", r.handleGetEULA)
	group.POST("/eula", r.handleAcceptEULA)
	group.GET("/properties", r.handleProperties)
	group.GET("/properties/:key", r.handleProperty)
	group.GET("/history", r.handleHistory)
	if r.deps.Events != nil {
		group.GET("/events", gin.WrapH(r.deps.Events))
	}
	return g
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// NewServer listens on addr and serves this router in the background. The
// returned server's Addr is the bound address, so ":0" may be used. A non-nil
// tlsConfig serves HTTPS.
func NewServer(addr, basePath string, deps Deps, tlsConfig *tls.Config) (*http.Server, error) {
	r := NewRouter(deps, basePath)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("API server failed", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type statusResp struct {
	Status     status.Status `json:"status"`
	Running    bool          `json:"running"`
	Run        uint64        `json:"run"`
	PID        int           `json:"pid,omitempty"`
	Players    uint32        `json:"players"`
	MaxPlayers uint32        `json:"max_players"`
}

func (r *Router) currentStatus() statusResp {
	st := r.deps.Controller.Status()
	return statusResp{
		Status:     st,
		Running:    st.Is(status.PhaseRunning),
		Run:        r.deps.State.Run(),
		PID:        r.deps.State.Handle.PID(),
		Players:    r.deps.State.Players(),
		MaxPlayers: r.deps.State.MaxPlayers(),
	}
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.deps.Controller.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r.currentStatus())
}

func (r *Router) handleStop(c *gin.Context) {
	wait, ok := queryDuration(c, "wait", 0)
	if !ok {
		return
	}
	task, err := r.deps.Controller.Stop(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !r.await(c, task, wait) {
		return
	}
	writeJSON(c, http.StatusOK, r.currentStatus())
}

func (r *Router) handleRestart(c *gin.Context) {
	wait, ok := queryDuration(c, "wait", 0)
	if !ok {
		return
	}
	// the restart outlives the request unless the caller waits for it
	task := r.deps.Controller.RestartAsync(context.WithoutCancel(c.Request.Context()))
	if wait == 0 {
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
		return
	}
	if !r.await(c, task, wait) {
		return
	}
	writeJSON(c, http.StatusOK, r.currentStatus())
}

// await waits up to d for task, writing an error response on failure. A zero
// d returns immediately.
func (r *Router) await(c *gin.Context, task *supervisor.Task, d time.Duration) bool {
	if d == 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), d)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		writeError(c, err)
		return false
	}
	return true
}

type commandReq struct {
	Command string `json:"command"`
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		badRequest(c, "command required")
		return
	}
	if strings.ContainsAny(req.Command, "\r\n") {
		badRequest(c, "command must be a single line")
		return
	}
	if err := r.deps.Controller.SendCommand(c.Request.Context(), req.Command); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.currentStatus())
}

func (r *Router) handleMetricsCurrent(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.deps.Controller.Metrics())
}

func (r *Router) handleMetricsHistory(c *gin.Context) {
	if r.deps.History == nil {
		writeError(c, errs.NotFound("metrics history is not available"))
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.deps.History.Snapshots(limit))
}

func (r *Router) handleMetricsAverage(c *gin.Context) {
	if r.deps.History == nil {
		writeError(c, errs.NotFound("metrics history is not available"))
		return
	}
	window, ok := queryDuration(c, "window", 5*time.Minute)
	if !ok {
		return
	}
	avg, found := r.deps.History.Average(window)
	if !found {
		writeError(c, errs.NotFound("no samples in window"))
		return
	}
	writeJSON(c, http.StatusOK, avg)
}

func (r *Router) handleGetThresholds(c *gin.Context) {
	if r.deps.Alerts == nil {
		writeError(c, errs.NotFound("alerts are not configured"))
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Alerts.Thresholds())
}

func (r *Router) handlePutThresholds(c *gin.Context) {
	if r.deps.Alerts == nil {
		writeError(c, errs.NotFound("alerts are not configured"))
		return
	}
	// unspecified fields keep their current value
	th := r.deps.Alerts.Thresholds()
	if err := c.ShouldBindJSON(&th); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if err := th.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	r.deps.Alerts.SetThresholds(th)
	r.logger.Info("Alert thresholds updated",
		"cpu_percent", th.CPUPercent,
		"memory_percent", th.MemoryPercent,
		"player_count", th.PlayerCount,
		"cooldown", th.Cooldown)
	writeJSON(c, http.StatusOK, th)
}

func (r *Router) handleConsole(c *gin.Context) {
	if r.deps.Backlog == nil {
		writeError(c, errs.NotFound("console backlog is not available"))
		return
	}
	n, ok := queryInt(c, "lines", 100)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Backlog.Last(n))
}

func (r *Router) handleGetLaunch(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.deps.State.Launch())
}

func (r *Router) handlePutLaunch(c *gin.Context) {
	l := r.deps.State.Launch()
	if err := c.ShouldBindJSON(&l); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(l.JarPath) == "" {
		badRequest(c, "jar_path required")
		return
	}
	if strings.TrimSpace(l.JavaPath) == "" {
		badRequest(c, "java_path required")
		return
	}
	r.deps.State.UpdateLaunch(l)
	r.logger.Info("Launch configuration updated", "jar", l.JarPath, "work_dir", l.WorkDir)
	writeJSON(c, http.StatusOK, r.deps.State.Launch())
}

type eulaResp struct {
	Accepted bool `json:"accepted"`
}

func (r *Router) handleGetEULA(c *gin.Context) {
	if r.deps.EULA == nil {
		writeError(c, errs.NotFound("eula file is not configured"))
		return
	}
	ok, err := r.deps.EULA.Accepted()
	if err != nil {
		writeError(c, errs.IO("failed to read eula", err))
		return
	}
	writeJSON(c, http.StatusOK, eulaResp{Accepted: ok})
}

func (r *Router) handleAcceptEULA(c *gin.Context) {
	if r.deps.EULA == nil {
		writeError(c, errs.NotFound("eula file is not configured"))
		return
	}
	if err := r.deps.EULA.Accept(); err != nil {
		writeError(c, errs.IO("failed to write eula", err))
		return
	}
	r.logger.Info("EULA accepted")
	writeJSON(c, http.StatusOK, eulaResp{Accepted: true})
}

func (r *Router) handleProperties(c *gin.Context) {
	if r.deps.Properties == nil {
		writeError(c, errs.NotFound("server properties are not available"))
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Properties.All())
}

func (r *Router) handleProperty(c *gin.Context) {
	if r.deps.Properties == nil {
		writeError(c, errs.NotFound("server properties are not available"))
		return
	}
	key := c.Param("key")
	v, ok := r.deps.Properties.Get(key)
	if !ok {
		writeError(c, errs.NotFound("property "+key+" is not set"))
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"key": key, "value": v})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.deps.Lifecycle == nil {
		writeError(c, errs.NotFound("no readable history sink configured"))
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	events, err := r.deps.Lifecycle.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, errs.IO("failed to read history", err))
		return
	}
	writeJSON(c, http.StatusOK, events)
}
