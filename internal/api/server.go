// 本文件用于本机只读查询接口与结束进程操作
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"res-watch/internal/audit"
	"res-watch/internal/logger"
	"res-watch/internal/metrics"
	"res-watch/internal/models"
	"res-watch/internal/service"
	"res-watch/internal/state"
	"res-watch/internal/sysinfo"
)

const (
	maxTerminateBody = 4 * 1024
	apiActor         = "api"
)

// Monitor 是接口层依赖的监控服务能力
type Monitor interface {
	Store() *state.SnapshotStore
	Status() []service.TaskStatus
	Audit() audit.Store
	Terminate(ctx context.Context, req models.TerminateRequest) sysinfo.TerminateResult
}

// Server wraps the HTTP API server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

type handler struct {
	monitor Monitor
	metrics *metrics.Collector
}

// NewServer builds the loopback-only HTTP server.
func NewServer(bind string, monitor Monitor, collector *metrics.Collector) *Server {
	if collector == nil {
		collector = metrics.Global()
	}
	h := &handler{monitor: monitor, metrics: collector}
	srv := &http.Server{
		Addr:         bind,
		Handler:      h.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return &Server{httpServer: srv}
}

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/host", h.host)
	mux.HandleFunc("/api/processes", h.processes)
	mux.HandleFunc("/api/processes/terminate", h.terminate)
	mux.HandleFunc("/api/connections", h.connections)
	mux.HandleFunc("/api/status", h.status)
	mux.HandleFunc("/api/audit", h.auditLog)
	mux.HandleFunc("/metrics", h.prometheusMetrics)
	return withLoopbackOnly(withCORS(mux))
}

// Start 先同步监听，绑定失败直接返回，随后异步提供服务
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API 监听失败: %w", err)
	}
	s.listener = ln
	go func() {
		logger.Info("API 服务监听 %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API 服务异常退出: %v", err)
		}
	}()
	return nil
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil || s.listener == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (h *handler) host(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	store := h.monitor.Store()
	info, _ := store.HostInfo()
	snapshot, ok := store.Host()
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":    ok,
		"info":     info,
		"snapshot": snapshot,
	})
}

func (h *handler) processes(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit, err := queryInt(r.URL.Query(), "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	snapshot, ok := h.monitor.Store().Processes()
	if limit > 0 && len(snapshot.Processes) > limit {
		snapshot.Processes = snapshot.Processes[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":    ok,
		"snapshot": snapshot,
	})
}

func (h *handler) connections(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snapshot, ok := h.monitor.Store().Connections()
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":    ok,
		"snapshot": snapshot,
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	hostSeq, processSeq, connectionSeq := h.monitor.Store().Sequences()
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": h.monitor.Status(),
		"sequences": map[string]uint64{
			service.TaskHost:       hostSeq,
			service.TaskProcess:    processSeq,
			service.TaskConnection: connectionSeq,
		},
	})
}

func (h *handler) auditLog(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	query := r.URL.Query()
	filter := audit.Filter{Outcome: strings.TrimSpace(query.Get("outcome"))}
	pid, err := queryInt(query, "pid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	filter.PID = int32(pid)
	if filter.Limit, err = queryInt(query, "limit"); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be RFC3339"})
			return
		}
		filter.From = from
	}
	records, err := h.monitor.Audit().List(filter)
	if err != nil {
		logger.Error("查询审计记录失败: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
	})
}

func (h *handler) terminate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req models.TerminateRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTerminateBody))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	req.Actor = apiActor
	result := h.monitor.Terminate(r.Context(), req)
	writeJSON(w, terminateStatus(result.Outcome), result)
}

func (h *handler) prometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.metrics.RenderPrometheus()))
}

func terminateStatus(outcome sysinfo.TerminateOutcome) int {
	switch outcome {
	case sysinfo.TerminateOK:
		return http.StatusOK
	case sysinfo.TerminateInvalidPID:
		return http.StatusBadRequest
	case sysinfo.TerminateNotFound:
		return http.StatusNotFound
	case sysinfo.TerminatePermissionDenied:
		return http.StatusForbidden
	case sysinfo.TerminateSelf:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func queryInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withLoopbackOnly 拒绝非本机来源的请求
func withLoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "loopback only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCORS 只对本机页面放开跨域
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" && isLoopbackOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return isLoopbackHost(host)
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(host string) bool {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
