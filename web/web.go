// Package web serves the status page, the telemetry endpoints and the
// firmware upload. Everything here reads snapshots; nothing blocks on
// the render loop.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/crashlog"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/display"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/ota"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/telemetry"
)

type Config struct {
	Version   string
	Status    func() display.Status
	Collector *telemetry.Collector
	Updater   *ota.Updater
	// Crash is the record left by the previous run, if any.
	Crash *crashlog.Record
	// Restart, when set, is invoked to restart the process after a
	// staged update or a remote restart request.
	Restart func(reason string)
	// Password gates the upload and restart endpoints. Empty disables
	// them.
	Password string
}

type Server struct {
	cfg   Config
	mux   *http.ServeMux
	srv   *http.Server
	start time.Time

	// restartDelay gives the response time to reach the client before
	// the restart callback runs.
	restartDelay time.Duration
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:          cfg,
		mux:          http.NewServeMux(),
		start:        time.Now(),
		restartDelay: 2 * time.Second,
	}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /api/metrics/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/system", s.handleSystem)
	s.mux.HandleFunc("GET /api/crash", s.handleCrash)
	s.mux.HandleFunc("GET /api/ota/status", s.handleOTAStatus)
	s.mux.HandleFunc("POST /ota/update", s.handleOTAUpdate)
	s.mux.HandleFunc("POST /restart", s.handleRestart)
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.srv.Addr = addr
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.cfg.Status()
	resp := struct {
		Version     string  `json:"version"`
		State       string  `json:"state"`
		Asleep      bool    `json:"asleep"`
		FPS         float64 `json:"fps"`
		Frames      uint64  `json:"frames"`
		Dropped     uint64  `json:"dropped"`
		LastFrameMS float64 `json:"last_frame_ms"`
		MaxFrameMS  float64 `json:"max_frame_ms"`
		LastError   string  `json:"last_error,omitempty"`
	}{
		Version:     s.cfg.Version,
		State:       st.State.String(),
		Asleep:      st.Asleep,
		FPS:         st.FPS,
		Frames:      st.Frames,
		Dropped:     st.Dropped,
		LastFrameMS: float64(st.LastFrame) / float64(time.Millisecond),
		MaxFrameMS:  float64(st.MaxFrame) / float64(time.Millisecond),
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sample, ok := s.cfg.Collector.Latest()
	if !ok {
		http.Error(w, "no samples yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Collector.History())
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	resp := struct {
		Version       string `json:"version"`
		UptimeS       int64  `json:"uptime_s"`
		HeapFree      uint64 `json:"heap_free"`
		Goroutines    int    `json:"goroutines"`
		StagedVersion string `json:"staged_version,omitempty"`
		LastCrash     string `json:"last_crash,omitempty"`
	}{
		Version:    s.cfg.Version,
		UptimeS:    int64(time.Since(s.start) / time.Second),
		HeapFree:   m.HeapSys - m.HeapInuse,
		Goroutines: runtime.NumGoroutine(),
	}
	if s.cfg.Updater != nil {
		if st := s.cfg.Updater.Status(); st.State == ota.Ready {
			resp.StagedVersion = st.Version
		}
	}
	if s.cfg.Crash != nil {
		resp.LastCrash = s.cfg.Crash.Reason
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCrash(w http.ResponseWriter, r *http.Request) {
	c := s.cfg.Crash
	if c == nil {
		http.Error(w, "no crash recorded", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Reason   string `json:"reason"`
		Time     int64  `json:"time"`
		UptimeS  int64  `json:"uptime_s"`
		HeapFree uint64 `json:"heap_free"`
		Version  string `json:"version"`
		LogTail  string `json:"log_tail,omitempty"`
		Trace    string `json:"trace,omitempty"`
	}{
		Reason:   c.Reason,
		Time:     c.Time,
		UptimeS:  c.Uptime,
		HeapFree: c.HeapFree,
		Version:  c.Version,
		LogTail:  c.LogTail,
		Trace:    string(c.Trace),
	})
}

func (s *Server) handleOTAStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Updater == nil {
		http.Error(w, "updates not supported", http.StatusNotImplemented)
		return
	}
	st := s.cfg.Updater.Status()
	resp := struct {
		State       string  `json:"state"`
		Received    int64   `json:"received"`
		Total       int64   `json:"total"`
		ProgressPct float64 `json:"progress_pct"`
		Version     string  `json:"version,omitempty"`
		Err         string  `json:"error,omitempty"`
	}{
		State:    st.State.String(),
		Received: st.Received,
		Total:    st.Total,
		Version:  st.Version,
		Err:      st.Err,
	}
	if st.Total > 0 {
		resp.ProgressPct = 100 * float64(st.Received) / float64(st.Total)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOTAUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.auth(w, r, "X-OTA-Password") {
		return
	}
	up := s.cfg.Updater
	if up == nil {
		http.Error(w, "updates not supported", http.StatusNotImplemented)
		return
	}
	if r.ContentLength <= 0 {
		http.Error(w, "missing Content-Length", http.StatusLengthRequired)
		return
	}
	sha := r.Header.Get("X-SHA256")
	if sha == "" {
		http.Error(w, "missing X-SHA256", http.StatusBadRequest)
		return
	}
	if err := up.Begin(r.ContentLength, sha); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, ota.ErrBusy) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	buf := make([]byte, 4096)
	if _, err := io.CopyBuffer(up, r.Body, buf); err != nil {
		up.Abort(err)
		http.Error(w, fmt.Sprintf("upload: %v", err), http.StatusBadRequest)
		return
	}
	if err := up.Finish(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st := up.Status()
	s.writeJSON(w, http.StatusOK, struct {
		State   string `json:"state"`
		Version string `json:"version,omitempty"`
	}{st.State.String(), st.Version})
	if s.cfg.Restart != nil {
		time.AfterFunc(s.restartDelay, func() {
			s.cfg.Restart("firmware update staged")
		})
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if !s.auth(w, r, "X-Restart-Token") {
		return
	}
	if s.cfg.Restart == nil {
		http.Error(w, "restart not supported", http.StatusNotImplemented)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"restarting"})
	time.AfterFunc(s.restartDelay, func() {
		s.cfg.Restart("remote restart request")
	})
}

func (s *Server) auth(w http.ResponseWriter, r *http.Request, header string) bool {
	if s.cfg.Password == "" {
		http.Error(w, "remote control disabled", http.StatusForbidden)
		return false
	}
	got := r.Header.Get(header)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Password)) != 1 {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>dashboard</title>
<style>
body { font-family: monospace; background: #000; color: #ddd; margin: 2em; }
h1 { color: #4cafef; font-size: 1.2em; }
td { padding: 0.1em 1em 0.1em 0; }
#err { color: #f66; }
</style>
</head>
<body>
<h1>dashboard</h1>
<table id="vitals"></table>
<p id="err"></p>
<script>
const rows = [
  ["state", s => s.state],
  ["fps", s => s.fps.toFixed(1)],
  ["frame", s => s.frame_ms.toFixed(1) + " ms"],
  ["frames", s => s.frames + " (" + s.dropped + " dropped)"],
  ["cpu", s => s.cpu_pct.toFixed(1) + " %"],
  ["temp", s => s.temp_c.toFixed(1) + " °C"],
  ["battery", s => s.battery_mv + " mV (" + s.battery_pct + " %)"],
  ["wifi", s => s.rssi_dbm + " dBm"],
  ["heap free", s => Math.round(s.heap_free / 1024) + " KiB"],
  ["uptime", s => s.uptime_s + " s"],
];
async function tick() {
  try {
    const r = await fetch("/api/metrics");
    if (!r.ok) throw new Error(r.statusText);
    const s = await r.json();
    document.getElementById("vitals").innerHTML = rows
      .map(([k, f]) => "<tr><td>" + k + "</td><td>" + f(s) + "</td></tr>")
      .join("");
    document.getElementById("err").textContent = s.last_error || "";
  } catch (e) {
    document.getElementById("err").textContent = e;
  }
}
tick();
setInterval(tick, 1000);
</script>
</body>
</html>
`
