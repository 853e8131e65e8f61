// Package devtools serves the development endpoints mounted under /__devhost/ on a
// server instance: status, live reload, metrics and an authenticated restart trigger.
package devtools

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomyedwab/devhost/appconfig"
)

// Prefix is the path every devtools endpoint lives under.
const Prefix = appconfig.ReservedBase

//go:embed client.js
var clientJS []byte

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the page may be served by any router
	},
}

// ProcessStatus describes one service subprocess.
type ProcessStatus struct {
	Router string `json:"router"`
	PID    int    `json:"pid"`
	Port   int    `json:"port"`
	State  string `json:"state"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
	// Output holds the last few lines the process wrote.
	Output []string `json:"output,omitempty"`
}

// LogLine is one captured output line of a service subprocess.
type LogLine struct {
	Seq    int64     `json:"seq"`
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// RouterStatus describes one mounted router.
type RouterStatus struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Base string `json:"base"`
}

// Status is returned by the status endpoint.
type Status struct {
	Instance  string          `json:"instance"`
	App       string          `json:"app"`
	Preset    string          `json:"preset"`
	Port      int             `json:"port"`
	Routers   []RouterStatus  `json:"routers"`
	Processes []ProcessStatus `json:"processes"`
	Clients   int             `json:"clients"`
}

// Config wires a Devtools to the instance it is mounted on and to the process-wide
// pieces shared by every instance.
type Config struct {
	InstanceID string
	// Status reports the instance state; Clients is filled in by Devtools.
	Status func(r *http.Request) Status
	// Logs returns the output lines of a service router after the given sequence number,
	// and false when the router has no process. Optional.
	Logs func(router string, after int64) ([]LogLine, bool)
	// Metrics serves the supervisor registry. Optional.
	Metrics http.Handler
	// Trigger asks the supervisor for a restart. Optional; without it the restart
	// endpoint answers 503.
	Trigger func()
	// Tokens verifies restart requests. Required when Trigger is set.
	Tokens *TokenIssuer
	Logger *slog.Logger
}

// Devtools is the handler set of one server instance.
type Devtools struct {
	config Config
	hub    *Hub
	logger *slog.Logger
}

// New creates the devtools for one instance.
func New(config Config) *Devtools {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "devtools", "instance", config.InstanceID)
	return &Devtools{
		config: config,
		hub:    NewHub(logger),
		logger: logger,
	}
}

// Handler returns the mux serving every endpoint under Prefix.
func (d *Devtools) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+Prefix+"status", d.handleStatus)
	mux.HandleFunc("GET "+Prefix+"ws", d.handleWebSocket)
	mux.HandleFunc("GET "+Prefix+"client.js", d.handleClient)
	mux.HandleFunc("POST "+Prefix+"restart", d.handleRestart)
	mux.HandleFunc("GET "+Prefix+"logs/{router}", d.handleLogs)
	if d.config.Metrics != nil {
		mux.Handle("GET "+Prefix+"metrics", d.config.Metrics)
	}
	return mux
}

// Clients returns the number of connected live-reload clients.
func (d *Devtools) Clients() int {
	return d.hub.Count()
}

// Close tells every live-reload client the instance is going away.
func (d *Devtools) Close() {
	d.hub.Close(Message{Type: MessageRestarting})
}

func (d *Devtools) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status Status
	if d.config.Status != nil {
		status = d.config.Status(r)
	}
	status.Instance = d.config.InstanceID
	status.Clients = d.hub.Count()
	writeJSON(w, http.StatusOK, status)
}

// handleLogs serves a router's captured output. Clients poll with ?after=<last seq>.
func (d *Devtools) handleLogs(w http.ResponseWriter, r *http.Request) {
	if d.config.Logs == nil {
		http.NotFound(w, r)
		return
	}
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid after", http.StatusBadRequest)
			return
		}
		after = n
	}
	lines, ok := d.config.Logs(r.PathValue("router"), after)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if lines == nil {
		lines = []LogLine{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (d *Devtools) handleClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(clientJS)
}

func (d *Devtools) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	d.hub.Register(conn, Message{Type: MessageHello, Instance: d.config.InstanceID})

	// Clients never send anything meaningful; reading keeps control frames flowing
	// and notices the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	d.hub.Unregister(conn)
}

func (d *Devtools) handleRestart(w http.ResponseWriter, r *http.Request) {
	if d.config.Trigger == nil || d.config.Tokens == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "restart trigger not available"})
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}
	if _, err := d.config.Tokens.Verify(token, ScopeRestart); err != nil {
		d.logger.Warn("Rejected restart request", "error", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	d.logger.Info("Restart requested over HTTP", "remote", r.RemoteAddr)
	d.config.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restart queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
