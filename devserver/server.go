package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomyedwab/devhost/appconfig"
	"github.com/tomyedwab/devhost/devtools"
	"github.com/tomyedwab/devhost/processes"
)

// ErrClosed is returned by Listen on an instance that was already closed.
var ErrClosed = errors.New("server instance closed")

// statusOutputLines is how much service output the devtools status shows.
const statusOutputLines = 20

// service is a running service router.
type service struct {
	router appconfig.Router
	port   int
	proc   *processes.ManagedProcess
}

// Server is the concrete Instance: an http.Server plus the subprocesses of its
// service routers.
type Server struct {
	id       string
	app      *appconfig.App
	opts     Options
	logger   *slog.Logger
	ports    *processes.PortManager
	runner   *processes.Runner
	checker  processes.HealthChecker
	services []*service
	devtools *devtools.Devtools
	server   *http.Server

	mu       sync.Mutex
	listener *BoundListener
	closed   bool
}

// New builds an instance for app: it clears the cache when forced, starts the service
// routers and assembles the handler. The port is not bound until Listen.
func New(ctx context.Context, app *appconfig.App, opts Options) (*Server, error) {
	if app == nil {
		return nil, errors.New("no app definition")
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	s := &Server{
		id:      uuid.New().String(),
		app:     app,
		opts:    opts,
		ports:   opts.Ports,
		runner:  opts.Runner,
		checker: processes.NewHTTPHealthChecker(2 * time.Second),
	}
	s.logger = logger.With("component", "devserver", "instance", s.id)

	if s.ports == nil {
		pm, err := processes.NewPortManager(processes.DefaultMinPort, processes.DefaultMaxPort)
		if err != nil {
			return nil, err
		}
		s.ports = pm
	}
	if s.runner == nil {
		s.runner = processes.NewRunner(processes.DefaultConfig(), logger)
	}

	if opts.Force {
		cacheDir := app.ResolvePath(app.CacheDir)
		s.logger.Info("Clearing dependency cache", "dir", cacheDir)
		if err := os.RemoveAll(cacheDir); err != nil {
			return nil, fmt.Errorf("failed to clear cache %s: %w", cacheDir, err)
		}
	}

	if err := s.startServices(ctx); err != nil {
		s.stopServices(context.Background())
		return nil, err
	}

	handler, err := s.buildHandler()
	if err != nil {
		s.stopServices(context.Background())
		return nil, err
	}
	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("Server instance created", "app", app.Name, "routers", len(app.Routers), "preset", opts.Preset)
	return s, nil
}

// ID returns the instance ID.
func (s *Server) ID() string {
	return s.id
}

func (s *Server) startServices(ctx context.Context) error {
	for _, router := range s.app.Routers {
		if router.Type != appconfig.RouterService {
			continue
		}
		port, err := s.ports.AllocatePort()
		if err != nil {
			return fmt.Errorf("router %s: %w", router.Name, err)
		}
		svc := &service{router: router, port: port}
		s.services = append(s.services, svc)

		env := []string{
			"PORT=" + strconv.Itoa(port),
			"HOST=localhost",
			"SERVER_PRESET=" + s.opts.Preset,
			"DEVHOST_BASE=" + router.Base,
		}
		for k, v := range router.Env {
			env = append(env, k+"="+v)
		}

		proc, err := s.runner.Start(ctx, processes.Spec{
			Name:       router.Name,
			Command:    router.Command,
			Dir:        s.app.Root,
			Env:        env,
			Port:       port,
			HealthPath: router.HealthPath,
		}, nil, nil)
		if err != nil {
			return fmt.Errorf("router %s: %w", router.Name, err)
		}
		svc.proc = proc
	}
	return nil
}

func (s *Server) stopServices(ctx context.Context) error {
	var errs []error
	for _, svc := range s.services {
		if svc.proc != nil {
			if err := s.runner.Stop(ctx, svc.proc); err != nil {
				errs = append(errs, fmt.Errorf("router %s: %w", svc.router.Name, err))
			}
		}
		s.ports.ReleasePort(svc.port)
	}
	s.services = nil
	return errors.Join(errs...)
}

// Listen binds the configured port and starts serving in the background.
func (s *Server) Listen(ctx context.Context) (Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.listener != nil {
		return s.listener, nil
	}

	host := "localhost"
	if s.opts.Host {
		host = "0.0.0.0"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.opts.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", "error", err)
		}
	}()

	s.listener = newBoundListener(ln.Addr(), s.opts.Host, s.opts.Output)
	s.logger.Info("Server listening", "addr", ln.Addr().String())
	return s.listener, nil
}

// Close disconnects devtools clients, shuts the HTTP server down and stops every
// service subprocess. It waits for all of it; calling it again is a no-op.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Info("Closing server instance")
	if s.devtools != nil {
		s.devtools.Close()
	}

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
	}
	if err := s.stopServices(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("Server instance closed")
	return nil
}

// status reports the instance for the devtools status endpoint.
func (s *Server) status(r *http.Request) devtools.Status {
	st := devtools.Status{
		App:    s.app.Name,
		Preset: s.opts.Preset,
		Port:   s.opts.Port,
	}
	s.mu.Lock()
	if s.listener != nil {
		st.Port = s.listener.Port()
	}
	s.mu.Unlock()

	for _, router := range s.app.RoutersByBase() {
		st.Routers = append(st.Routers, devtools.RouterStatus{
			Name: router.Name,
			Type: string(router.Type),
			Base: router.Base,
		})
	}
	for _, svc := range s.services {
		ps := devtools.ProcessStatus{Router: svc.router.Name, Port: svc.port}
		if svc.proc != nil {
			ps.PID = svc.proc.PID
			ps.Uptime = svc.proc.Uptime().Round(time.Second).String()
			state, err := s.checker.Check(r.Context(), svc.proc)
			ps.State = state.String()
			if err != nil {
				ps.Error = err.Error()
			}
			for _, line := range svc.proc.Output.Tail(statusOutputLines) {
				ps.Output = append(ps.Output, line.Text)
			}
		}
		st.Processes = append(st.Processes, ps)
	}
	return st
}

// logs serves the devtools logs endpoint.
func (s *Server) logs(router string, after int64) ([]devtools.LogLine, bool) {
	for _, svc := range s.services {
		if svc.router.Name != router || svc.proc == nil {
			continue
		}
		var out []devtools.LogLine
		for _, line := range svc.proc.Output.Since(after) {
			out = append(out, devtools.LogLine{Seq: line.Seq, Time: line.Time, Stream: line.Stream, Text: line.Text})
		}
		return out, true
	}
	return nil, false
}
