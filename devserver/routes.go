package devserver

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tomyedwab/devhost/appconfig"
	"github.com/tomyedwab/devhost/devtools"
)

// buildHandler mounts every router at its base. Static routers see paths relative to
// their base; proxy and service routers receive the full request path.
func (s *Server) buildHandler() (http.Handler, error) {
	mux := http.NewServeMux()

	for _, router := range s.app.RoutersByBase() {
		h, err := s.routerHandler(router)
		if err != nil {
			return nil, fmt.Errorf("router %s: %w", router.Name, err)
		}
		base := strings.TrimSuffix(router.Base, "/")
		if err := handle(mux, base+"/", h); err != nil {
			return nil, fmt.Errorf("router %s: %w", router.Name, err)
		}
		if base != "" {
			if err := handle(mux, base, h); err != nil {
				return nil, fmt.Errorf("router %s: %w", router.Name, err)
			}
		}
	}

	if s.opts.Devtools {
		s.devtools = devtools.New(devtools.Config{
			InstanceID: s.id,
			Status:     s.status,
			Logs:       s.logs,
			Metrics:    s.opts.Metrics,
			Trigger:    s.opts.Trigger,
			Tokens:     s.opts.Tokens,
			Logger:     s.logger,
		})
		mux.Handle(devtools.Prefix, s.devtools.Handler())
	}

	return s.logRequests(mux), nil
}

// handle registers pattern on mux, returning the panic ServeMux raises for a malformed
// or conflicting pattern as an error.
func handle(mux *http.ServeMux, pattern string, h http.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cannot mount %q: %v", pattern, r)
		}
	}()
	mux.Handle(pattern, h)
	return nil
}

func (s *Server) routerHandler(router appconfig.Router) (http.Handler, error) {
	switch router.Type {
	case appconfig.RouterStatic:
		dir := s.app.ResolvePath(router.Dir)
		return http.StripPrefix(strings.TrimSuffix(router.Base, "/"), http.FileServer(http.Dir(dir))), nil
	case appconfig.RouterProxy:
		target, err := url.Parse(router.Target)
		if err != nil {
			return nil, fmt.Errorf("invalid target: %w", err)
		}
		return s.reverseProxy(router.Name, target), nil
	case appconfig.RouterService:
		for _, svc := range s.services {
			if svc.router.Name == router.Name {
				target := &url.URL{Scheme: "http", Host: "localhost:" + strconv.Itoa(svc.port)}
				return s.reverseProxy(router.Name, target), nil
			}
		}
		return nil, fmt.Errorf("service was not started")
	default:
		return nil, fmt.Errorf("unknown router type %q", router.Type)
	}
}

func (s *Server) reverseProxy(name string, target *url.URL) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Warn("Upstream unavailable", "router", name, "target", target.String(), "path", r.URL.Path, "error", err)
		http.Error(w, "Service unavailable: "+name, http.StatusBadGateway)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Host = target.Host
		proxy.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := uuid.New().String()
		r.Header.Set("X-Trace-ID", traceID)
		s.logger.Debug("Request", "trace", traceID, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
