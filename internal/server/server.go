// Package server serves the output tree over HTTP together with the
// live-reload endpoints.
package server

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/docsmith/internal/logging"
	"github.com/conneroisu/docsmith/internal/reload"
)

const (
	// SSEPath is the server-sent events reload stream.
	SSEPath = "/__sse__"
	// WebSocketPath is the WebSocket reload stream.
	WebSocketPath = "/__ws__"
)

// Options configures a Server.
type Options struct {
	Addr        string
	Fs          afero.Fs
	OutputRoot  string
	Broadcaster *reload.Broadcaster
	KeepAlive   time.Duration
	Logger      logging.Logger
}

// Server is the development HTTP server.
type Server struct {
	addr     string
	resolver *Resolver
	sse      http.Handler
	ws       http.Handler
	logger   logging.Logger

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// New wires the resolver and both reload transports.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	return &Server{
		addr:     opts.Addr,
		resolver: NewResolver(fsys, opts.OutputRoot, logger),
		sse:      reload.SSEHandler(opts.Broadcaster, opts.KeepAlive, logger),
		ws:       reload.WebSocketHandler(opts.Broadcaster, logger),
		logger:   logger.WithComponent("server"),
	}
}

// Handler returns the routed and logged HTTP handler.
func (s *Server) Handler() http.Handler {
	// Routed by hand: ServeMux would redirect paths containing ".." before
	// the resolver could reject them.
	route := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SSEPath:
			s.sse.ServeHTTP(w, r)
		case WebSocketPath:
			s.ws.ServeHTTP(w, r)
		default:
			s.resolver.ServeHTTP(w, r)
		}
	})
	return s.logRequests(route)
}

// Listen binds the listening socket. Port 0 picks a free port; URL reports
// the bound address afterwards.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.serverMutex.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serverMutex.Unlock()
	return nil
}

// URL returns the base URL of the bound listener.
func (s *Server) URL() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return "http://" + s.addr
	}
	return "http://" + s.listener.Addr().String()
}

// Serve accepts connections until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	s.serverMutex.RLock()
	server, ln := s.httpServer, s.listener
	s.serverMutex.RUnlock()
	if server == nil {
		return stderrors.New("server: Serve called before Listen")
	}

	s.logger.Info(context.Background(), "Serving", "url", s.URL())
	if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
// Long-lived reload streams end when their Broadcaster closes, so close it
// first.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			err = server.Shutdown(ctx)
		}
	})
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacking not supported")
	}
	// Upgraded connections report 101.
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// OpenBrowser opens rawURL in the platform's default browser.
func OpenBrowser(ctx context.Context, rawURL string, logger logging.Logger) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		logger.Warn(ctx, err, "Refusing to open browser", "url", rawURL)
		return
	}

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", u.String()).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", u.String()).Start()
	case "darwin":
		err = exec.Command("open", u.String()).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}

	if err != nil {
		logger.Warn(ctx, err, "Failed to open browser", "url", rawURL)
	}
}
