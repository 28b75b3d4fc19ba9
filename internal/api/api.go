// Package api implements the HTTP server a reviewer's browser talks to
// during a single review session.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dgrissen2/plannotator-ext/internal/decision"
	"github.com/dgrissen2/plannotator-ext/internal/fsutil"
	"github.com/dgrissen2/plannotator-ext/internal/model"
	"github.com/dgrissen2/plannotator-ext/internal/resolve"
	"github.com/dgrissen2/plannotator-ext/internal/storage"
)

//go:embed ui/index.html
var defaultShell []byte

// Default port-retry policy.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 500 * time.Millisecond
)

// Session is the document under review and the broker its verdict is
// delivered through. Everything but the broker is fixed once the server
// starts.
type Session struct {
	Mode        model.Mode
	Filepath    string
	Markdown    string
	BaseDir     string
	ProjectRoot string
	Origin      string
	RepoInfo    *model.RepoInfo
	Decision    *decision.Broker
}

// NewSession builds a session for content read from filePath. An empty
// filePath (a plan piped over stdin) anchors linked documents at projectRoot.
func NewSession(mode model.Mode, filePath, markdown, projectRoot string) *Session {
	baseDir := projectRoot
	if filePath != "" {
		baseDir = filepath.Dir(filePath)
	}
	return &Session{
		Mode:        mode,
		Filepath:    filePath,
		Markdown:    markdown,
		BaseDir:     baseDir,
		ProjectRoot: projectRoot,
		Decision:    decision.New(),
	}
}

// Options carries everything the server would otherwise read from the
// process environment.
type Options struct {
	Host           string
	Port           int
	HomeDir        string
	UploadDir      string
	SharingEnabled bool
	// UIPath replaces the embedded UI shell when set.
	UIPath     string
	MaxRetries int
	RetryDelay time.Duration
	// Archive receives draft annotations from /api/save. Nil disables it.
	Archive *storage.Record
	Logger  zerolog.Logger
}

// Server is the plannotator HTTP server.
type Server struct {
	opts     Options
	session  *Session
	resolver *resolve.Resolver
	uploads  *fsutil.Writer
	shell    []byte
	log      zerolog.Logger

	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener

	quit     chan struct{}
	stopOnce sync.Once
}

// New creates a server for session.
func New(session *Session, opts Options) (*Server, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if session.Decision == nil {
		session.Decision = decision.New()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}

	resolver, err := resolve.New(session.BaseDir, session.ProjectRoot)
	if err != nil {
		return nil, err
	}

	shell := defaultShell
	if opts.UIPath != "" {
		shell, err = os.ReadFile(opts.UIPath)
		if err != nil {
			return nil, fmt.Errorf("read ui shell: %w", err)
		}
	}

	uploads := fsutil.NewWriter(0o600, opts.Logger)
	uploads.DirPerm = 0o700

	s := &Server{
		opts:     opts,
		session:  session,
		resolver: resolver,
		uploads:  uploads,
		shell:    shell,
		log:      opts.Logger.With().Str("component", "api").Logger(),
		quit:     make(chan struct{}),
	}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/doc", s.handleDoc)
	s.mux.HandleFunc("GET /api/image", s.handleImage)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/approve", s.handleApprove)
	s.mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	s.mux.HandleFunc("POST /api/save", s.handleSave)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	s.mux.HandleFunc("/", s.handleShell)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.mux)
}

// Session returns the session this server presents.
func (s *Server) Session() *Session {
	return s.session
}

// Start binds the listening socket, retrying while the port is taken, and
// serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := Listen(ctx, s.opts.Host, s.opts.Port, s.opts.MaxRetries, s.opts.RetryDelay, s.log)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	s.log.Info().Str("url", s.URL()).Str("mode", s.session.Mode.String()).Msg("review server listening")
	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// URL returns the address a browser should open.
func (s *Server) URL() string {
	host := s.opts.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port()))
}

// Stop shuts the server down, ending open websocket streams.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.quit) })
	return s.server.Shutdown(ctx)
}

// recoverer turns handler panics into 500 responses.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				writeError(w, http.StatusInternalServerError, fmt.Sprint(rec))
			}
		}()
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("json encode error")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a JSON request body into v. An empty body leaves v
// untouched.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

const maxJSONBody = 16 << 20
