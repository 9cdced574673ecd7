package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"rmcloud/internal/api"
	"rmcloud/internal/config"
	"rmcloud/internal/logging"
)

const (
	sessionCookie   = "rmcloud_session"
	shutdownTimeout = 5 * time.Second
	// writeSlack is added to the pipeline timeouts to form the write deadline.
	writeSlack = 30 * time.Second
)

type apiServer struct {
	cfg     *config.Config
	comp    Components
	logger  *slog.Logger
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, comp Components, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		cfg:    cfg,
		comp:   comp,
		logger: logging.NewComponentLogger(logger, "api-server"),
	}

	mux := http.NewServeMux()
	srv.handle(mux, "GET /cloud/files", srv.handleFiles)
	srv.handle(mux, "GET /cloud/download", srv.handleDownload)
	srv.handle(mux, "GET /cloud/register", srv.handleRegister)
	srv.handle(mux, "GET /backend/logout", srv.handleLogout)
	srv.handle(mux, "GET /backend/session", srv.handleSession)
	srv.handle(mux, "GET /backend/info", srv.handleInfo)
	srv.handle(mux, "GET /healthz", srv.handleHealth)
	if comp.Metrics != nil {
		srv.handle(mux, "GET /metrics", comp.Metrics.Handler().ServeHTTP)
	}
	srv.handler = mux

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.CloudTimeout() + cfg.ConverterTimeout() + writeSlack,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(srv.logger.Handler(), slog.LevelWarn),
	}
	return srv
}

// handle registers h under pattern behind the request middleware chain.
func (s *apiServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	route := pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		route = path
	}
	chain := authMiddleware(s.cfg.Server.APIToken, h)
	chain = localhostGuard(s.guardEnabled(), chain)
	chain = s.observe(route, chain)
	mux.HandleFunc(pattern, chain)
}

// guardEnabled reports whether plain-HTTP requests must come from loopback.
func (s *apiServer) guardEnabled() bool {
	return !s.cfg.TLSEnabled() && !s.cfg.Server.AllowInsecure && !s.cfg.Demo.Enabled
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		var serveErr error
		if s.cfg.TLSEnabled() {
			serveErr = s.server.ServeTLS(listener, s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			serveErr = s.server.Serve(listener)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "server_failed",
				logging.Error(serveErr),
				logging.String(logging.FieldErrorHint, "check the TLS certificate and bind address"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("tls", s.cfg.TLSEnabled()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.WithContext(r.Context(), s.logger).Error("failed to encode response", logging.Error(err))
	}
}

// writeError renders err as the error envelope. Plain errors are reported
// under fallback.
func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error, fallback api.ErrorType) {
	apiErr := api.FromError(err, fallback)
	logger := logging.WithContext(r.Context(), s.logger)
	attrs := []logging.Attr{
		logging.String("error_type", string(apiErr.Type)),
		logging.String("detail", apiErr.Detail),
	}
	if apiErr.HTTPStatus() >= http.StatusInternalServerError {
		logging.WarnWithContext(logger, "request failed", "request_failed", append(attrs,
			logging.String(logging.FieldImpact, "client received an upstream error"),
		)...)
	} else {
		logger.Info("request rejected", logging.Args(attrs...)...)
	}
	s.writeJSON(w, r, apiErr.HTTPStatus(), api.Failure(apiErr))
}
