package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"rmcloud/internal/api"
	"rmcloud/internal/artifactcache"
	"rmcloud/internal/cloud"
	"rmcloud/internal/download"
	"rmcloud/internal/logging"
	"rmcloud/internal/services"
	"rmcloud/internal/session"
)

const appName = "rmcloud"

// sessionID reads the session from the query, falling back to the cookie.
func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("sessionId")); id != "" {
		return id
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// requireSession validates and refreshes the caller's session. On failure
// the error response has already been written.
func (s *apiServer) requireSession(w http.ResponseWriter, r *http.Request) (string, *http.Request, bool) {
	id := sessionID(r)
	if id == "" || !s.comp.Sessions.Touch(id) {
		s.writeError(w, r, api.NewError(api.ErrorTypeInvalidSession, "unknown or expired session", nil), api.ErrorTypeInvalidSession)
		return "", r, false
	}
	return id, r.WithContext(services.WithSessionID(r.Context(), id)), true
}

// requireRegistration enforces the demo rule that a session must register
// before it can browse.
func (s *apiServer) requireRegistration(w http.ResponseWriter, r *http.Request, id string) bool {
	if !s.cfg.Demo.Enabled {
		return true
	}
	if attrs, ok := s.comp.Sessions.Get(id); ok && attrs.Registered {
		return true
	}
	detail := fmt.Sprintf("This is a demo version. Register with the code '%s'", s.cfg.Demo.RegisterCode)
	s.writeError(w, r, api.NewError(api.ErrorTypeLoadToken, detail, cloud.ErrNoToken), api.ErrorTypeLoadToken)
	return false
}

func (s *apiServer) cloudContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.cfg.CloudTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (s *apiServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	id, r, ok := s.requireSession(w, r)
	if !ok || !s.requireRegistration(w, r, id) {
		return
	}

	ctx, cancel := s.cloudContext(r.Context())
	defer cancel()
	tree, err := s.comp.Cloud.ListFiles(ctx)
	if err != nil {
		s.writeError(w, r, err, api.ErrorTypeRetrieveFiles)
		return
	}

	s.comp.Index.Store(cloud.NewIndex(tree))
	if _, err := s.comp.Reconciler.Reconcile(r.Context(), tree); err != nil {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "cache reconciliation failed", "cache_io",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the cache directory"),
			logging.String(logging.FieldImpact, "stale artifacts kept until the next listing"),
		)
	}
	s.writeJSON(w, r, http.StatusOK, api.FilesResponse(tree))
}

func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, r, ok := s.requireSession(w, r)
	if !ok || !s.requireRegistration(w, r, id) {
		return
	}

	query := r.URL.Query()
	docID := strings.TrimSpace(query.Get("id"))
	version, err := strconv.Atoi(strings.TrimSpace(query.Get("version")))
	if err != nil || version < 0 {
		s.writeError(w, r, api.NewError(api.ErrorTypeInvalidParameters,
			fmt.Sprintf("invalid version %q", query.Get("version")), err), api.ErrorTypeInvalidParameters)
		return
	}
	format, err := artifactcache.ParseFormat(query.Get("format"))
	if err != nil {
		s.writeError(w, r, api.NewError(api.ErrorTypeInvalidParameters,
			"unknown/unsupported format: "+query.Get("format"), err), api.ErrorTypeInvalidParameters)
		return
	}

	data, err := s.comp.Downloads.Resolve(r.Context(), download.Request{
		SessionID:  id,
		DocumentID: docID,
		Version:    version,
		Format:     format,
	})
	if err != nil {
		s.writeError(w, r, err, api.ErrorTypeDownloadFile)
		return
	}

	name := docID
	if entry, ok := s.comp.Index.Lookup(docID); ok && strings.TrimSpace(entry.Name) != "" {
		name = entry.Name
	}
	header := w.Header()
	header.Set("Content-Type", format.ContentType())
	header.Set("Content-Disposition", contentDisposition(name+"."+format.Extension()))
	header.Set("Content-Length", strconv.Itoa(len(data)))
	header.Set("Cache-Control", "private, max-age=0")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.WithContext(r.Context(), s.logger).Debug("client went away during download", logging.Error(err))
	}
}

func (s *apiServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		s.writeError(w, r, api.NewError(api.ErrorTypeInvalidParameters, "missing registration code", nil), api.ErrorTypeInvalidParameters)
		return
	}
	id, r, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.cloudContext(r.Context())
	defer cancel()
	if _, err := s.comp.Cloud.Register(ctx, code); err != nil {
		s.writeError(w, r, err, api.ErrorTypeRegister)
		return
	}

	now := s.comp.Sessions.Now()
	s.comp.Sessions.Update(id, func(attrs *session.Attributes) {
		attrs.Registered = true
		attrs.RegisteredAt = now
	})
	logging.WithContext(r.Context(), s.logger).Info("device registered")
	s.writeJSON(w, r, http.StatusOK, api.Success(api.RegisterResult{Registered: true}))
}

func (s *apiServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := sessionID(r); id != "" {
		s.comp.Sessions.Delete(id)
		s.comp.Metrics.SetActiveSessions(s.comp.Sessions.Len())
	}
	http.SetCookie(w, s.sessionCookie("", -1))
	s.writeJSON(w, r, http.StatusOK, api.Success(nil))
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" || !s.comp.Sessions.Touch(id) {
		created, err := s.comp.Sessions.Create()
		if err != nil {
			s.writeError(w, r, err, api.ErrorTypeInternal)
			return
		}
		id = created
		s.comp.Metrics.SetActiveSessions(s.comp.Sessions.Len())
	}
	attrs, _ := s.comp.Sessions.Get(id)
	http.SetCookie(w, s.sessionCookie(id, int(s.cfg.SessionMaxIdle().Seconds())))
	s.writeJSON(w, r, http.StatusOK, api.Success(api.SessionInfo{SessionID: id, Registered: attrs.Registered}))
}

func (s *apiServer) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.TLSEnabled(),
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *apiServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	formats := []string{artifactcache.FormatRaw.Extension()}
	if s.comp.Downloads.Supports(artifactcache.FormatConverted) {
		formats = append(formats, artifactcache.FormatConverted.Extension())
	}
	info := api.Info{
		Name:    appName,
		Version: s.comp.Version,
		Demo:    s.cfg.Demo.Enabled,
		Formats: formats,
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if s.comp.Cache != nil {
		info.Cache.Enabled = true
		if stats, err := s.comp.Cache.Stats(); err == nil {
			info.Cache.Entries = stats.Entries
			info.Cache.TotalBytes = stats.TotalBytes
		}
	}
	s.writeJSON(w, r, http.StatusOK, api.Success(info))
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, api.Success(map[string]int{"sessions": s.comp.Sessions.Len()}))
}
