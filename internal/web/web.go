// Package web serves the JSON API and the dashboard that drive document
// conversions from a browser. Handlers are thin: they resolve the caller's
// session from a cookie and delegate to the loader, converter, insight
// generator and packager through narrow interfaces.
package web

import (
	"context"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/config"
	"github.com/local/pageforge/internal/imagerender"
	"github.com/local/pageforge/internal/insight"
	"github.com/local/pageforge/internal/metrics"
	"github.com/local/pageforge/internal/orchestrator"
	"github.com/local/pageforge/internal/pdf"
	"github.com/local/pageforge/internal/session"
	"github.com/local/pageforge/internal/statuscheck"
)

// Loader turns uploaded bytes into a validated document handle and extracts
// the text sample fed to the insight generator.
type Loader interface {
	Load(name string, data []byte) (*pdf.Handle, error)
	FirstPageText(h *pdf.Handle) string
}

// Fetcher resolves file://, http(s):// and s3:// references to bytes.
type Fetcher interface {
	Resolve(ctx context.Context, ref string) ([]byte, string, error)
}

// Converter runs a full-document conversion, reporting through the sink.
type Converter interface {
	ConvertAll(ctx context.Context, handle pdf.Handle, settings imagerender.Settings, sink orchestrator.Sink) orchestrator.Summary
}

// Insight produces the document analysis result. It never returns an error;
// failures surface as a degraded result.
type Insight interface {
	Analyze(ctx context.Context, text string) insight.Result
}

// Health reports dependency readiness for the status panel.
type Health interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies bundles everything the handlers need.
type Dependencies struct {
	Sessions  *session.Manager
	Loader    Loader
	Fetcher   Fetcher
	Converter Converter
	Insight   Insight
	Health    Health
}

// Server holds the parsed templates and the optional dashboard credentials.
type Server struct {
	deps           Dependencies
	tpl            *template.Template
	username       string
	password       string
	maxUploadBytes int64
}

// New loads the dashboard templates and reads the optional WEB_USERNAME and
// WEB_PASSWORD credentials. When both are unset the dashboard is open.
func New(deps Dependencies, conf config.Config) *Server {
	tpl := template.Must(template.ParseGlob(filepath.Join("web", "templates", "*.html")))
	return &Server{
		deps:           deps,
		tpl:            tpl,
		username:       os.Getenv("WEB_USERNAME"),
		password:       os.Getenv("WEB_PASSWORD"),
		maxUploadBytes: conf.Render.MaxUploadMB << 20,
	}
}

// RegisterRoutes attaches all API and dashboard routes to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/load", s.handleLoad)
	mux.HandleFunc("/api/load_ref", s.handleLoadRef)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/convert", s.handleConvert)
	mux.HandleFunc("/api/progress", s.handleProgress)
	mux.HandleFunc("/api/page/", s.handlePage)
	mux.HandleFunc("/api/download/page/", s.handleDownloadPage)
	mux.HandleFunc("/api/download/archive", s.handleDownloadArchive)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/status", s.handleStatus)

	mux.HandleFunc("/web/login", s.handleLogin)
	mux.HandleFunc("/web/logout", s.handleLogout)
	mux.HandleFunc("/web/", s.requireAuth(s.handleDashboard))
	mux.HandleFunc("/web/dashboard", s.requireAuth(s.handleDashboard))
	mux.HandleFunc("/", s.handleRoot)
}

const sessionCookie = "pageforge_session"

// session resolves the caller's session from the cookie. Unknown or missing
// IDs get a fresh session and a new cookie; client-supplied IDs are never
// adopted as-is.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess := s.deps.Sessions.GetOrCreate(id)
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	sess.Touch()
	return sess
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	if err := s.tpl.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("template render failed")
	}
}

func (s *Server) authConfigured() bool {
	return s.username != "" && s.password != ""
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authConfigured() {
			next(w, r)
			return
		}
		c, err := r.Cookie("auth")
		if err != nil || c.Value != "1" {
			http.Redirect(w, r, "/web/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.authConfigured() {
		http.Redirect(w, r, "/web/dashboard", http.StatusSeeOther)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.render(w, "login.html", map[string]any{"Error": r.URL.Query().Get("error")})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Redirect(w, r, "/web/login?error=invalid+form", http.StatusSeeOther)
			return
		}
		if r.Form.Get("username") == s.username && r.Form.Get("password") == s.password {
			http.SetCookie(w, &http.Cookie{Name: "auth", Value: "1", Path: "/", HttpOnly: true})
			http.Redirect(w, r, "/web/dashboard", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/web/login?error=invalid+credentials", http.StatusSeeOther)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "auth", Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/web/login", http.StatusSeeOther)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/web/dashboard", http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	s.render(w, "dashboard.html", map[string]any{
		"Snap":   sess.Snapshot(),
		"Images": sess.Images(),
		"Authed": s.authConfigured(),
	})
}
