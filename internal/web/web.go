// Package web serves the static site, invite-link landing pages, and
// uploaded file downloads over plain HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/infodancer/comcore/internal/config"
)

// LinkChecker resolves an invite code to its group name.
// valid is false for unknown or expired codes.
type LinkChecker interface {
	CheckLink(ctx context.Context, code string) (name string, valid bool, err error)
}

// Server is the HTTP side of comcore. It has no protocol logic; joining a
// group still happens over the main connection.
type Server struct {
	cfg    config.WebConfig
	logger *slog.Logger
	srv    *http.Server
}

// New builds the HTTP server and its routes.
func New(cfg config.WebConfig, links LinkChecker, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if cfg.SiteDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.SiteDir)))
	} else {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			fmt.Fprintln(w, "comcore")
		})
	}

	r.Get("/join/{code}", joinHandler(links, logger))

	if cfg.UploadDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/",
			http.FileServer(http.Dir(cfg.UploadDir))))
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:              cfg.Address,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

var joinTemplate = template.Must(template.New("join").Parse(`<!doctype html>
<html>
<head><title>Join {{.Name}}</title></head>
<body>
<h1>You have been invited to join {{.Name}}</h1>
<p>Open the app and enter this invite code:</p>
<p><code>{{.Code}}</code></p>
</body>
</html>
`))

func joinHandler(links LinkChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		code := chi.URLParam(req, "code")
		name, valid, err := links.CheckLink(req.Context(), code)
		if err != nil {
			logger.Error("invite lookup failed", "error", err.Error())
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !valid {
			http.Error(w, "invite link is invalid or has expired", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := joinTemplate.Execute(w, struct {
			Name string
			Code string
		}{Name: name, Code: code}); err != nil {
			logger.Error("join page render failed", "error", err.Error())
		}
	}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server started", "address", s.cfg.Address)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
