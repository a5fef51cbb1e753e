package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/cityweather/internal/models"
	"github.com/lox/cityweather/internal/widget"
)

// LookupLister is implemented by the stores that keep a lookup history.
type LookupLister interface {
	RecentLookups(limit int) ([]models.Lookup, error)
}

type Server struct {
	widget  *widget.Widget
	lookups LookupLister
	port    string
}

func NewServer(w *widget.Widget, port string) *Server {
	return &Server{widget: w, port: port}
}

// SetLookupLister enables GET /api/lookups.
func (s *Server) SetLookupLister(l LookupLister) {
	s.lookups = l
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/weather", s.handleWeather)
		r.Get("/preferences", s.handlePreferences)
		r.Get("/lookups", s.handleLookups)
		r.Post("/search", s.handleSearch)
		r.Post("/select", s.handleSelect)
		r.Post("/unit", s.handleUnit)
		r.Post("/focus", s.handleFocus)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
