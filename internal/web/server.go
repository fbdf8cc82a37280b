package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Adioame/PhotoMind-sub002/internal/cluster"
	"github.com/Adioame/PhotoMind-sub002/internal/detect"
	"github.com/Adioame/PhotoMind-sub002/internal/events"
	"github.com/Adioame/PhotoMind-sub002/internal/people"
	"github.com/Adioame/PhotoMind-sub002/internal/regen"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
	"github.com/Adioame/PhotoMind-sub002/internal/web/handlers"
)

// Deps are the pipeline components the API exposes.
type Deps struct {
	Store    *store.Store
	Registry *people.Registry
	Matcher  *cluster.Matcher
	Detector *detect.Detector
	Regen    *regen.Manager
	Bus      *events.Bus
}

// Server represents the web server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
}

// NewServer creates a new web server.
func NewServer(deps Deps, host string, port int) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		deps:   deps,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) setupRoutes() {
	peopleHandler := handlers.NewPeopleHandler(s.deps.Registry, s.deps.Matcher)
	facesHandler := handlers.NewFacesHandler(s.deps.Store, s.deps.Matcher)
	detectHandler := handlers.NewDetectHandler(s.deps.Store, s.deps.Detector)
	regenHandler := handlers.NewRegenHandler(s.deps.Regen)
	eventsHandler := handlers.NewEventsHandler(s.deps.Bus)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Detection
		r.Post("/photos/{id}/detect", detectHandler.DetectPhoto)
		r.Get("/photos/{id}/faces", facesHandler.GetPhotoFaces)
		r.Post("/detect/batch", detectHandler.StartBatch)
		r.Delete("/detect/{jobId}", detectHandler.CancelBatch)

		// Matching
		r.Post("/faces/match", facesHandler.Match)
		r.Get("/faces/{id}/similar", facesHandler.Similar)
		r.Post("/faces/assign", facesHandler.Assign)
		r.Post("/faces/{id}/unmatch", facesHandler.Unmatch)
		r.Post("/faces/{id}/split", facesHandler.Split)

		// People
		r.Get("/people", peopleHandler.List)
		r.Post("/people", peopleHandler.Create)
		r.Get("/people/{id}", peopleHandler.Get)
		r.Put("/people/{id}", peopleHandler.Update)
		r.Delete("/people/{id}", peopleHandler.Delete)
		r.Post("/people/merge", peopleHandler.Merge)
		r.Post("/people/cleanup", peopleHandler.Cleanup)

		// Regeneration
		r.Post("/regenerate", regenHandler.Start)
		r.Post("/regenerate/pause", regenHandler.Pause)
		r.Post("/regenerate/reset", regenHandler.Reset)
		r.Get("/regenerate/progress", regenHandler.Progress)

		// Queue diagnostics
		r.Get("/queue/status", regenHandler.QueueStatus)
		r.Post("/queue/reset", regenHandler.QueueReset)

		// Events
		r.Get("/events", eventsHandler.Stream)
	})
}
