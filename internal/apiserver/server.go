// Package apiserver exposes the session and registry-administration
// operations over HTTP, built on chi and wrapping the same
// internal/cli.Runtime the CLI drives.
package apiserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dsl-ob-poc/internal/cli"
	"dsl-ob-poc/internal/executor"
)

// Server bundles the runtime and the in-process verb/label/session
// registries the HTTP handlers dispatch against.
type Server struct {
	rt       *cli.Runtime
	verbs    *executor.Registry
	labels   executor.LabelResolver
	sessions *cli.SessionRegistry
}

// New constructs a Server over rt. verbs is the process-startup-
// populated custom-op dispatch table; a nil labels resolver treats
// every step as Public/unrestricted.
func New(rt *cli.Runtime, verbs *executor.Registry, labels executor.LabelResolver) *Server {
	return &Server{rt: rt, verbs: verbs, labels: labels, sessions: cli.NewSessionRegistry()}
}

// Router builds the chi mux exposing every session and registry-
// administration endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/utterances", s.handleProcessUtterance)
	})

	r.Route("/runbooks/{runbookID}", func(r chi.Router) {
		r.Post("/execute", s.handleExecuteRunbook)
		r.Post("/cancel", s.handleCancelRunbook)
	})
	r.Post("/resume", s.handleResume)

	r.Route("/changesets", func(r chi.Router) {
		r.Post("/", s.handleProposeChangeSet)
		r.Post("/publish-batch", s.handlePublishBatch)
		r.Route("/{changesetID}", func(r chi.Router) {
			r.Post("/validate", s.handleValidate)
			r.Post("/dry-run", s.handleDryRun)
			r.Post("/plan-publish", s.handlePlanPublish)
			r.Post("/publish", s.handlePublish)
			r.Post("/review-decision", s.handleRecordReviewDecision)
		})
	})
	r.Post("/registry/rollback", s.handleRollback)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
