package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-enroll/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	maxUpload := int64(s.config.MaxUploadSizeMB) << 20

	enrollHandler := handlers.NewEnrollHandler(s.engine, s.log, maxUpload)
	recognizeHandler := handlers.NewRecognizeHandler(s.engine, s.log, maxUpload)
	healthHandler := handlers.NewHealthHandler(s.engine, s.adaptive)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Put("/adaptive", healthHandler.SetAdaptive)

		r.Route("/identities/{id}", func(r chi.Router) {
			r.Post("/enroll", enrollHandler.Enroll)
			r.Post("/enroll/batch", enrollHandler.EnrollBatch)
			r.Get("/metrics", enrollHandler.Metrics)
			r.Delete("/enrollment", enrollHandler.Clear)
			r.Delete("/embeddings/{embeddingId}", enrollHandler.DeleteEmbedding)
		})

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Handler)
			}
			r.Post("/recognize", recognizeHandler.Recognize)
			r.Post("/search", recognizeHandler.Search)
		})
	})
}
