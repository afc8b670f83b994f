package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "ingest-worker-service/docs"
)

func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Post("/collections", h.CreateCollection)

	r.Route("/ingest-jobs", func(r chi.Router) {
		r.Post("/", h.StartIngestion)
		r.Get("/", h.ListIngestJobs)
		r.Get("/{id}", h.GetIngestJob)
		r.Post("/{id}/cancel", h.CancelIngestJob)
	})

	r.Get("/queue-jobs/{id}", h.GetQueueJob)
	r.Get("/queue/stats", h.QueueStats)
	if h.runner != nil {
		r.Post("/queue/process", h.ProcessQueue)
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
