// Package http is the wire surface: thin chi handlers over the engine, with
// auth, CORS and error-to-status mapping. No scoring logic lives here.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/radcoach/radcoach/internal/auth"
	"github.com/radcoach/radcoach/internal/config"
	"github.com/radcoach/radcoach/internal/engine"
	"github.com/radcoach/radcoach/internal/ledger"
	"github.com/radcoach/radcoach/internal/storage"
)

func NewRouter(cfg config.Config, svc *engine.Service, authSvc *auth.Service, store ledger.Store, images storage.ImageStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", auth.LearnerLoginHandler(authSvc, store))
		api.Post("/auth/admin", auth.AdminLoginHandler(authSvc, cfg.AdminUser, cfg.AdminPassHash))

		api.Group(func(lr chi.Router) {
			lr.Use(auth.Middleware(authSvc))
			lr.Use(auth.RequireRole(auth.RoleLearner))

			lr.Get("/cases/localize/next", NextLocalizeCaseHandler(svc))
			lr.Get("/cases/report/next", NextReportCaseHandler(svc))
			lr.Post("/submit/localize", SubmitLocalizationHandler(svc))
			lr.Post("/submit/report", SubmitReportHandler(svc))
			lr.Post("/guided/{modality}/advance", AdvanceGuidedHandler(svc))
			lr.Get("/progress", ProgressHandler(svc))
			lr.Get("/summary/{modality}", SummaryHandler(svc))
			lr.Get("/images/{name}", ImageHandler(images))
		})

		api.Group(func(ar chi.Router) {
			ar.Use(auth.Middleware(authSvc))
			ar.Use(auth.RequireRole(auth.RoleAdmin))

			ar.Post("/admin/codes", GenerateCodesHandler(store))
			ar.Get("/admin/codes", ListCodesHandler(store))
			ar.Patch("/admin/codes/{code}/modes", UpdateModesHandler(store))
			ar.Get("/admin/export/{code}", ExportLearnerHandler(store))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	return r
}
