package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vmforge/engine/internal/api/handlers"
	mw "github.com/vmforge/engine/internal/api/middleware"
)

type Dependencies struct {
	HMACSecret         []byte
	AuthHandler        *handlers.AuthHandler
	MachinesHandler    *handlers.MachinesHandler
	DeploymentsHandler *handlers.DeploymentsHandler
	AccountsHandler    *handlers.AccountsHandler
	AssetsHandler      *handlers.AssetsHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		// Auth routes (public)
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", dep.AuthHandler.Register)
			ar.Post("/login", dep.AuthHandler.Login)
			ar.Post("/logout", dep.AuthHandler.Logout)
		})

		// Protected routes
		api.Group(func(protected chi.Router) {
			protected.Use(mw.Auth(dep.HMACSecret))

			protected.Route("/machines", func(mr chi.Router) {
				mr.Get("/", dep.MachinesHandler.List)
				mr.Post("/", dep.MachinesHandler.Create)
				mr.Get("/{id}", dep.MachinesHandler.Get)
				mr.Post("/{id}/actions", dep.MachinesHandler.Act)
				mr.Get("/{id}/deployments", dep.MachinesHandler.ListDeployments)
			})

			protected.Route("/deployments", func(dr chi.Router) {
				dr.Get("/{id}", dep.DeploymentsHandler.Get)
				dr.Post("/{id}/cancel", dep.DeploymentsHandler.Cancel)
				dr.Get("/{id}/logs", dep.DeploymentsHandler.Logs)
				dr.Get("/{id}/logs/stream", dep.DeploymentsHandler.StreamLogs)
			})

			protected.Route("/accounts", func(ar chi.Router) {
				ar.Get("/", dep.AccountsHandler.List)
				ar.Post("/", dep.AccountsHandler.Connect)
				ar.Post("/{id}/rotate", dep.AccountsHandler.Rotate)
				ar.Post("/{id}/verify", dep.AccountsHandler.Verify)
				ar.Delete("/{id}", dep.AccountsHandler.Disconnect)
				ar.Post("/oauth/begin", dep.AccountsHandler.OAuthBegin)
				ar.Post("/oauth/callback", dep.AccountsHandler.OAuthCallback)
			})

			protected.Route("/ssh-keys", func(kr chi.Router) {
				kr.Post("/", dep.AssetsHandler.CreateSSHKey)
				kr.Post("/{id}/sync", dep.AssetsHandler.SyncSSHKey)
				kr.Delete("/{id}", dep.AssetsHandler.DeleteSSHKey)
			})

			protected.Route("/firewall-profiles", func(fr chi.Router) {
				fr.Get("/", dep.AssetsHandler.ListFirewallProfiles)
				fr.Post("/", dep.AssetsHandler.CreateFirewallProfile)
				fr.Delete("/{id}", dep.AssetsHandler.DeleteFirewallProfile)
			})

			protected.Route("/bootstrap-templates", func(br chi.Router) {
				br.Post("/", dep.AssetsHandler.CreateBootstrapTemplate)
				br.Delete("/{id}", dep.AssetsHandler.DeleteBootstrapTemplate)
			})
		})
	})

	return r
}
