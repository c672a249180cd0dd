package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers groups the route handlers the router mounts.
type Handlers struct {
	Users     *UserHandler
	Tasks     *TaskHandler
	Offers    *OfferHandler
	Reconcile *ReconcileHandler
}

// NewRouter creates and configures the HTTP router.
//
// The /internal routes are expected to be blocked from public traffic by
// the fronting proxy.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/health", HealthHandler())

	r.Route("/user", func(r chi.Router) {
		r.Post("/register", h.Users.Register)
		r.Post("/onboard", h.Users.Onboard)
		r.Post("/update-token", h.Users.UpdateToken)
		r.Get("/tasks", h.Tasks.NextTasks)
		r.Post("/task/results", h.Tasks.SubmitResults)
		r.Get("/offers", h.Offers.List)
		r.Get("/transactions", h.Reconcile.Transactions)
	})

	r.Route("/offer", func(r chi.Router) {
		r.Post("/book", h.Offers.Book)
		r.Post("/redeem", h.Offers.Redeem)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Post("/task/add", h.Tasks.AddTask)
		r.Post("/user/merge", h.Users.Merge)
		r.Post("/offer/add", h.Offers.Add)
		r.Post("/offer/set-active", h.Offers.SetActive)
		r.Post("/good/add", h.Offers.AddGood)
		r.Post("/good/release-unclaimed", h.Offers.ReleaseUnclaimed)
		r.Get("/reconcile/missing", h.Reconcile.Missing)
		r.Post("/compensate", h.Reconcile.Compensate)
	})

	return r
}
