package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/scenarist/internal/api/middleware"
	"github.com/kiranshivaraju/scenarist/internal/api/response"
)

// CollectionHandlers serves one item collection.
type CollectionHandlers struct {
	List   http.HandlerFunc
	Create http.HandlerFunc
	Update http.HandlerFunc
	Delete http.HandlerFunc
}

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SubmitJobHandler http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	ListJobsHandler  http.HandlerFunc

	Styles    CollectionHandlers
	Sources   CollectionHandlers
	Scenarios CollectionHandlers

	ChatHandler       http.HandlerFunc
	ListChatMessages  http.HandlerFunc
	CreateChatMessage http.HandlerFunc
	ClearChatMessages http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))

		mountCollection(r, "/api/v1/styles", deps.Styles)
		mountCollection(r, "/api/v1/sources", deps.Sources)
		mountCollection(r, "/api/v1/scenarios", deps.Scenarios)

		r.Post("/api/v1/chat", orNotImplemented(deps.ChatHandler))
		r.Get("/api/v1/chat-messages", orNotImplemented(deps.ListChatMessages))
		r.Post("/api/v1/chat-messages", orNotImplemented(deps.CreateChatMessage))
		r.Delete("/api/v1/chat-messages", orNotImplemented(deps.ClearChatMessages))
	})

	return r
}

func mountCollection(r chi.Router, path string, h CollectionHandlers) {
	r.Get(path, orNotImplemented(h.List))
	r.Post(path, orNotImplemented(h.Create))
	r.Put(path, orNotImplemented(h.Update))
	r.Delete(path, orNotImplemented(h.Delete))
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
