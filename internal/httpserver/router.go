package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/orders"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/workflow"
)

type RouterDeps struct {
	OrderHandler    *orders.Handler
	WorkflowHandler *workflow.Handler
	HealthHandler   http.HandlerFunc
	OrdersWSHandler http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", d.HealthHandler)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", d.OrderHandler.Place)
			r.Get("/", d.OrderHandler.List)
			if d.OrdersWSHandler != nil {
				r.Get("/ws", d.OrdersWSHandler.ServeHTTP)
			}
			r.Get("/{id}", d.OrderHandler.Get)
			r.Post("/{id}/cancel", d.OrderHandler.Cancel)
		})
		r.Post("/brackets", d.OrderHandler.PlaceBracket)
		r.Route("/oca", func(r chi.Router) {
			r.Get("/", d.OrderHandler.ListGroups)
			r.Get("/{group}", d.OrderHandler.GetGroup)
			r.Post("/{group}/cancel", d.OrderHandler.CancelGroup)
		})
		r.Post("/workflows/run", d.WorkflowHandler.Run)
	})
	return r
}
