package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/storefront/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/bestsellers", h.Bestsellers)
		r.Get("/latest", h.Latest)
		r.Get("/{id}", h.GetProduct)
	})

	r.Route("/api/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Post("/items", h.AddCartItem)
		r.Put("/items", h.UpdateCartItem)
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Get("/", h.CurrentUser)
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.Post("/logout", h.Logout)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Get("/current", h.CurrentOrder)
		r.Post("/verify-widget", h.VerifyWidget)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/", h.PlaceOrder)
			r.Get("/", h.GetOrders)
		})
	})

	r.Get("/verify", h.VerifyRedirect)

	r.Route("/api/search", func(r chi.Router) {
		r.Post("/", h.Search)
		r.Get("/", h.Suggestions)
	})

	r.Get("/api/notifications", h.Notifications)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
