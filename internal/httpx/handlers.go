package httpx

import (
	"github.com/ariefcatur/go-marketplace/internal/inventory"
	"github.com/ariefcatur/go-marketplace/internal/query"
	"github.com/go-chi/chi/v5"
)

const defaultMaxUpload = 5 << 20

type Handlers struct {
	Inventory      *inventory.Service
	Query          *query.Service
	MaxUploadBytes int64
}

// Register mounts the marketplace routes on r. The API is served both at
// the root and under /api, which is where the web client calls it.
func (h *Handlers) Register(r chi.Router) {
	h.routes(r)
	r.Route("/api", h.routes)
}

func (h *Handlers) routes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Put("/products/{id}", h.updateProduct)
	r.Post("/products/{id}/restock", h.restockProduct)

	r.Post("/orders", h.placeOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.updateOrderStatus)

	r.Get("/sellers/{id}/stats", h.sellerStats)
}

func (h *Handlers) maxUpload() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUpload
}
