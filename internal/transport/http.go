package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/online-store/internal/cart"
	"github.com/vasiliy-maslov/online-store/internal/catalog"
	"github.com/vasiliy-maslov/online-store/internal/handler"
	"github.com/vasiliy-maslov/online-store/internal/inventory"
	"github.com/vasiliy-maslov/online-store/internal/middleware"
	"github.com/vasiliy-maslov/online-store/internal/notify"
	"github.com/vasiliy-maslov/online-store/internal/order"
)

// NewRouter wires the full dependency graph and mounts all routes.
func NewRouter(pool *pgxpool.Pool) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Auth)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	catalogRepo := catalog.NewRepository(pool)
	ledger := inventory.NewLedger(pool)

	cartRepo := cart.NewRepository(pool)
	cartSvc := cart.NewService(cartRepo, catalogRepo)

	orderRepo := order.NewRepository(pool, ledger)
	orderSvc := order.NewService(orderRepo, cartSvc, catalogRepo, notify.NewLogNotifier())

	cartH := handler.NewCartHandler(cartSvc)
	orderH := handler.NewOrderHandler(orderSvc)
	inventoryH := handler.NewInventoryHandler(ledger)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", cartH.Get)
		r.Delete("/", cartH.Clear)
		r.Post("/items", cartH.AddItem)
		r.Patch("/items/{itemID}", cartH.UpdateItem)
		r.Delete("/items/{itemID}", cartH.RemoveItem)
		r.Get("/validate", cartH.Validate)
		r.Post("/promo", cartH.ApplyPromo)
		r.Post("/merge", cartH.Merge)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", orderH.Create)
		r.Get("/", orderH.List)
		r.Post("/guest", orderH.CreateGuest)
		r.Get("/guest/{orderNumber}", orderH.GetGuest)
		r.Post("/guest/{orderNumber}/cancel", orderH.CancelGuest)
		r.Get("/{orderID}", orderH.Get)
		r.Post("/{orderID}/cancel", orderH.Cancel)
		r.Get("/{orderID}/history", orderH.History)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdmin)
		r.Get("/orders", orderH.AdminList)
		r.Patch("/orders/{orderID}/status", orderH.UpdateStatus)
		r.Patch("/orders/{orderID}/payment", orderH.UpdatePayment)
		r.Post("/orders/{orderID}/tracking", orderH.AddTracking)
		r.Post("/inventory/adjust", inventoryH.Adjust)
		r.Get("/inventory/{productID}/history", inventoryH.History)
		r.Post("/carts/cleanup", cartH.Cleanup)
	})

	return r
}
