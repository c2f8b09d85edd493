package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fulfillment-backend/api/controllers"
	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/internal/cart"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

// Dependencies is everything the HTTP surface needs from cmd/api.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Gatherer      prometheus.Gatherer
	Carts         cart.Manager
	Orders        orders.Service
	Ratings       controllers.RatingSubmitter
	Stock         controllers.AvailabilitySetter
	Arbiter       controllers.ClaimArbiter
	Notifications notifications.Service
	Sessions      controllers.SessionFactory
	ClaimLimiter  middleware.ActorLimiter
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	claimLimiter := deps.ClaimLimiter
	if claimLimiter == nil {
		claimLimiter = middleware.NewActorRateLimiter(cfg.RateLimit)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleBuyer))
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", controllers.GetCart(deps.Carts, logg))
				r.Delete("/", controllers.ClearCart(deps.Carts, logg))
				r.Post("/items", controllers.AddCartItem(deps.Carts, logg))
				r.Patch("/items/{itemId}", controllers.UpdateCartItem(deps.Carts, logg))
				r.Delete("/items/{itemId}", controllers.RemoveCartItem(deps.Carts, logg))
			})
			r.Post("/orders", controllers.CreateOrder(deps.Orders, logg))
			r.Delete("/orders/{orderId}", controllers.DeleteOrder(deps.Orders, logg))
			r.Post("/orders/{orderId}/ratings", controllers.SubmitRating(deps.Ratings, logg))
		})

		r.Get("/orders", controllers.ListOrders(deps.Orders, logg))
		r.Get("/orders/{orderId}", controllers.GetOrder(deps.Orders, logg))
		r.Get("/orders/{orderId}/history", controllers.OrderHistory(deps.Orders, logg))
		r.Post("/orders/{orderId}/transitions", controllers.TransitionOrder(deps.Orders, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Delete("/", controllers.PurgeNotifications(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})

		r.Get("/realtime/ws", controllers.RealtimeSocket(deps.Sessions, deps.Orders, cfg.Realtime, logg))

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleSeller))
			r.Patch("/products/{productId}/availability", controllers.SetProductAvailability(deps.Stock, logg))
		})

		r.Route("/driver", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleDriver))
			r.Get("/orders/claimable", controllers.ListClaimableOrders(deps.Arbiter, logg))
			r.With(middleware.RateLimit(claimLimiter, logg)).
				Post("/orders/{orderId}/claim", controllers.ClaimOrder(deps.Arbiter, logg))
		})
	})

	return r
}
