// README: API gateway; builds the gin engine and registers all routes.
package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/master"
	"dispatch/internal/modules/notify"
	"dispatch/internal/modules/round"
	"dispatch/internal/modules/shipment"
	"dispatch/internal/modules/user"
)

type ServerDeps struct {
	Shipments *shipment.Service
	Rounds    *round.Service
	Users     *user.Store
	Masters   *master.Store
	Carriers  *carrier.Store
	Tokens    *notify.TokenCache
	Verifier  infra.TokenVerifier
	Logger    *zap.Logger
}

// NewRouter wires middleware and routes. Read endpoints need any
// authenticated account; mutations are gated per role.
func NewRouter(deps ServerDeps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))
	r.Use(cors.Default())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	shipmentHandler := handlers.NewShipmentHandler(deps.Shipments, deps.Logger)
	roundHandler := handlers.NewRoundHandler(deps.Rounds, deps.Logger)
	masterHandler := handlers.NewMasterHandler(deps.Masters, deps.Carriers, deps.Logger)
	userHandler := handlers.NewUserHandler(deps.Users, deps.Tokens, deps.Logger)

	api := r.Group("/", middleware.Auth(deps.Verifier, deps.Users))
	dispatcher := middleware.RequireDispatcher()
	vendor := middleware.RequireVendor()

	shipments := api.Group("/shipments")
	{
		shipments.GET("", shipmentHandler.List)
		shipments.GET("/unassigned", dispatcher, shipmentHandler.ListUnassigned)
		shipments.GET("/held", dispatcher, shipmentHandler.ListHeld)
		shipments.GET("/my-orders", shipmentHandler.MyOrders)
		shipments.GET("/my-history", shipmentHandler.MyHistory)
		shipments.GET("/:shipid", shipmentHandler.Get)
		shipments.POST("", dispatcher, shipmentHandler.Create)
		shipments.POST("/request-booking", dispatcher, shipmentHandler.RequestBooking)
		shipments.POST("/confirm", vendor, shipmentHandler.Confirm)
		shipments.POST("/reject", vendor, shipmentHandler.Reject)
		shipments.POST("/manual-assign", dispatcher, shipmentHandler.ManualAssign)
		shipments.POST("/:shipid/hold", dispatcher, shipmentHandler.Hold)
		shipments.POST("/:shipid/cancel", dispatcher, shipmentHandler.Cancel)
	}

	rounds := api.Group("/booking-rounds")
	{
		rounds.GET("", roundHandler.List)
		rounds.GET("/pending-confirmation", dispatcher, roundHandler.PendingConfirmation)
		rounds.GET("/:id", roundHandler.Get)
		rounds.POST("", dispatcher, roundHandler.Create)
		rounds.POST("/save-for-day", dispatcher, roundHandler.SaveForDay)
		rounds.POST("/:id/assign-all", dispatcher, roundHandler.AssignAll)
		rounds.POST("/:id/allocate", dispatcher, roundHandler.Allocate)
		rounds.POST("/:id/confirm-assignment", dispatcher, roundHandler.ConfirmAssignment)
	}

	masters := api.Group("/master")
	{
		masters.GET("/warehouses", masterHandler.Warehouses)
		masters.GET("/shiptypes", masterHandler.ShipTypes)
		masters.GET("/rounds", masterHandler.RoundTemplates)
	}
	api.GET("/vendors", masterHandler.Vendors)

	api.GET("/me", userHandler.Me)
	api.PUT("/me/fcm-token", userHandler.UpdateFCMToken)

	return r
}
