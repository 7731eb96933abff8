package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dispatch/internal/handler"
	"dispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RequestHandler *handler.RequestHandler
	BiddingHandler *handler.BiddingHandler
	EscrowHandler  *handler.EscrowHandler
	DriverHandler  *handler.DriverHandler
	RedisClient    redis.Cmdable
	NewRelicApp    *newrelic.Application
	Logger         logrus.FieldLogger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}
	router.Use(middleware.ErrorReporter(deps.Logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))
	{
		requests := v1.Group("/requests")
		{
			requests.POST("", deps.RequestHandler.Create)
			requests.GET("/:id", deps.RequestHandler.Get)
			requests.POST("/:id/cancel", deps.RequestHandler.Cancel)
			requests.POST("/:id/dispatch", deps.RequestHandler.Dispatch)
			requests.POST("/:id/redispatch", deps.RequestHandler.Redispatch)
			requests.POST("/:id/start", deps.RequestHandler.Start)
			requests.POST("/:id/complete", deps.RequestHandler.Complete)
			requests.POST("/:id/arrival", deps.RequestHandler.ConfirmArrival)

			requests.POST("/:id/bidding", deps.BiddingHandler.Open)
			requests.POST("/:id/bidding/raise", deps.BiddingHandler.Raise)
			requests.POST("/:id/bidding/fallback", deps.BiddingHandler.Fallback)
			requests.GET("/:id/offers", deps.BiddingHandler.ListOffers)
			requests.POST("/:id/offers", deps.BiddingHandler.SubmitOffer)

			requests.POST("/:id/escrow", deps.EscrowHandler.Hold)
			requests.GET("/:id/escrow", deps.EscrowHandler.Get)
			requests.POST("/:id/escrow/release", deps.EscrowHandler.Release)
		}

		offers := v1.Group("/offers")
		{
			offers.POST("/:id/accept", deps.BiddingHandler.AcceptOffer)
			offers.POST("/:id/reject", deps.BiddingHandler.RejectOffer)
		}

		drivers := v1.Group("/drivers")
		{
			drivers.POST("/register", deps.DriverHandler.Register)
			drivers.GET("/nearby", deps.DriverHandler.Nearby)
			drivers.POST("/:id/location", deps.DriverHandler.UpdateLocation)
			drivers.POST("/:id/availability", deps.DriverHandler.SetAvailability)
			drivers.POST("/:id/offline", deps.DriverHandler.GoOffline)
		}
	}

	return router
}
