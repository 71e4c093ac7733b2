// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ridepool/internal/auth"
	"ridepool/internal/http/handlers"
	"ridepool/internal/http/middleware"
	"ridepool/internal/modules/ride"
	"ridepool/internal/ws"
)

type RouterDeps struct {
	Rides    *ride.RideService
	Bookings *ride.BookingService
	Tokens   *auth.Manager
	Hub      *ws.Hub
	Log      *logrus.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	authHandler := handlers.NewAuthHandler(deps.Tokens)
	r.POST("/api/auth/token", authHandler.Token)

	api := r.Group("/api", middleware.Auth(deps.Tokens))

	rideHandler := handlers.NewRideHandler(deps.Rides)
	api.POST("/rides", rideHandler.Publish)
	api.GET("/rides", rideHandler.Search)
	api.GET("/rides/:id", rideHandler.Get)
	api.GET("/rides/:id/bookings", rideHandler.ListBookings)
	api.POST("/rides/:id/start", rideHandler.Start)
	api.POST("/rides/:id/complete", rideHandler.Complete)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.GET("/drivers/rides", rideHandler.ListMine)

	bookingHandler := handlers.NewBookingHandler(deps.Bookings, deps.Rides)
	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.GET("/passengers/bookings", bookingHandler.ListMine)
	api.POST("/bookings/:id/accept", bookingHandler.Accept)
	api.POST("/bookings/:id/reject", bookingHandler.Reject)
	api.POST("/bookings/:id/cancel", bookingHandler.Cancel)
	api.POST("/bookings/:id/pickup/confirm", bookingHandler.ConfirmPickup)
	api.POST("/bookings/:id/transit", bookingHandler.StartTransit)
	api.POST("/bookings/:id/dropoff", bookingHandler.BeginDropoff)
	api.POST("/bookings/:id/dropoff/confirm", bookingHandler.ConfirmDropoff)
	api.POST("/bookings/:id/code", bookingHandler.ReissueCode)

	wsHandler := handlers.NewWSHandler(deps.Hub, deps.Log)
	r.GET("/ws", middleware.Auth(deps.Tokens), wsHandler.Connect)

	return r
}
