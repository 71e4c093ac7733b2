// README: Entry point; loads config, wires stores, services, and sinks, starts the HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"ridepool/internal/auth"
	"ridepool/internal/config"
	"ridepool/internal/events"
	httptransport "ridepool/internal/http"
	"ridepool/internal/infra"
	"ridepool/internal/maps"
	"ridepool/internal/modules/otp"
	"ridepool/internal/modules/reassign"
	"ridepool/internal/modules/ride"
	"ridepool/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store ride.Store
	if cfg.UseMemoryStore() {
		store = ride.NewMemStore()
		log.Warn("using the in-memory store; state is lost on restart")
	} else {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.WithError(err).Fatal("postgres connect")
		}
		defer pool.Close()
		store = ride.NewPgStore(pool)
	}

	bus := events.NewBus(log)

	hub := ws.NewHub(log)
	gateway := ws.NewGateway(hub, log)
	bus.SubscribeAll(gateway.HandleEvent)

	var limiter otp.AttemptLimiter
	if cfg.Redis.Addr != "" {
		rdb := infra.NewRedis(cfg.Redis.Addr)
		if cfg.OTP.MaxAttempts > 0 {
			limiter = otp.NewRedisLimiter(rdb, cfg.OTP.MaxAttempts, cfg.OTP.LockWindow)
		}
		bus.SubscribeAll(events.NewRedisSink(rdb, log).Handle)
	}
	if cfg.AMQP.URL != "" {
		mq, err := infra.NewAMQP(cfg.AMQP.URL)
		if err != nil {
			log.WithError(err).Fatal("amqp connect")
		}
		defer mq.Close()
		sink, err := events.NewAMQPSink(mq.Chan, log)
		if err != nil {
			log.WithError(err).Fatal("amqp sink")
		}
		bus.SubscribeAll(sink.Handle)
	}

	var estimator maps.RouteEstimator = maps.HaversineEstimator{}
	if cfg.Maps.APIKey != "" {
		estimator, err = maps.NewGoogleEstimator(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Fatal("maps client")
		}
	}

	codes := otp.NewService(otp.NewMemStore(), limiter, log)
	alloc := ride.NewSeatAllocator(store)
	bookings := ride.NewBookingService(store, alloc, codes, bus, log)
	coordinator := reassign.NewCoordinator(store, bookings, alloc, bus, cfg.Reassign, log)
	rides := ride.NewRideService(store, codes, bus, estimator, coordinator, log)
	tokens := auth.NewManager(cfg.JWT.Secret)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:    rides,
		Bookings: bookings,
		Tokens:   tokens,
		Hub:      hub,
		Log:      log,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", cfg.HTTP.Addr).Info("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.Log.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}
