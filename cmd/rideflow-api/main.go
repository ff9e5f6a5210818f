// README: Entry point; loads config, wires stores, collaborators and the dispatch core, serves HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"rideflow/internal/config"
	"rideflow/internal/fanout"
	httptransport "rideflow/internal/http"
	"rideflow/internal/infra"
	"rideflow/internal/modules/dispatch"
	"rideflow/internal/modules/driver"
	"rideflow/internal/modules/earnings"
	"rideflow/internal/modules/location"
	"rideflow/internal/modules/notification"
	"rideflow/internal/modules/payment"
	"rideflow/internal/modules/pricing"
	"rideflow/internal/modules/rating"
	"rideflow/internal/modules/receipt"
	"rideflow/internal/modules/ride"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := infra.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("rideflow stopped", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	rides         ride.Repository
	drivers       driver.Repository
	notifications notification.Repository
	rates         pricing.RateStore
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var st stores
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory stores; data is lost on restart")
		drivers := driver.NewMemoryStore()
		st = stores{
			rides:         ride.NewMemoryStore(drivers),
			drivers:       drivers,
			notifications: notification.NewMemoryStore(),
			rates: pricing.StaticRates{
				"standard": {ServiceType: "standard", BaseFare: 250, PerKm: 120, PerMinute: 20, MinimumFare: 500, Currency: cfg.Dispatch.Currency},
			},
		}
	default:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		st = postgresStores(pool)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		c, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer c.Close()
		redisClient = c
	}

	var amqpConn *amqp.Connection
	if cfg.AMQP.URL != "" {
		c, err := infra.NewAMQP(cfg.AMQP.URL)
		if err != nil {
			return err
		}
		defer c.Close()
		amqpConn = c
	}

	var fbApp *firebase.App
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		fbApp = app
	}

	verifier, err := newVerifier(ctx, cfg, fbApp)
	if err != nil {
		return err
	}

	hub := fanout.NewHub(log.With("module", "ws"))
	var publishers fanout.Multi
	if redisClient != nil {
		// Every instance relays the shared Redis stream into its local hub.
		rp := fanout.NewRedisPublisher(redisClient, "")
		publishers = append(publishers, rp)
		go func() {
			if err := rp.Relay(ctx, hub, log); err != nil {
				log.Error("redis relay stopped", "error", err)
			}
		}()
	} else {
		publishers = append(publishers, hub)
	}

	var gateway payment.Gateway = payment.LogGateway{Logger: log}
	if amqpConn != nil {
		ap, err := fanout.NewAMQPPublisher(amqpConn)
		if err != nil {
			return err
		}
		defer ap.Close()
		publishers = append(publishers, ap)

		ag, err := payment.NewAMQPGateway(amqpConn)
		if err != nil {
			return err
		}
		defer ag.Close()
		gateway = ag
	}

	var pusher notification.Pusher
	if fbApp != nil {
		p, err := notification.NewFCMPusher(ctx, fbApp)
		if err != nil {
			return err
		}
		pusher = p
	}

	var geo location.GeoIndex = location.NewMemoryGeo()
	if redisClient != nil {
		geo = location.NewRedisGeo(redisClient)
	}

	pricingSvc := pricing.NewService(st.rates, cfg.Dispatch.CommissionRate)
	ledger := earnings.NewLedger(st.drivers, log)
	locations := location.NewService(st.drivers, geo, log)
	rides := ride.NewService(ride.Deps{
		Store:             st.rides,
		Drivers:           st.drivers,
		Pricing:           pricingSvc,
		Payments:          gateway,
		Locations:         locations,
		Logger:            log,
		SideEffectTimeout: cfg.Dispatch.SideEffectTimeout,
	})
	ratings := rating.NewAggregator(rides, st.drivers, log)
	notifications := notification.NewService(st.notifications, pusher, log)
	coord := dispatch.NewCoordinator(dispatch.Deps{
		Drivers:           st.drivers,
		Rides:             rides,
		Ratings:           ratings,
		Fanout:            publishers,
		Notifications:     notifications,
		Logger:            log,
		SideEffectTimeout: cfg.Dispatch.SideEffectTimeout,
	})

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:      verifier,
		Logger:        log,
		Dispatch:      coord,
		Rides:         rides,
		Receipts:      receipt.NewService(rides, st.drivers),
		Location:      locations,
		Ledger:        ledger,
		Ratings:       ratings,
		Notifications: notifications,
		Hub:           hub,
		WebhookSecret: cfg.Payments.WebhookSecret,
	})
	return httptransport.NewServer(cfg.HTTP.Addr, router, log).Run(ctx)
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		rides:         ride.NewStore(pool),
		drivers:       driver.NewStore(pool),
		notifications: notification.NewStore(pool),
		rates:         pricing.NewStore(pool),
	}
}

// newVerifier prefers Firebase when a project is configured; the JWT secret covers local and test setups.
func newVerifier(ctx context.Context, cfg config.Config, app *firebase.App) (infra.TokenVerifier, error) {
	if app != nil {
		return infra.NewFirebaseVerifier(ctx, app)
	}
	return infra.NewJWTVerifier(cfg.JWT.Secret), nil
}
