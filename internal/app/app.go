// Package app wires the marketplace services together. The HTTP server, the
// refund worker and the admin CLI all build their dependencies here.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ms-marketplace/internal/analytics"
	analytics_api "ms-marketplace/internal/analytics/api"
	"ms-marketplace/internal/checkin"
	"ms-marketplace/internal/config"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/database/migrations"
	eventsdb "ms-marketplace/internal/events/db"
	"ms-marketplace/internal/events/event_api"
	lifecycle "ms-marketplace/internal/events/service"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	ordersdb "ms-marketplace/internal/orders/db"
	"ms-marketplace/internal/orders/order_api"
	rediswrap "ms-marketplace/internal/orders/redis"
	orders "ms-marketplace/internal/orders/service"
	"ms-marketplace/internal/sse"
	ticketdb "ms-marketplace/internal/tickets/db"
	"ms-marketplace/internal/tickets/qr"
	tickets "ms-marketplace/internal/tickets/service"
	"ms-marketplace/internal/tickets/ticket_api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// ConnectDatabase opens the configured database and waits for it to answer.
func ConnectDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	bunDB, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	for i := 0; i < connectAttempts; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to %s (attempt %d/%d)", driverName(cfg), i+1, connectAttempts))
		if err = bunDB.PingContext(ctx); err == nil {
			log.Info("DATABASE", fmt.Sprintf("✅ %s connection successful", driverName(cfg)))
			return bunDB, nil
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect: %v", err))
		if i < connectAttempts-1 {
			select {
			case <-ctx.Done():
				bunDB.Close()
				return nil, ctx.Err()
			case <-time.After(connectBackoff):
			}
		}
	}
	bunDB.Close()
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", connectAttempts, err)
}

func driverName(cfg config.DatabaseConfig) string {
	if cfg.Driver == "sqlite" {
		return "SQLite"
	}
	return "PostgreSQL"
}

// PrepareSchema runs the SQL migrations on Postgres and creates the tables
// from the models on SQLite.
func PrepareSchema(ctx context.Context, bunDB *bun.DB, cfg config.DatabaseConfig, log *logger.Logger) error {
	if cfg.Driver == "sqlite" {
		if err := database.CreateSchema(ctx, bunDB); err != nil {
			return err
		}
		log.LogDatabase("create", "schema", "sqlite tables ready")
		return nil
	}
	runner := migrations.NewRunner(bunDB, log)
	return runner.MigrateUp()
}

// ConnectRedis returns a client that answered PING.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client, nil
}

// Services holds the domain services of one process.
type Services struct {
	Tickets   *tickets.TicketService
	Lifecycle *lifecycle.LifecycleService
	Orders    *orders.OrderService
	Gateway   *checkin.Gateway
	Analytics *analytics.Service
	Emitter   *sse.CheckInEmitter
	QR        *qr.Generator

	EventsDB *eventsdb.DB
	OrdersDB *ordersdb.DB
}

// NewServices builds the services on one database. Redis and Kafka are
// optional: without Redis sweeps run unlocked, without Kafka refund intents
// stay in the outbox until a relay with a producer picks them up.
func NewServices(cfg *config.Config, bunDB bun.IDB, rdb *redis.Client, producer *kafka.Producer, log *logger.Logger) *Services {
	eventStore := &eventsdb.DB{Bun: bunDB}
	orderStore := &ordersdb.DB{Bun: bunDB}

	ledger := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, log, cfg.Ledger.CheckInRetries)

	var publisher orders.RefundPublisher
	if producer != nil {
		publisher = producer
	}
	sales := orders.NewOrderService(orderStore, eventStore, ledger, publisher, log)

	life := lifecycle.NewLifecycleService(eventStore, orderStore, orderStore, ledger, log)
	if cfg.Sweep.Workers > 0 {
		life.SweepWorkers = cfg.Sweep.Workers
	}
	if cfg.Ledger.CheckInRetries > 0 {
		life.MaxRetries = cfg.Ledger.CheckInRetries
	}
	if producer != nil {
		life.Publisher = producer
	}
	if rdb != nil {
		life.Lock = rediswrap.NewRedis(rdb, log, cfg.Sweep.LockTTL)
	}

	emitter := sse.NewCheckInEmitter()
	notifiers := []checkin.Notifier{emitter}
	if producer != nil {
		notifiers = append(notifiers, producer)
	}

	return &Services{
		Tickets:   ledger,
		Lifecycle: life,
		Orders:    sales,
		Gateway:   checkin.NewGateway(ledger, eventStore, log, notifiers...),
		Analytics: analytics.NewService(bunDB),
		Emitter:   emitter,
		QR:        qr.NewGenerator(cfg.Tickets.QRSize),
		EventsDB:  eventStore,
		OrdersDB:  orderStore,
	}
}

// NewRouter mounts the public API and, behind authenticate, the organizer
// and scanner API.
func NewRouter(s *Services, authenticate func(http.Handler) http.Handler, log *logger.Logger) http.Handler {
	ticketHandler := ticket_api.NewHandler(s.Gateway, s.Tickets, s.Orders, s.QR, log)
	eventHandler := event_api.NewHandler(s.Lifecycle, log)
	orderHandler := order_api.NewHandler(s.Orders, log)
	analyticsHandler := analytics_api.NewHandler(s.Analytics, s.Lifecycle, log)
	streamHandler := sse.NewHandler(s.Emitter, log)

	r := chi.NewRouter()
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// --- Public Routes ---
	r.Route("/api", func(r chi.Router) {
		r.Get("/public/ticket/{code}", ticketHandler.GetPublicTicket)
		r.Get("/public/ticket/{code}/qr", ticketHandler.GetTicketQR)
		r.Get("/events/{eventID}/status", eventHandler.GetStatus)
		r.Get("/events/{eventID}/ticket-types", orderHandler.ListTicketTypes)
		r.Post("/events/{eventID}/orders", orderHandler.PlaceOrder)
		r.Post("/cart/quote", orderHandler.QuoteCart)
	})
	log.Info("ROUTER", "Public routes registered under /api")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Route("/organizer", func(r chi.Router) {
			r.Post("/participants/checkin", ticketHandler.CheckinTicket)
			r.Get("/tickets/{code}", ticketHandler.GetTicket)
			r.Post("/tickets/{code}/refund", ticketHandler.RefundTicket)
			r.Get("/orders/{orderID}", orderHandler.GetOrder)

			r.Patch("/events/{eventID}/status", eventHandler.UpdateStatus)
			r.Post("/events/{eventID}/cancel", eventHandler.CancelEvent)
			r.Post("/events/{eventID}/cancel/resume", eventHandler.ResumeCancellation)
			r.Get("/events/{eventID}/checkins/stream", streamHandler.StreamCheckIns)

			analyticsHandler.RegisterRoutes(r)
		})
		log.Info("ROUTER", "Organizer routes registered under /organizer")
	})

	return r
}

// requestLogger logs each request by route pattern once it is served.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.LogAPI(r.Method, route, status, time.Since(start))
		})
	}
}
