package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-pos/internal/config"
	"restaurant-pos/internal/database"
	"restaurant-pos/internal/guard"
	"restaurant-pos/internal/inventory"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/messaging"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/notify"
	"restaurant-pos/internal/payments"
	"restaurant-pos/internal/plan"
	"restaurant-pos/internal/repository"
	"restaurant-pos/internal/services/fixture"
	"restaurant-pos/internal/services/grupo"
	"restaurant-pos/internal/services/mesa"
	"restaurant-pos/internal/services/notification"
	"restaurant-pos/internal/services/prefactura"
	"restaurant-pos/internal/services/settlement"
	"restaurant-pos/internal/web"
)

func main() {
	var (
		mode        = flag.String("mode", "", "Service mode (api-server, notification-subscriber, migrate, issue-token)")
		configPath  = flag.String("config", "config.yaml", "Path to the YAML configuration")
		port        = flag.Int("port", 0, "HTTP port, overrides server.port")
		inMemory    = flag.Bool("in-memory", false, "Run api-server on a seeded in-memory store without PostgreSQL or RabbitMQ")
		directPrint = flag.Bool("direct-print", false, "Post tickets straight to the print agent instead of the print queue")
		prefetch    = flag.Int("prefetch", 5, "RabbitMQ prefetch count")
		staffID     = flag.Int64("staff", 0, "Staff id for issue-token")
		restaurant  = flag.Int64("restaurant", 0, "Restaurant id for issue-token")
		branch      = flag.Int64("branch", 0, "Branch id for issue-token")
		ttl         = flag.Duration("ttl", 12*time.Hour, "Token lifetime for issue-token")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log, err := logger.New(*mode, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	requestID := logger.GenerateRequestID()

	log.Info("service_started", fmt.Sprintf("Starting %s", *mode), requestID, map[string]interface{}{
		"mode":        *mode,
		"port":        cfg.Server.Port,
		"environment": cfg.Server.Environment,
		"in_memory":   *inMemory,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "api-server":
		err = runAPIServer(ctx, cfg, log, *inMemory, *directPrint)
	case "notification-subscriber":
		err = runNotificationSubscriber(ctx, cfg, log, *prefetch)
	case "migrate":
		err = runMigrations(ctx, cfg, log)
	case "issue-token":
		err = issueToken(cfg, web.Claims{StaffID: *staffID, RestaurantID: *restaurant, BranchID: *branch}, *ttl)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}
	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		log.Sync()
		os.Exit(1)
	}

	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}

// runAPIServer serves the POS API until ctx is cancelled
func runAPIServer(ctx context.Context, cfg *config.Config, log *logger.Logger, inMemory, directPrint bool) error {
	requestID := logger.GenerateRequestID()
	m := metrics.New("restaurant-pos")

	var (
		base      repository.Store
		notifiers notify.Multi
	)
	if inMemory {
		mem := repository.NewMemory()
		fixture.Seed(mem)
		base = mem
		log.Warn("in_memory_store", "Using the seeded in-memory store, nothing is persisted", requestID, nil)
	} else {
		db, err := database.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx, database.Migrations()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		base = repository.NewPostgres(db)

		conn, err := messaging.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		defer conn.Close()
		log.Info("rabbitmq_connected", "Connected to RabbitMQ", requestID, nil)
		notifiers = append(notifiers, notify.NewAMQP(messaging.NewPublisher(conn, log)))
	}
	if (directPrint || inMemory) && cfg.PrintAgent.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.PrintAgent))
	}

	store := guard.New(log, m).Wrap(base)

	var gate plan.Gate = plan.AllowAll{}
	if cfg.Plan.Enforce && !inMemory {
		client := plan.NewRedisClient(cfg.Redis)
		defer client.Close()
		gate = plan.NewRedisGate(client, cfg.Plan, log)
	}

	var events notify.Publisher = notify.Nop{}
	var dispatcher *notify.Dispatcher
	if len(notifiers) > 0 {
		dispatcher = notify.NewDispatcher(notifiers, cfg.Notify.Workers, cfg.Notify.Buffer, log, m)
		dispatcher.Start()
		events = dispatcher
	}

	mesas := mesa.NewService(store, gate, events, m, log, cfg.Billing)
	groups := grupo.NewService(store, gate, events, m, log)
	bills := prefactura.NewService(store, cfg.Billing, log)
	settler := settlement.NewService(store, gate, payments.NewRegistry(store), inventory.NewLedger(), events, m, log, cfg.Billing)

	e := web.New(cfg, log, m, store,
		mesa.NewHandler(mesas, log),
		grupo.NewHandler(groups, log),
		prefactura.NewHandler(bills),
		settlement.NewHandler(settler, log),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("service_started", fmt.Sprintf("POS API started on port %d", cfg.Server.Port), requestID, map[string]interface{}{
			"port": cfg.Server.Port,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if dispatcher != nil {
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			log.Warn("notifications_abandoned", "Shutdown timeout reached with notifications queued", requestID, nil)
		}
	}
	return nil
}

// runNotificationSubscriber forwards the print queue to the print agent
func runNotificationSubscriber(ctx context.Context, cfg *config.Config, log *logger.Logger, prefetch int) error {
	if cfg.PrintAgent.URL == "" {
		return errors.New("print_agent.url is required for notification-subscriber")
	}

	conn, err := messaging.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}

	consumer := messaging.NewConsumer(conn, log, messaging.PrintQueue, "pos-print-"+logger.GenerateRequestID(), prefetch)
	subscriber := notification.NewSubscriber(consumer, notify.NewWebhook(cfg.PrintAgent), os.Stdout, metrics.New("restaurant-pos-printer"), log)
	return subscriber.Start(ctx)
}

func runMigrations(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, database.Migrations()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// issueToken prints a signed staff token for local use
func issueToken(cfg *config.Config, claims web.Claims, ttl time.Duration) error {
	if claims.StaffID <= 0 || claims.RestaurantID <= 0 || claims.BranchID <= 0 {
		return errors.New("--staff, --restaurant and --branch are required")
	}
	token, err := web.IssueToken(cfg.Auth, claims, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
