package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/teresa-solution/guest-access-service/internal/config"
	"github.com/teresa-solution/guest-access-service/internal/crypto"
	"github.com/teresa-solution/guest-access-service/internal/doorlock"
	"github.com/teresa-solution/guest-access-service/internal/events"
	"github.com/teresa-solution/guest-access-service/internal/messaging/email"
	"github.com/teresa-solution/guest-access-service/internal/messaging/whatsapp"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
	"github.com/teresa-solution/guest-access-service/internal/notification"
	"github.com/teresa-solution/guest-access-service/internal/payment"
	"github.com/teresa-solution/guest-access-service/internal/settings"
	"github.com/teresa-solution/guest-access-service/internal/store"
	"github.com/teresa-solution/guest-access-service/internal/worker"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	envFile := flag.String("env-file", "", "Optional env file to load before reading the environment")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rowCache *store.RowCache
	if cfg.RedisAddr != "" {
		rowCache = store.NewRowCache(store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.RowCacheTTL())
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, rowCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid encryption key")
	}

	monitoring.InitMetrics()

	logger := log.Logger
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout()}

	// Settings: decrypting resolver behind a TTL cache, write path with invalidation hooks.
	codec := settings.NewCodec(cipher, logger)
	settingsCache := settings.NewCache(cfg.SettingsCacheTTL())
	go settingsCache.Start()
	defer settingsCache.Stop()
	resolver := settings.NewResolver(db, codec, logger, settings.WithCache(settingsCache))
	settingsService := settings.NewService(db, codec, db, logger)

	tokens := doorlock.NewTokenCache(cfg.TokenCacheTTL())
	go tokens.Start()
	defer tokens.Stop()
	doorLocks := doorlock.NewFactory(resolver, settingsService, tokens,
		doorlock.WithHTTPClient(httpClient),
		doorlock.WithLocation(cfg.Location()),
		doorlock.WithLogger(logger),
	)
	settingsService.OnChange(settingsCache.Invalidate)
	settingsService.OnChange(doorLocks.InvalidateOnChange)

	listener, err := store.NewSettingsListener(cfg.DatabaseURL, logger)
	if err != nil {
		log.Warn().Err(err).Msg("Settings listener unavailable, cross-process invalidation relies on cache TTL")
	} else {
		defer listener.Close()
		go listener.Run(ctx, func(payload []byte) {
			ch, err := settings.ParseChange(payload)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring malformed settings change")
				return
			}
			settingsService.ApplyRemoteChange(ch)
		}, func() {
			settingsCache.Flush()
			tokens.Clear()
		})
	}

	// Audit fan-out is optional; a nil publisher disables it.
	var publisher notification.Publisher
	if cfg.AMQPURL != "" {
		p := events.NewPublisher(cfg.AMQPURL, logger)
		defer p.Close()
		publisher = p
	}
	recorder := notification.NewRecorder(db, publisher, logger)

	payments := payment.NewFactory(resolver,
		payment.WithHTTPClient(httpClient),
		payment.WithAppURL(cfg.AppURL),
		payment.WithLogger(logger),
	)
	orchestrator := notification.NewOrchestrator(notification.Dependencies{
		Reservations: db,
		Settings:     db,
		Payments:     payment.NewService(payments, db, logger),
		Locks:        notification.DoorLocks(doorLocks),
		WhatsApp:     whatsapp.NewSender(resolver, logger, whatsapp.WithHTTPClient(httpClient)),
		Email:        email.NewSender(resolver, logger),
		Templates:    notification.NewTemplates(db, codec, logger),
		Recorder:     recorder,
		Logs:         db,
	}, notification.Config{
		FrontendURL:        cfg.FrontendURL,
		InvitationTemplate: cfg.WhatsAppTemplateInvitation,
		PinTemplate:        cfg.WhatsAppTemplatePin,
		CheckInTemplate:    cfg.WhatsAppTemplateCheckIn,
	}, logger)

	webhooks := payment.NewWebhookHandler(db, orchestrator, recorder, logger,
		payment.WithWhatsAppAfterPayment(cfg.NotifyAfterPaymentWebhook),
	)
	if cfg.AMQPURL != "" {
		go events.NewWebhookConsumer(cfg.AMQPURL, webhooks, logger).Run(ctx)
	}

	invitations := worker.Start(ctx, worker.NewInvitationSweep(db, orchestrator, cfg.InvitationHour, cfg.Location(), logger), cfg.SweepInterval())
	cleanup := worker.Start(ctx, worker.NewCleanupSweep(db, worker.DoorLockRevoker(doorLocks), cfg.CheckoutHour, cfg.Location(), logger), cfg.CleanupInterval())

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		log.Info().Msgf("gRPC health server listening at %v", lis.Addr())
		if err := server.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("Failed to start gRPC server")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle(payment.WebhookPath, webhooks)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server for health checks, metrics and payment webhooks started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	server.GracefulStop()
	<-invitations
	<-cleanup
	log.Info().Msg("Server exiting")
}
