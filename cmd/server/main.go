package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coachbook/internal/api"
	"coachbook/internal/availability"
	"coachbook/internal/booking"
	"coachbook/internal/config"
	"coachbook/internal/db"
	"coachbook/internal/events"
	"coachbook/internal/gcal"
	"coachbook/internal/ledger"
	"coachbook/internal/metrics"
	"coachbook/internal/models"
	"coachbook/internal/notify"
	"coachbook/internal/report"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("COACHBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	location, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve timezone")
	}

	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	calClient, err := gcal.New(ctx, cfg.Calendar.CredentialsPath, cfg.Calendar.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("create calendar client")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}

	cache := availability.NewCache(cfg.CacheTTL())
	if rdb != nil {
		cache.UseRedis(rdb)
	}
	merger := availability.NewMerger(calClient, cfg.Calendar.Sources, &logger)
	availabilitySvc := availability.NewService(cache, merger, database, location, cfg.HorizonDays(), &logger)

	creditLedger := ledger.New(database, cfg.Booking.SpendMaxRetries, &logger)
	bus := events.NewBus()

	var coachNotify *notify.Telegram
	var alerter booking.Alerter
	if cfg.Telegram.BotToken != "" && cfg.Telegram.CoachChatID != 0 {
		coachNotify, err = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.CoachChatID, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram notifier")
		}
		alerter = coachNotify
	}

	bus.Subscribe(events.BookingCommitted, func(e events.Event) {
		availabilitySvc.Invalidate(context.Background(), e.Date)
		if coachNotify != nil {
			go coachNotify.BookingCommitted(context.Background(), models.Booking{
				ID:       e.BookingID,
				Date:     e.Date,
				Time:     e.Time,
				Duration: e.Duration,
				EventURL: e.EventURL,
			}, e.UserEmail)
		}
	})

	protocol := booking.NewProtocol(
		merger, database, creditLedger, calClient, availabilitySvc,
		database, alerter, bus,
		booking.Options{
			Location:       location,
			HorizonDays:    cfg.HorizonDays(),
			CalendarID:     cfg.Calendar.BookingCalendarID,
			RevertAttempts: cfg.Booking.RevertAttempts,
		},
		&logger,
	)

	if coachNotify != nil {
		reportSvc := report.NewService(database, coachNotify, &logger)
		go monthlyReportLoop(ctx, reportSvc, &logger)

		reminder := notify.NewReminder(database, coachNotify, cfg.Telegram.ReminderHour, location, &logger)
		go reminder.Run(ctx)
	}

	if cfg.Backup.Enabled {
		backup := db.NewBackup(cfg.Database.Path, cfg.Backup.StoragePath, cfg.Backup.RetentionDays, &logger)
		go backup.Run(ctx)
	}

	// Warm the booking window so the first availability reads are cheap.
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if loaded, err := availabilitySvc.Preload(warmCtx, 0); err != nil {
			logger.Warn().Err(err).Msg("initial availability preload failed")
		} else {
			logger.Info().Int("days", loaded).Msg("availability preloaded")
		}
	}()

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	httpServer := api.NewHTTPServer(availabilitySvc, protocol, creditLedger, database, &logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: httpServer.Handler(),
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("booking server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("http server error")
	}
}

// monthlyReportLoop sends the previous month's booking report on the 1st.
func monthlyReportLoop(ctx context.Context, svc *report.Service, logger *zerolog.Logger) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month()+1, 1, 0, 5, 0, 0, now.Location())
		logger.Info().Time("next_run", next).Msg("monthly report scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			prev := next.AddDate(0, -1, 0)
			if err := svc.SendMonthly(ctx, prev.Year(), prev.Month()); err != nil {
				logger.Error().Err(err).Msg("send monthly report")
			}
		}
	}
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
