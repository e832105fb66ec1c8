package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/careloop/crm-scheduling/libs/config"
	"github.com/careloop/crm-scheduling/libs/db"
	"github.com/careloop/crm-scheduling/libs/httpx"
	"github.com/careloop/crm-scheduling/libs/kafkax"
	otelx "github.com/careloop/crm-scheduling/libs/otel"
	"github.com/careloop/crm-scheduling/libs/runtime"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/handlers"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/notify"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/schedule"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var readyChecks []runtime.ReadyCheck

	// Durable store is optional; the in-memory collection is authoritative.
	var store schedule.Store
	var repo *storage.AppointmentsRepository
	if dbURL := strings.TrimSpace(config.String("DATABASE_URL", "")); dbURL != "" {
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		repo = storage.NewAppointmentsRepository(pool)
		store = repo
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	mgr := schedule.NewManager(logger, store, schedule.Options{
		CheckRecurrenceConflicts: config.Bool("RECURRENCE_CONFLICT_CHECK", false),
	})
	if repo != nil {
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		appts, err := repo.Load(loadCtx)
		cancel()
		if err != nil {
			logger.Error("appointment warm load failed", "err", err)
		} else {
			mgr.Restore(appts)
			logger.Info("appointments restored from store", "count", len(appts))
		}
	}

	var sender notify.Sender = notify.NewNoopSender()
	if brokers := strings.TrimSpace(config.String("KAFKA_BROKERS", "")); brokers != "" {
		kafkaSender, err := notify.NewKafkaSender(brokers)
		if err != nil {
			logger.Error("kafka sender init failed; reminders will not be delivered", "err", err)
		} else {
			defer func() { _ = kafkaSender.Close() }()
			sender = kafkaSender
			readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	}

	apptHandler := handlers.NewAppointmentsHandler(mgr, sender, logger)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/appointments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apptHandler.List(w, r)
		case http.MethodPost:
			apptHandler.Create(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/appointments/edit", apptHandler.Edit)
	mux.HandleFunc("/api/v1/appointments/delete", apptHandler.Delete)
	mux.HandleFunc("/api/v1/appointments/recurring", apptHandler.CreateRecurring)
	mux.HandleFunc("/api/v1/appointments/status", apptHandler.ChangeStatus)
	mux.HandleFunc("/api/v1/appointments/reminder", apptHandler.DispatchReminder)

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	bodyLimit := int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))
	requestTimeout := time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id")),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(bodyLimit),
		httpx.WithTimeout(requestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
