package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cictpeerlearninghub/booking-gateway/internal/booking"
	"github.com/cictpeerlearninghub/booking-gateway/internal/events"
	"github.com/cictpeerlearninghub/booking-gateway/internal/handlers"
	"github.com/cictpeerlearninghub/booking-gateway/internal/hubapi"
	"github.com/cictpeerlearninghub/booking-gateway/internal/storage"
	"github.com/cictpeerlearninghub/booking-gateway/libs/auth"
	"github.com/cictpeerlearninghub/booking-gateway/libs/config"
	"github.com/cictpeerlearninghub/booking-gateway/libs/db"
	"github.com/cictpeerlearninghub/booking-gateway/libs/httpx"
	"github.com/cictpeerlearninghub/booking-gateway/libs/kafkax"
	otelx "github.com/cictpeerlearninghub/booking-gateway/libs/otel"
	"github.com/cictpeerlearninghub/booking-gateway/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-gateway")
	port, err := config.Port("PORT", "8080")
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

	hubBaseURL, err := config.RequiredString("HUB_API_BASE_URL")
	if err != nil {
		logger.Error("missing configuration", "err", err)
		panic(err)
	}
	hub := hubapi.NewClient(hubBaseURL, config.Duration("HUB_API_TIMEOUT", 10*time.Second))

	var readyChecks []runtime.ReadyCheck

	var store booking.Store
	var rateLimitMW httpx.Middleware
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		redisStore := booking.NewRedisStore(rdb, config.String("SESSION_KEY_PREFIX", "booking:session"))
		store = redisStore
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: redisStore.ReadyCheck()})

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("redis enabled", "addr", addr, "rate_limit_per_minute", limitPerMinute)
	} else {
		store = booking.NewMemoryStore()
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Warn("redis not configured, using in-memory sessions and rate limiting")
	}

	workflowCfg := booking.Config{
		SessionTTL:      config.Duration("SESSION_TTL", 30*time.Minute),
		RefreshDebounce: config.Duration("REFRESH_DEBOUNCE", 300*time.Millisecond),
	}

	if databaseURL := strings.TrimSpace(config.String("DATABASE_URL", "")); databaseURL != "" {
		pool, err := db.Open(ctx, databaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		workflowCfg.Audit = storage.NewAttemptsRepository(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "postgres", Check: db.ReadyCheck(pool)})
		logger.Info("submission audit enabled")
	} else {
		logger.Warn("DATABASE_URL not set, submission audit disabled")
	}

	if brokers := strings.TrimSpace(config.String("KAFKA_BROKERS", "")); brokers != "" {
		if publisher := events.NewPublisher(brokers, logger); publisher != nil {
			defer func() { _ = publisher.Close() }()
			workflowCfg.Events = publisher
			readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
			logger.Info("event publishing enabled", "brokers", brokers)
		}
	} else {
		logger.Warn("KAFKA_BROKERS not set, event publishing disabled")
	}

	workflow := booking.NewWorkflow(store, hub, logger, workflowCfg)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	bookingHandler := handlers.NewBookingHandler(workflow, logger)

	jwtSecret := config.String("JWT_SECRET", "dev-secret")
	authed := http.NewServeMux()
	bookingHandler.Register(authed)
	mux.Handle("/api/v1/booking/", requireAuth(authed, jwtSecret))

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,DELETE,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, service)

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

// requireAuth verifies the bearer token and stamps the verified identity
// onto the request headers the handlers read.
func requireAuth(next http.Handler, jwtSecret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := auth.ParseAndVerifyHS256(token, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		r.Header.Del("X-User-Id")
		r.Header.Del("X-User-Name")
		r.Header.Del("X-Role")
		r.Header.Set("X-User-Id", claims.Sub)
		r.Header.Set("X-User-Name", claims.Name)
		r.Header.Set("X-Role", claims.Role)
		next.ServeHTTP(w, r)
	})
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
