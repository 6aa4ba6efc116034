package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"integram/pkg/audit"
	"integram/pkg/auth"
	"integram/pkg/events"
	"integram/pkg/hardening"
	"integram/pkg/httpx"
	"integram/pkg/metrics"
	"integram/pkg/ratelimit"
	"integram/pkg/store"
	"integram/pkg/stream"
	"integram/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Version is stamped by the build; _version reports it.
var Version = "dev"

type initTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type openDBFunc func(ctx context.Context) (*pgxpool.Pool, error)
type openRedisFunc func(ctx context.Context) (*redis.Client, error)
type listenFunc func(*http.Server) error

var (
	initTelemetryFn initTelemetryFunc = telemetry.Init
	openDBFn        openDBFunc        = store.NewPostgresPool
	openRedisFn     openRedisFunc     = store.NewRedis
	listenFn        listenFunc        = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	if err := runServer(initTelemetryFn, openDBFn, openRedisFn, listenFn); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func runServer(initTelemetry initTelemetryFunc, openDB openDBFunc, openRedis openRedisFunc, listen listenFunc) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "integram")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	authSalt := env("AUTH_SALT", "")
	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "integram",
		Environment:           runtimeEnv,
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "AUTH_SALT", Value: authSalt},
		},
	}); err != nil {
		return err
	}

	accessor := &store.Accessor{DB: pool}
	auditRedact := strings.EqualFold(strings.TrimSpace(env("AUDIT_REDACT", "false")), "true")
	auditWriter := &audit.Writer{
		DB:       pool,
		HashSalt: []byte(env("AUDIT_HASH_SALT", "")),
		Redact:   auditRedact,
	}
	if err := auditWriter.EnsureTable(ctx); err != nil {
		return fmt.Errorf("audit table: %w", err)
	}

	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}

	s := &Server{
		Store: accessor,
		Cache: cache,
		Auth: &auth.Engine{
			Store:      accessor,
			Salt:       authSalt,
			AdminHash:  env("ADMIN_HASH", ""),
			ServerName: env("SERVER_NAME", "integram"),
		},
		Audit:               auditWriter,
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 600),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 64<<20)),
		CSVPageSize:         int64(envInt("CSV_PAGE_SIZE", 500000)),
		DumpFetchMaxBytes:   int64(envInt("DUMP_FETCH_MAX_BYTES", 64<<20)),
		HTTPClient:          telemetry.InstrumentClient(&http.Client{Timeout: time.Second * time.Duration(envInt("DUMP_FETCH_TIMEOUT_SEC", 30))}),
		Version:             Version,
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}
	if brokers := strings.TrimSpace(env("KAFKA_BROKERS", "")); brokers != "" {
		pub, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("KAFKA_TOPIC", "integram.rows"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer pub.Close()
		go pub.Mirror(ctx, "", s.Events)
	}

	r := buildRouter(s)

	addr := env("ADDR", ":8080")
	log.Printf("integram listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 60),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 300),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

func buildRouter(s *Server) chi.Router {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("integram"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "integram"})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	r.Route("/{db}", func(r chi.Router) {
		r.HandleFunc("/", s.dispatch)
		r.HandleFunc("/{action}", s.dispatch)
		r.HandleFunc("/{action}/{id}", s.dispatch)
	})
	return r
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
