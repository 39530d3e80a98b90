// cmd/orchestrator/main.go
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	awsx "payment-orchestrator/internal/common/aws"
	"payment-orchestrator/internal/common/config"
	"payment-orchestrator/internal/common/database"
	"payment-orchestrator/internal/common/httpclient"
	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/common/observability"
	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/identity"
	"payment-orchestrator/internal/localstate"
	"payment-orchestrator/internal/notifier"
	"payment-orchestrator/internal/orchestrator"
	"payment-orchestrator/internal/receipts"
	"payment-orchestrator/internal/server"
	"payment-orchestrator/internal/storage"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info", "console")
		fallback.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting payment orchestrator...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis-backed session state with retry ---
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		zapLog.Fatal("redis client init failed", zap.Error(err))
	}
	state := localstate.New(rdb, cfg.Database.Redis.KeyPrefix, log)
	err = retryWithBackoff(func() error {
		return state.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer state.Close()
	zapLog.Info("Redis connected successfully")

	// --- Expiry notifier and backend client ---

	sessionNotifier := notifier.New(log)
	sessionNotifier.Subscribe(func(visible bool) {
		if visible {
			zapLog.Warn("session expired notice raised")
		}
	})

	backend := httpclient.New(
		cfg.Backend.BaseURL,
		config.GetDuration(cfg.Backend.Timeout),
		state,
		sessionNotifier,
		log,
	)

	// --- Identity fallback chain ---
	resolver := identity.NewResolver(log,
		identity.Source{Name: "live_profile", Lookup: liveProfileLookup(backend)},
		identity.Source{Name: "cached_profile", Lookup: cachedProfileLookup(state)},
		identity.Source{Name: "auth_payload", Lookup: authPayloadLookup(state)},
	)

	// --- Gateways ---
	gatewayAdapter := gateway.NewAdapter(backend, log)

	var cards *gateway.CardConfirmer
	if cfg.Gateways.Stripe.APIKey != "" {
		cards = gateway.NewCardConfirmer(cfg.Gateways.Stripe.APIKey, log)
		zapLog.Info("stripe card confirmer initialized")
	} else {
		zapLog.Warn("stripe api key not set, card confirmation disabled")
	}

	// --- Audit trail ---
	audit := storage.NewRepository(pg.DB, log)

	// --- Receipts (SES + SNS), optional ---
	var receiptSender *receipts.Sender
	if cfg.Notifications.Enabled {
		sesClient, err := awsx.NewSESClient(ctx, cfg.Notifications.AWSRegion)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		snsClient, err := awsx.NewSNSClient(ctx, cfg.Notifications.AWSRegion)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		receiptSender = receipts.NewSender(
			sesClient,
			snsClient,
			cfg.Notifications.FromAddress,
			cfg.Notifications.TopicARN,
			log,
		)
		zapLog.Info("receipt delivery enabled", zap.String("region", cfg.Notifications.AWSRegion))
	}

	// --- Orchestrator ---
	orch := orchestrator.New(backend, state, resolver, sessionNotifier, log).
		WithAudit(audit)
	if receiptSender != nil {
		orch = orch.WithReceipts(receiptSender)
	}

	// --- HTTP API ---
	srv := server.New(cfg.Server, gatewayAdapter, cards, orch, audit, obs, log)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()
	zapLog.Info("API server listening", zap.Int("port", cfg.Server.Port))

	// --- Health & Metrics Server ---
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		})
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		zapLog.Info("Health/Metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Payment orchestrator stopped")
}

// liveProfileLookup asks the backend for the current profile. A failed call
// is a miss, not a fatal error; the chain continues to cached state.
func liveProfileLookup(backend *httpclient.Client) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		raw, err := backend.Call(ctx, http.MethodGet, "/profile", nil, nil)
		if err != nil {
			return "", err
		}
		var profile struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(raw, &profile); err != nil {
			return "", err
		}
		return profile.UserID, nil
	}
}

func cachedProfileLookup(state *localstate.Store) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		profile, err := state.CachedProfile(ctx)
		if err != nil || profile == nil {
			return "", err
		}
		return profile.UserID, nil
	}
}

// authPayloadLookup decodes the stored bearer token's claims segment and
// pulls the subject out of it. Works for any JWT-shaped token; anything
// else is a miss.
func authPayloadLookup(state *localstate.Store) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		token, err := state.AuthToken(ctx)
		if err != nil || token == "" {
			return "", err
		}
		parts := strings.Split(token, ".")
		if len(parts) != 3 {
			return "", nil
		}
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			return "", nil
		}
		var claims struct {
			UserID string `json:"user_id"`
			Sub    string `json:"sub"`
		}
		if err := json.Unmarshal(payload, &claims); err != nil {
			return "", nil
		}
		if claims.UserID != "" {
			return claims.UserID, nil
		}
		return claims.Sub, nil
	}
}
