// Command supervisord is the composition root for the service supervision
// and circuit-breaker orchestration plane. It wires the persistence port,
// pub/sub broker, realtime bus, orchestrator, audit log, metrics, and
// supervisory control surface together exactly once, then serves the
// control websocket and a Prometheus scrape endpoint until signaled to
// stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/degenduel/supervisor/internal/audit"
	"github.com/degenduel/supervisor/internal/broker"
	"github.com/degenduel/supervisor/internal/control"
	"github.com/degenduel/supervisor/internal/eventbus"
	"github.com/degenduel/supervisor/internal/metrics"
	"github.com/degenduel/supervisor/internal/orchestrator"
	"github.com/degenduel/supervisor/internal/realtime"
	"github.com/degenduel/supervisor/internal/settingsstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("supervisord: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	log := configureLogging(os.Getenv("LOG_FORMAT"))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildSettingsStore(os.Getenv("SETTINGS_STORE_DIR"))
	if err != nil {
		return fmt.Errorf("supervisord: build settings store: %w", err)
	}

	transport, err := buildBroker(ctx, os.Getenv("REDIS_URL"), log)
	if err != nil {
		return fmt.Errorf("supervisord: build broker: %w", err)
	}
	defer transport.Shutdown(context.Background())

	bus := eventbus.New(log)
	realtimeBus := realtime.New(transport, log)

	auditLogger, closeAudit, err := buildAuditLogger(os.Getenv("AUDIT_LOG_PATH"))
	if err != nil {
		return fmt.Errorf("supervisord: build audit logger: %w", err)
	}
	if closeAudit != nil {
		defer closeAudit()
	}

	recorder, err := metrics.New(ctx, "supervisor")
	if err != nil {
		return fmt.Errorf("supervisord: build metrics recorder: %w", err)
	}
	defer recorder.Shutdown(context.Background())

	orch := orchestrator.New(store, bus, auditLogger, log)
	orch.SetMetrics(recorder)

	// Concrete supervised services are registered here by the deployment
	// that embeds this plane; none are registered by default. A service
	// that records its own metrics via service.WithMetrics should not also
	// rely on this orchestrator-level wiring, or operations double-count.

	if err := orch.InitializeAll(ctx); err != nil {
		log.Error("supervisord: one or more services failed to initialize", "error", err)
	}

	auth := control.NewTokenAuthenticator(parseAdminTokens(os.Getenv("CONTROL_ADMIN_TOKENS")))
	controlServer := control.New(orch, auth, realtimeBus, auditLogger, log)
	go controlServer.RunBroadcasters(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/control", controlServer.ServeHTTP)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := os.Getenv("CONTROL_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	server := &http.Server{Addr: addr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("supervisord: listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("supervisord: shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("supervisord: server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("supervisord: http shutdown error", "error", err)
	}

	for _, cleanupErr := range orch.Cleanup(shutdownCtx) {
		log.Warn("supervisord: cleanup error", "error", cleanupErr)
	}

	return nil
}

// configureLogging selects a JSON handler in production and a text handler
// in development, matching the teacher's ConfigureLogging split.
func configureLogging(format string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "json" || format == "" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func buildSettingsStore(dir string) (settingsstore.Store, error) {
	if dir == "" {
		return settingsstore.NewMemoryStore(), nil
	}
	return settingsstore.NewFileStore(dir)
}

func buildBroker(ctx context.Context, redisURL string, log *slog.Logger) (broker.Broker, error) {
	if redisURL == "" {
		return broker.NewMemoryBroker(), nil
	}
	return broker.NewRedisBroker(ctx, redisURL, log)
}

func buildAuditLogger(path string) (*audit.Logger, func(), error) {
	if path == "" {
		return audit.NewLogger(audit.NewConsoleAdapter()), nil, nil
	}
	structured, err := audit.NewStructuredAdapter(path)
	if err != nil {
		return nil, nil, err
	}
	logger := audit.NewLogger(audit.NewConsoleAdapter(), structured)
	return logger, func() { structured.Close() }, nil
}

// parseAdminTokens parses "adminID=token,adminID2=token2" into a map. A
// malformed or empty input yields no admins, which makes every control
// surface connection attempt fail authentication — fail closed, not open.
func parseAdminTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	if raw == "" {
		return tokens
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		tokens[parts[0]] = parts[1]
	}
	return tokens
}
