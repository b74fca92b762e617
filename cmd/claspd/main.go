// Command claspd runs a standalone CLASP router: state store, subscription
// index, session registry, auth chain, and both the gorilla and raw-TCP
// WebSocket transports, wired together the way the teacher's
// cmd/odin-ws/main.go assembles its hub/transport/metrics trio.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nuid"
	"go.uber.org/zap"

	"github.com/lumencanvas/clasp/internal/auth"
	"github.com/lumencanvas/clasp/internal/config"
	"github.com/lumencanvas/clasp/internal/federation"
	"github.com/lumencanvas/clasp/internal/journal"
	"github.com/lumencanvas/clasp/internal/logging"
	"github.com/lumencanvas/clasp/internal/router"
	"github.com/lumencanvas/clasp/internal/session"
	"github.com/lumencanvas/clasp/internal/state"
	"github.com/lumencanvas/clasp/internal/subscription"
	"github.com/lumencanvas/clasp/internal/telemetry"
	"github.com/lumencanvas/clasp/transport/wsgorilla"
	"github.com/lumencanvas/clasp/transport/wsraw"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	metrics := telemetry.NewMetrics()

	nowMicros := func() int64 { return time.Now().UnixMicro() }

	st := state.New(cfg.State.ShardCount, nowMicros)
	subs := subscription.New(cfg.Subscriptions.ShardCount)
	sessions := session.NewRegistry(cfg.Subscriptions.ShardCount)
	fed := federation.NewManager(cfg.Federation.LocalNamespaces)
	authChain := buildAuthChain(cfg.Auth, logger)

	var j router.Journal
	if cfg.Journal.Enabled {
		jr, err := journal.New(journal.Config{
			URL: cfg.Journal.URL, StreamName: cfg.Journal.StreamName,
			MaxReconnects: -1, ReconnectWait: 2 * time.Second, ReconnectJitter: 500 * time.Millisecond,
		}, logger)
		if err != nil {
			logger.Fatal("journal init failed", zap.Error(err))
		}
		defer jr.Close()
		j = jr
	}

	rCfg := router.DefaultConfig()
	rCfg.MaxSubscriptionsPerSession = cfg.Subscriptions.MaxSubscriptionsPerSession
	rCfg.MaxFederationPatterns = cfg.Federation.MaxPatterns
	rCfg.MaxRevisionVectorEntries = cfg.Federation.MaxRevisionVectorEntries
	rCfg.RouterName = cfg.Server.RouterName

	r := router.New(rCfg, st, subs, sessions, authChain, fed, nil, nil, j, metrics, logger, nowMicros)

	guardCfg := telemetry.GuardConfig{
		MaxSessions: cfg.Guard.MaxSessions, MaxSetsPerSec: cfg.Guard.MaxSetsPerSec,
		MaxSubscribesPerSec: cfg.Guard.MaxSubscribesPerSec,
		CPURejectThreshold:  cfg.Guard.CPURejectThreshold, CPUPauseThreshold: cfg.Guard.CPUPauseThreshold,
	}
	guard := telemetry.NewResourceGuard(guardCfg, logger, func() int64 { return int64(sessions.Count()) })
	r.SetGuard(guard)

	sampleInterval := cfg.Guard.SampleInterval
	if sampleInterval <= 0 {
		sampleInterval = 2 * time.Second
	}
	stopSampling := make(chan struct{})
	guard.StartSampling(sampleInterval, metrics, stopSampling)
	defer close(stopSampling)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsServer := wsgorilla.New(r, sessions, logger, nuid.Next, cfg.Transport.SendChannelSize)

	if cfg.Transport.RawTCPAddr != "" {
		rawServer := wsraw.New(r, sessions, logger, nuid.Next, cfg.Transport.SendChannelSize)
		if err := rawServer.Start(ctx, cfg.Transport.RawTCPAddr); err != nil {
			logger.Fatal("wsraw start failed", zap.Error(err))
		}
		defer rawServer.Stop()
	}

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- runHTTPServer(ctx, cfg, wsServer, sessions, metrics, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
		stop()
	}

	logger.Info("claspd stopped")
}

// buildAuthChain wires the CPSK, entity, and capability validators spec.md
// §4.5-§4.7 describe. CPSK keys are loaded from a JSON file if configured;
// entity/capability validators only join the chain when a trust root is
// configured, since they're meaningless without real key material.
func buildAuthChain(cfg config.AuthConfig, logger *zap.Logger) *auth.Chain {
	var validators []auth.Validator

	cpskKeys := map[string]auth.TokenInfo{}
	if cfg.CPSKTokensPath != "" {
		data, err := os.ReadFile(cfg.CPSKTokensPath)
		if err != nil {
			logger.Warn("failed to read cpsk tokens file", zap.Error(err))
		} else if err := json.Unmarshal(data, &cpskKeys); err != nil {
			logger.Warn("failed to parse cpsk tokens file", zap.Error(err))
		}
	}
	validators = append(validators, auth.NewCPSKValidator(cpskKeys))

	if cfg.EntityTrustRoot != "" {
		entityCache := auth.NewEntityCache()
		validators = append(validators, auth.NewEntityValidator(entityCache, 24*time.Hour, time.Now))

		if pub, err := loadTrustAnchor(cfg.EntityTrustRoot); err != nil {
			logger.Warn("failed to load entity trust root", zap.Error(err))
		} else {
			validators = append(validators, auth.NewCapabilityValidator([][]byte{pub}, 8, time.Now))
		}
	}

	return auth.NewChain(validators...)
}

func loadTrustAnchor(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust root: %w", err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("trust root %s: expected %d raw bytes, got %d", path, ed25519.PublicKeySize, len(data))
	}
	return data, nil
}

func runHTTPServer(ctx context.Context, cfg config.Config, ws *wsgorilla.Server, sessions *session.Registry, metrics *telemetry.Metrics, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"sessions":  sessions.Count(),
		})
	})

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Endpoint, metrics.Handler())
	}
	mux.Handle(cfg.Transport.WebSocketPath, ws)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("claspd http server starting", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
