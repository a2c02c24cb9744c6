// Command hub wires the Session Manager, Orchestrator Backend, Proxy
// Reconciler, and Background Reaper into a single process, following the
// teacher's cmd/main.go pattern of an explicit HTTP server plus graceful
// shutdown — trimmed down to this hub's actual component set.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextgendem/slicehub/internal/auth"
	"github.com/nextgendem/slicehub/internal/config"
	"github.com/nextgendem/slicehub/internal/logger"
	"github.com/nextgendem/slicehub/internal/orchestrator"
	"github.com/nextgendem/slicehub/internal/proxy"
	"github.com/nextgendem/slicehub/internal/reaper"
	"github.com/nextgendem/slicehub/internal/session"
	"github.com/nextgendem/slicehub/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	database, err := store.NewDatabase(store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to session store")
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate session store")
	}
	sessionStore := store.NewSessionStore(database)

	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize orchestrator backend")
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential-check adapter")
	}

	reconciler := proxy.New(backend, cfg.NginxConfigFile, cfg.NginxName, cfg.HubName+":"+cfg.Port)
	hub := session.New(cfg, sessionStore, backend, verifier, reconciler)

	log.Info().Str("base_url", cfg.BaseURL()).Msg("hub base URL resolved")
	if cfg.Mode != "local" {
		go checkPublicIP(cfg)
	}

	backgroundReaper := reaper.New(sessionStore, backend, reconciler, cfg)
	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	go backgroundReaper.Run(reaperCtx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           hub.NewRouter(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("session manager listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	cancelReaper()
	if err := backgroundReaper.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close reaper debounce cache")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shut down")
	} else {
		log.Info().Msg("HTTP server stopped gracefully")
	}
}

func newBackend(cfg *config.Config) (orchestrator.Backend, error) {
	switch cfg.ContainerOrchestrator {
	case "docker":
		return orchestrator.NewDockerBackend("6080")
	case "kubernetes":
		return orchestrator.NewKubernetesBackend(cfg.HubName, cfg.NFSRoot, 6080)
	default:
		return nil, fmt.Errorf("unsupported CONTAINER_ORCHESTRATOR %q", cfg.ContainerOrchestrator)
	}
}

// checkPublicIP logs a warning if the configured DOMAIN doesn't match the
// host's externally visible address, a diagnostic only meaningful outside
// local mode (§4.5).
func checkPublicIP(cfg *config.Config) {
	publicIP, err := config.CheckPublicIP(nil)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Msg("public IP probe failed")
		return
	}
	if publicIP != cfg.Domain {
		logger.GetLogger().Warn().
			Str("configured_domain", cfg.Domain).
			Str("public_ip", publicIP).
			Msg("configured DOMAIN does not match host's public IP")
	}
}

func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	if cfg.AuthMode == "ldap" {
		return auth.NewLDAPVerifier(cfg.OpenLDAPName, atoiOrDefault(cfg.OpenLDAPPort, 389), "dc=slicehub,dc=local"), nil
	}
	return auth.NewDevVerifier(`^[a-zA-Z0-9_]+$`, "devpassword")
}

func atoiOrDefault(s string, def int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}
