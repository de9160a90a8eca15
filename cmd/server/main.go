package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	chatbotui "github.com/MegaGrindStone/chatbot-ui"
	"github.com/MegaGrindStone/chatbot-ui/internal/handlers"
	"github.com/MegaGrindStone/chatbot-ui/internal/services"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.logger()
	if err != nil {
		log.Fatal(err)
	}

	// The generator is the single model handle of the process, shared read-only by every session.
	gen, err := cfg.Generator.generator(logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating generator: %w", err))
	}

	store := services.NewMemoryStore(cfg.SessionTTL)
	defer store.Close()

	m, err := handlers.NewMain(gen, store, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating handlers: %w", err))
	}

	// Serve static files
	staticFS, err := fs.Sub(chatbotui.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chat", m.HandleChat)
	mux.HandleFunc("/sse", m.HandleSSE)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		logger.Info("Dropping sessions", slog.Int("sessions", store.Len()))
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("provider", fmt.Sprintf("%T", cfg.Generator)))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

// loadConfig reads config.yaml from the user config directory. A missing file yields the defaults.
func loadConfig() (config, error) {
	cfg := defaultConfig()

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return cfg, fmt.Errorf("error getting user config dir: %w", err)
	}

	cfgFile, err := os.Open(filepath.Join(cfgDir, "chatbot", "config.yaml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	if err := decodeConfig(cfgFile, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
