// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/opsight/hudbridge/internal/api"
	"github.com/opsight/hudbridge/internal/assets"
	"github.com/opsight/hudbridge/internal/config"
	"github.com/opsight/hudbridge/internal/correlate"
	"github.com/opsight/hudbridge/internal/netgate"
	"github.com/opsight/hudbridge/internal/observability"
	"github.com/opsight/hudbridge/internal/origintrust"
	"github.com/opsight/hudbridge/internal/scriptstore"
	"github.com/opsight/hudbridge/internal/sitemodel"
	"github.com/opsight/hudbridge/internal/stats"
	"github.com/opsight/hudbridge/internal/uistate"
	"github.com/opsight/hudbridge/internal/wscallback"
)

// changelogFile is the optional HTML fragment served by the changes view,
// resolved relative to the HUD base directory.
const changelogFile = "changes.html"

const shutdownTimeout = 15 * time.Second

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the interception gateway and the trusted-origin API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override the config
			// file and environment with the right precedence.
			if err := viper.BindPFlag("server.proxy_addr", cmd.Flags().Lookup("proxy-addr")); err != nil {
				return err
			}
			if err := viper.BindPFlag("server.api_addr", cmd.Flags().Lookup("api-addr")); err != nil {
				return err
			}
			return viper.BindPFlag("hud.development_mode", cmd.Flags().Lookup("dev"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	serveCmd.Flags().String("proxy-addr", "", "listen address for the interception gateway")
	serveCmd.Flags().String("api-addr", "", "listen address for the trusted-origin API")
	serveCmd.Flags().Bool("dev", false, "serve assets uncached for HUD development")
	return serveCmd
}

// runServe assembles the bridge components and blocks until the context
// is cancelled or a listener fails.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	trust, err := origintrust.NewService(logger)
	if err != nil {
		return err
	}

	state, err := uistate.Open(cfg.State.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Warn("Failed to close state database", zap.Error(err))
		}
	}()

	hub := wscallback.NewHub(cfg.Server.TrustedOrigin, cfg.Server.CallbackPath, logger)
	defer hub.Close()

	scripts := scriptstore.NewMemoryStore()
	sink := stats.NewMemory()
	engine := assets.New(cfg.HUD, cfg.Server, trust, scripts, state, sink, hub, logger)

	tree := sitemodel.NewTree()
	corr := correlate.New(tree, logger)

	bridge := api.NewBridge(cfg, trust, engine, corr, state, sink, hub, nil, readChangelog(cfg, logger), logger)

	caCert, caKey, err := loadCA(cfg.Server)
	if err != nil {
		return err
	}
	gateway, err := netgate.New(bridge, tree, cfg, caCert, caKey, logger)
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.APIAddr,
		Handler:      bridge.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     zap.NewStdLog(logger.Named("api_server")),
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- gateway.Start(cfg.Server.ProxyAddr)
	}()
	go func() {
		logger.Info("Starting trusted-origin API", zap.String("address", cfg.Server.APIAddr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	return gateway.Stop(shutdownCtx)
}

// readChangelog loads the optional changes fragment. A missing file means
// an empty changes view, not a startup failure.
func readChangelog(cfg *config.Config, logger *zap.Logger) string {
	path := filepath.Join(cfg.HUD.BaseDirectory, changelogFile)
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Debug("No changelog fragment found", zap.String("path", path))
		return ""
	}
	return string(data)
}

// loadCA reads the MITM key pair. Both paths empty is a supported mode:
// the gateway tunnels TLS instead of re-signing it.
func loadCA(server config.ServerConfig) (cert, key []byte, err error) {
	if server.CACertFile == "" && server.CAKeyFile == "" {
		return nil, nil, nil
	}
	cert, err = os.ReadFile(server.CACertFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	key, err = os.ReadFile(server.CAKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading CA key: %w", err)
	}
	return cert, key, nil
}
