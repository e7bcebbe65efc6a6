package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/verity/internal/config"
	"github.com/dativo-io/verity/internal/pipeline"
	"github.com/dativo-io/verity/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: listen_addr from config, "+config.DefaultListenAddr+")")
	rootCmd.AddCommand(serveCmd)
}

// newHTTPServer wires the verifier, auth and rate limits from cfg.
func newHTTPServer(ctx context.Context, cfg *config.Config) (*http.Server, error) {
	v, err := pipeline.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	proxies, err := server.ParseTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, err
	}
	srv := server.NewServer(v,
		server.WithAPIKeys(cfg.APIKeys),
		server.WithTrustedProxies(proxies),
		server.WithRateLimiter(server.NewRateLimiter(cfg.RateLimitGlobalRPM, cfg.RateLimitCallerRPM)),
	)
	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	return &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.WarnIfUnsealed()
	cfg.WarnIfOpen()

	httpServer, err := newHTTPServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	log.Info().
		Str("addr", httpServer.Addr).
		Int("ledger_capacity", cfg.LedgerCapacity).
		Bool("ledger_sealed", cfg.SigningKey != "").
		Int("api_keys", len(cfg.APIKeys)).
		Msg("verity_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
