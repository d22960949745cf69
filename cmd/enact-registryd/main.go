// Command enact-registryd runs the Enact skill registry HTTP service.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enactprotocol/enact/internal/registry/api"
	"github.com/enactprotocol/enact/internal/registry/config"
	"github.com/enactprotocol/enact/internal/registry/store"
	"github.com/enactprotocol/enact/trust"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "enact-registryd",
	Short:         "Enact skill registry service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.New()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := c.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		cfg = c

		zcfg := zap.NewProductionConfig()
		l, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the registry HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply pending database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().String("db-path", "", "path to the registry SQLite database")
	rootCmd.PersistentFlags().String("blob-root", "", "path to the bundle blob store root")
	rootCmd.PersistentFlags().String("address", "", "HTTP listen address")
	rootCmd.PersistentFlags().String("trust-policy", "", "trust policy preset (permissive|enterprise|paranoid)")
	rootCmd.PersistentFlags().String("api-keys-file", "", "path to a token->identity key-set file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	logger.Info("migrations applied", zap.String("dbPath", cfg.DBPath()))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	blobs, err := store.NewBlobStore(cfg.BlobRoot())
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	keySet, err := loadKeySet(cfg.APIKeysFile())
	if err != nil {
		return fmt.Errorf("loading api keys file: %w", err)
	}

	policy, err := trust.Preset(cfg.TrustPolicy())
	if err != nil {
		return fmt.Errorf("resolving trust policy %q: %w", cfg.TrustPolicy(), err)
	}

	srv := &api.Server{
		Store:  db,
		Blobs:  blobs,
		Logger: logger,
		Auth:   api.Authenticator{KeySet: keySet},
		Policy: policy,
	}

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      api.NewRouter(srv),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", cfg.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loadKeySet reads a flat "token=identity" text file, one pair per line.
// An empty path runs the server in open mode (every write attributed to
// the synthetic admin profile).
func loadKeySet(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	keys := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		token, identity, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		keys[token] = identity
	}
	return keys, scanner.Err()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("fatal", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
