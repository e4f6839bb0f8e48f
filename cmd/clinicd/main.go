/*
main.go - clinicd entrypoint

PURPOSE:
  CLI for the clinical session engine daemon.

COMMANDS:
  clinicd serve                start the HTTP server
  clinicd repair-debts         one-shot debt_opened_at backfill, then exit

FLAGS:
  --config PATH                TOML config file (defaults apply without it)

SHUTDOWN:
  serve traps SIGINT/SIGTERM and drains in-flight requests for up to ten
  seconds before closing the store.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinica/session-engine/api"
	"github.com/clinica/session-engine/clinic"
	"github.com/clinica/session-engine/config"
	"github.com/clinica/session-engine/store/sqlite"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "clinicd",
		Short:         "Clinical session ledger daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "repair-debts",
		Short: "Backfill missing debt opened dates and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return repairDebts(cmd.Context(), cfg)
		},
	})

	return root
}

func serve(cfg config.Config) error {
	store, err := sqlite.New(cfg.Database.Path, cfg.Database.BusyTimeoutMS)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	var metrics *api.Metrics
	if cfg.Metrics.Enabled {
		metrics = api.NewMetrics()
	}
	handler := api.NewHandler(store, metrics)
	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.NewRouter(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("clinicd listening on %s (db=%s)", cfg.Addr(), cfg.Database.Path)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

func repairDebts(ctx context.Context, cfg config.Config) error {
	store, err := sqlite.New(cfg.Database.Path, cfg.Database.BusyTimeoutMS)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	debts := clinic.NewDebtService(store, store)
	repaired, err := debts.RepairOpenedDates(ctx)
	if err != nil {
		return err
	}
	log.Printf("repaired %d debt opened dates", repaired)
	return nil
}
