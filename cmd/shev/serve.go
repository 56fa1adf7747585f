package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shevd/shev/pkg/api"
	"github.com/shevd/shev/pkg/consumer"
	"github.com/shevd/shev/pkg/executor"
	"github.com/shevd/shev/pkg/log"
	"github.com/shevd/shev/pkg/producer"
	"github.com/shevd/shev/pkg/queue"
	"github.com/shevd/shev/pkg/seed"
	"github.com/shevd/shev/pkg/storage"
	"github.com/shevd/shev/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher",
	Long: `Run the dispatcher: open the SQLite catalog, recover from any
previous crash, start the timer and schedule producers, the event
consumer, and the REST API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		listen, _ := cmd.Flags().GetString("listen")
		seedPath, _ := cmd.Flags().GetString("seed")
		logLevel, _ := cmd.Flags().GetString("log-level")
		logJSON, _ := cmd.Flags().GetBool("log-json")

		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
		logger := log.WithComponent("serve")

		if dbPath == "" {
			dbPath = os.Getenv("SHEV_DB")
		}
		if dbPath == "" {
			dbPath = "shev.db"
		}

		ctx := context.Background()

		catalog, err := storage.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open catalog %s: %w", dbPath, err)
		}
		defer catalog.Close()
		if err := catalog.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize catalog: %w", err)
		}
		logger.Info().Str("db", dbPath).Msg("catalog opened")

		// jobs left pending or running by a previous process are dead
		stale, err := catalog.CancelStaleJobs(ctx)
		if err != nil {
			return fmt.Errorf("failed to cancel stale jobs: %w", err)
		}
		if stale > 0 {
			logger.Warn().Int64("count", stale).Msg("cancelled stale jobs from previous run")
		}

		port, err := catalog.Port(ctx)
		if err != nil {
			return fmt.Errorf("failed to read port config: %w", err)
		}
		queueSize, err := catalog.QueueSize(ctx)
		if err != nil {
			return fmt.Errorf("failed to read queue_size config: %w", err)
		}
		if listen == "" {
			listen = fmt.Sprintf("127.0.0.1:%d", port)
		}

		q := queue.New(queueSize)
		s := store.New(catalog)

		handlers, timerCount, scheduleCount, err := s.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
		logger.Info().
			Int("handlers", handlers).
			Int("timers", timerCount).
			Int("schedules", scheduleCount).
			Msg("catalog loaded")

		if seedPath != "" {
			f, err := seed.Load(seedPath)
			if err != nil {
				return err
			}
			if err := seed.Apply(ctx, s, f); err != nil {
				return fmt.Errorf("failed to apply seed file: %w", err)
			}
		}

		timers := producer.NewTimerManager(s, q)
		schedules := producer.NewScheduleManager(s, q)
		for _, t := range s.Timers() {
			timers.Register(t)
		}
		for _, sc := range s.Schedules() {
			schedules.Register(sc)
		}

		cons := consumer.New(q, s, executor.New(), consumer.NewControl())
		cons.Start()

		server := api.New(s, timers, schedules, q)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(listen); err != nil {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			return fmt.Errorf("API server error: %w", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP shutdown failed")
		}

		// closing the queue stops the consumer after it drains
		q.Close()
		select {
		case <-cons.Done():
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("consumer did not stop in time")
		}

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("db", "", "SQLite catalog path (default $SHEV_DB or shev.db)")
	serveCmd.Flags().String("listen", "", "Listen address (default 127.0.0.1:<configured port>)")
	serveCmd.Flags().String("seed", "", "YAML seed file applied at startup")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")
}
