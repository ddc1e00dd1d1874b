package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/config"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/engine"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/feed"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/httpapi"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/market"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with live feeds and the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	eng := engine.New(&cfg.Engine)

	if cfg.Market.Provider.BaseURL != "" {
		cache := market.NewCache(cfg.Market.Redis.Addr, cfg.Market.Redis.Password, cfg.Market.Redis.DB)
		eng.SetMarketProvider(market.NewHTTPProvider(&cfg.Market.Provider, cache))
	} else {
		log.Warn().Msg("no market provider configured, evaluations use the neutral context")
	}

	srv, err := httpapi.NewServer(&cfg.Server, eng, version)
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var sigFeed *feed.SignalFeed
	if cfg.Feed.Stream.URL != "" {
		sigFeed = feed.NewSignalFeed(&cfg.Feed.Stream)
		sigFeed.SetHandler(func(symbol string, signals []signal.Output) {
			eng.EvaluateEntry(symbol, signals)
		})
		go func() {
			if err := sigFeed.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("signal feed: %w", err)
			}
		}()
	} else {
		log.Warn().Msg("no signal stream configured, engine idles until driven externally")
	}

	var consumer *feed.OutcomeConsumer
	if len(cfg.Feed.Outcomes.Brokers) > 0 {
		consumer = feed.NewOutcomeConsumer(&cfg.Feed.Outcomes, eng)
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("outcome consumer: %w", err)
			}
		}()
	} else {
		log.Warn().Msg("no outcome brokers configured, weights only move via direct calls")
	}

	log.Info().
		Str("addr", srv.Addr()).
		Str("environment", cfg.Environment).
		Msg("fusion engine up")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("component failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if sigFeed != nil {
		sigFeed.Close()
		dispatched, dropped := sigFeed.Stats()
		log.Info().Int64("dispatched", dispatched).Int64("dropped", dropped).
			Msg("signal feed drained")
	}
	if consumer != nil {
		consumer.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	st := eng.Status()
	log.Info().
		Int64("entry_evaluations", st.EntryEvaluations).
		Int64("exit_evaluations", st.ExitEvaluations).
		Int64("outcomes", st.OutcomesRecorded).
		Msg("fusion engine stopped")

	return runErr
}
