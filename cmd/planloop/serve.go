package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rahul/planloop/internal/gateway"
	"github.com/rahul/planloop/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and, when enabled, the Telegram bot.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := gateway.NewServer(gateway.Options{
			Code:      a.code,
			Surf:      a.surf,
			Simple:    a.simple,
			Hybrid:    a.hybrid,
			Runs:      a.runs,
			Catalog:   a.Catalog,
			CorpusDir: cfg.RAG.Hybrid.CorpusDir,
			Logger:    logger,
		})

		if observability.IsTerminal() {
			observability.PrintBanner(os.Stdout, cfg.Server.Address)
		}

		var messengers []gateway.Messenger
		if cfg.Telegram.Enabled {
			chat := gateway.NewChat(a.code, a.history, a.runs, a.Catalog, logger)
			tg, err := gateway.NewTelegramGateway(cfg.Telegram.Token, chat, logger)
			if err != nil {
				logger.Error("telegram gateway disabled", zap.Error(err))
			} else {
				messengers = append(messengers, tg)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(cfg.Server.Address) })
		for _, m := range messengers {
			g.Go(func() error { return m.Start(gctx) })
		}
		g.Go(func() error {
			<-gctx.Done()
			for _, m := range messengers {
				if err := m.Stop(); err != nil {
					logger.Warn("messenger stop failed", zap.Error(err))
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					observability.Heartbeat()
				}
			}
		})

		err = g.Wait()
		logger.Info("shut down", zap.Error(err))
		return err
	},
}
