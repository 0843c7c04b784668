package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"emojitrail/config"
	"emojitrail/logging"
	"emojitrail/network"
	"emojitrail/room"
)

func main() {
	cfgPath := flag.String("config", "", "path to emojitrail.yaml (optional)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	flag.Parse()

	if err := run(*cfgPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "emojitrail-server:", err)
		os.Exit(1)
	}
}

func run(cfgPath, addr string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	log, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer log.Sync()

	rooms := room.NewManager(log.Named("room"),
		room.WithIdleTimeout(cfg.Server.IdleTimeout),
		room.WithSweepInterval(cfg.Server.SweepInterval),
	)
	defer rooms.Shutdown()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           network.NewServer(cfg.Server, rooms, log.Named("network")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("ws", "/ws/{room}/{player}"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
