package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/xhad/danfe/internal/app"
	"github.com/xhad/danfe/internal/logger"
	cfgPkg "github.com/xhad/danfe/pkg/config"
	"github.com/xhad/danfe/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := logger.New("danfe-server")
	if err := run(log); err != nil {
		log.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	var configPath, addr string
	flagSet := pflag.NewFlagSet("danfe-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file")
	flagSet.StringVar(&addr, "addr", "", "listen address (default from config)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	config, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		config.Server.Addr = addr
	}
	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error("invalid configuration", slog.String("field", e.Field), slog.String("message", e.Message))
		}
		return errors.New("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.New(ctx, config, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a, log)
	httpServer := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", slog.String("addr", config.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
