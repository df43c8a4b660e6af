package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/drawroom/pkg/auth"
	"github.com/astromechza/drawroom/pkg/config"
	"github.com/astromechza/drawroom/pkg/discovery"
	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/relay"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	var cfg config.Server
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Info("Opening database")
	store, err := oplog.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("Ensured initial tables exist", "backend", fmt.Sprintf("%T", store))

	s := relay.New(store, auth.NewHMAC(cfg.JWTSecret), relay.Config{
		SendQueue:   cfg.SendQueue,
		IdleTimeout: cfg.IdleTimeout,
	}, logger)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if cfg.MDNS {
		advertised, err := discovery.Advertise("", listener.Addr().(*net.TCPAddr).Port)
		if err != nil {
			_ = listener.Close()
			return err
		}
		defer func() {
			if err := advertised.Shutdown(); err != nil {
				slog.Error("failed to stop advertising", "err", err)
			}
		}()
		slog.Info("advertising on the local network", "service", discovery.ServiceType)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(time.Second * 30)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if rooms := s.Rooms(); rooms > 0 {
					slog.Info("presence", "rooms", rooms)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down cleanly", "err", err)
	}
	// websocket connections are hijacked, so Shutdown does not wait for them
	s.Close()

	wg.Wait()
	return nil
}
