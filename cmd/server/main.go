package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"roomsync/pkg/config"
	"roomsync/pkg/persist"
	"roomsync/pkg/room"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "", "the address to listen on (overrides config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Server.Addr = *addrVar
	}

	slog.Info("opening snapshot store", "driver", cfg.Storage.Driver, "path", cfg.Storage.Path)
	adapter, err := persist.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer adapter.Close()

	tracker := room.NewTracker(cfg.Rooms.Capacity)
	registry := room.NewRegistry(adapter, tracker, cfg.Rooms.PersistEvery, slog.Default())
	handler := room.NewHandler(registry, slog.Default())

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	handler.Routes(r)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	_ = httpServer.Close()
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	registry.Shutdown(ctx)
	slog.Info("rooms flushed")

	return nil
}
