// Command poold runs the item pool lifecycle service: it wires the
// Redis-backed Store, the webhook Subscriber Dispatcher, the Operation
// Registry, and the Pool Engine behind the HTTP transport in
// internal/httpapi, then serves until SIGINT/SIGTERM (spec §6,
// grounded on the teacher's application.go Run loop's signal handling).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r33drichards/ip-allocator-webserver/internal/appcore"
	"github.com/r33drichards/ip-allocator-webserver/internal/dispatcher"
	"github.com/r33drichards/ip-allocator-webserver/internal/engine"
	"github.com/r33drichards/ip-allocator-webserver/internal/httpapi"
	"github.com/r33drichards/ip-allocator-webserver/internal/poolconfig"
	"github.com/r33drichards/ip-allocator-webserver/internal/registry"
	"github.com/r33drichards/ip-allocator-webserver/internal/store"
)

// httpComponent adapts an *http.Server to appcore.Component so the
// HTTP listener joins the same Start/Stop lifecycle as the Store and
// the Registry's GC loop (DESIGN.md internal/appcore).
type httpComponent struct {
	addr   string
	server *http.Server
	logger appcore.Logger
	errCh  chan error
}

func (h *httpComponent) Name() string { return "http.server" }

// Start launches ListenAndServe in a goroutine and returns
// immediately, per the Component contract; a listen failure (e.g. the
// port already in use) surfaces later on errCh rather than from Start.
func (h *httpComponent) Start(ctx context.Context) error {
	go func() {
		h.logger.Info("poold listening", "addr", h.addr)
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.errCh <- err
			return
		}
		h.errCh <- nil
	}()
	return nil
}

func (h *httpComponent) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func main() {
	logger := appcore.NewLogger()
	if err := run(logger); err != nil {
		logger.Error("poold exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger appcore.Logger) error {
	cfg := poolconfig.LoadEnv()

	doc, err := poolconfig.Load(cfg.SubscriberConfig)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load subscriber config: %w", err)
		}
		logger.Warn("no subscriber config found, starting with zero subscribers", "path", cfg.SubscriberConfig)
		doc = poolconfig.Document{}
	}

	redisCfg := store.DefaultRedisConfig()
	redisCfg.URL = cfg.RedisURL
	redisCfg.FreelistKey = cfg.RedisFreelistKey
	redisCfg.BorrowedKey = cfg.RedisBorrowedKey
	st, err := store.NewRedisStore(redisCfg)
	if err != nil {
		return fmt.Errorf("build redis store: %w", err)
	}

	disp := dispatcher.New(doc.Subscribers,
		dispatcher.WithTimeout(cfg.SubscriberTimeout),
		dispatcher.WithLogger(logger),
	)

	reg := registry.New(cfg.OperationRetention)

	eng := engine.New(st, disp, reg, logger, engine.Config{
		AllowTokenlessReturn: doc.Return.AllowTokenless,
	})

	handler := httpapi.NewRouter(eng, reg, st)
	server := &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	httpComp := &httpComponent{addr: cfg.BindAddr, server: server, logger: logger, errCh: make(chan error, 1)}

	// Store, Registry (GC loop), and the HTTP listener all join the
	// same appcore.Component lifecycle: StartAll brings them up in
	// order and unwinds anything already started if one fails;
	// StopAll tears them down in reverse (stop accepting requests,
	// then the GC sweep, then close the store last).
	components := []appcore.Component{st, reg, httpComp}

	startCtx, cancelStart := context.WithTimeout(context.Background(), redisCfg.DialTimeout)
	defer cancelStart()
	if err := appcore.StartAll(startCtx, components...); err != nil {
		return fmt.Errorf("start components: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-httpComp.errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := appcore.StopAll(shutdownCtx, components...); err != nil {
		logger.Error("component shutdown error", "error", err)
	}

	return nil
}
