package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/pliu/parley/internal/auth"
	"github.com/pliu/parley/internal/blob"
	"github.com/pliu/parley/internal/chat"
	"github.com/pliu/parley/internal/config"
	"github.com/pliu/parley/internal/handlers"
	"github.com/pliu/parley/internal/middleware"
	"github.com/pliu/parley/internal/store/sqlstore"
	"github.com/pliu/parley/internal/ws"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(2)
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))

	if err := run(cfg); err != nil {
		slog.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN,
		sqlstore.WithSlowQueryThreshold(cfg.SlowQueryThreshold()))
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := blob.NewFSStore(cfg.Media.Dir, cfg.Media.URLPrefix)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	issuer := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.SessionTTL)
	svc := chat.New(store, blobs, hub, chat.WithDefaultQuotaMB(cfg.DefaultChannelQuotaMB))

	router := handlers.Router{
		Auth:        &handlers.AuthHandler{Store: store, Issuer: issuer, SecureCookies: cfg.Auth.SecureCookies},
		Chat:        &handlers.ChatHandler{Service: svc, Hub: hub},
		Channels:    &handlers.ChannelHandler{Service: svc},
		Issuer:      issuer,
		Media:       http.FileServer(http.Dir(cfg.Media.Dir)),
		MediaPrefix: cfg.Media.URLPrefix,
	}

	var h http.Handler = router.Handler()
	h = middleware.CSRF(cfg.CSRFAuthKey(), cfg.Auth.SecureCookies)(h)
	h = middleware.LoggingMiddleware(h)
	compressed := gzhttp.GzipHandler(h)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// websocket upgrades need the raw connection
		if r.URL.Path == "/ws" {
			h.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server_start", "addr", cfg.Addr, "db_driver", cfg.Database.Driver, "media_dir", cfg.Media.Dir)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
