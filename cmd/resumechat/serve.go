package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/resumechat/internal/api"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServer(cmd.Context(), addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
}

func runServer(parent context.Context, addrOverride string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, appOptions{completer: true, events: true})
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}

	if a.cfg.Admin.Secret == "" {
		a.logger.Warn("ADMIN_SECRET is not set; admin endpoints will reject every request")
	}

	deps := api.Deps{
		Chat:        a.chat,
		Sessions:    a.sessions,
		Profiles:    a.profiles,
		Store:       a.store,
		AdminSecret: a.cfg.Admin.Secret,
		Logger:      a.logger,
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	a.logger.Info("resumechat listening",
		"addr", ln.Addr().String(),
		"version", version,
		"storage", a.cfg.Storage.Backend,
		"model", a.client.Model(),
	)
	return serveUntil(ctx, srv, ln)
}

// serveUntil serves on ln until ctx is done, then lets in-flight requests
// finish within shutdownTimeout. Request contexts are not tied to ctx.
func serveUntil(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
