// demoapp serves a local application with the sign-in behavior flowcheck
// verifies: a protected dashboard, a sign-in form, and a demo-seed endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/flowcheck/internal/auth"
	"github.com/kuitang/flowcheck/internal/obs"
	"github.com/kuitang/flowcheck/internal/ratelimit"
	"github.com/kuitang/flowcheck/internal/web"
)

type options struct {
	Addr         string
	BaseURL      string
	RedirectMode string
	Delay        time.Duration
	SeedOnStart  bool
	DisableSeed  bool
	LogLevel     string
}

func parseOptions(args []string, output io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("demoapp", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&o.Addr, "addr", envOr("DEMOAPP_ADDR", ":3000"), "Listen address")
	fs.StringVar(&o.BaseURL, "base-url", envOr("DEMOAPP_BASE_URL", "http://localhost:3000"), "Public origin of the app")
	fs.StringVar(&o.RedirectMode, "redirect", envOr("DEMOAPP_REDIRECT_MODE", string(web.RedirectServer)), "Signed-out dashboard behavior: server or client")
	fs.DurationVar(&o.Delay, "client-delay", 500*time.Millisecond, "Delay before the client-side redirect")
	fs.BoolVar(&o.SeedOnStart, "seed", false, "Create the demo account at startup")
	fs.BoolVar(&o.DisableSeed, "no-seed-endpoint", false, "Disable /api/seed-demo")
	fs.StringVar(&o.LogLevel, "log-level", envOr("DEMOAPP_LOG_LEVEL", "info"), "Structured log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	switch web.RedirectMode(o.RedirectMode) {
	case web.RedirectServer, web.RedirectClient:
	default:
		return options{}, fmt.Errorf("invalid --redirect %q: want server or client", o.RedirectMode)
	}
	if o.Delay < 0 {
		return options{}, fmt.Errorf("--client-delay must not be negative")
	}
	return o, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newHandler wires the demo app's services. The returned stop func releases
// background work.
func newHandler(ctx context.Context, o options) (http.Handler, func(), error) {
	renderer, err := web.DefaultRenderer()
	if err != nil {
		return nil, nil, err
	}
	users := auth.NewUserService(auth.Argon2Hasher{})
	sessions := auth.NewSessionService()
	limiter := ratelimit.NewRateLimiter(ratelimit.DefaultConfig)

	if o.SeedOnStart {
		if _, _, err := users.Upsert(ctx, web.DemoEmail, web.DemoName, web.DemoPassword); err != nil {
			limiter.Stop()
			return nil, nil, fmt.Errorf("seed demo account: %w", err)
		}
	}

	h := web.NewWebHandler(renderer, users, sessions, limiter, web.Options{
		BaseURL:             o.BaseURL,
		RedirectMode:        web.RedirectMode(o.RedirectMode),
		ClientRedirectDelay: o.Delay,
		DisableSeed:         o.DisableSeed,
	})

	stopSweep := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = sessions.Cleanup(context.Background())
			case <-stopSweep:
				return
			}
		}
	}()

	stop := func() {
		close(stopSweep)
		limiter.Stop()
	}
	return h.Handler(), stop, nil
}

func main() {
	o, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "demoapp: %v\n", err)
		os.Exit(2)
	}

	obs.Init()
	obs.SetLevel(obs.ParseLevel(o.LogLevel))
	log := obs.Pkg("main")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handler, stop, err := newHandler(ctx, o)
	if err != nil {
		log.Error("startup_failed", "error", err)
		os.Exit(1)
	}
	defer stop()

	srv := &http.Server{
		Addr:              o.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", o.Addr, "redirect_mode", o.RedirectMode, "seeded", o.SeedOnStart)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server_failed", "error", err)
			stop()
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutting_down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown_failed", "error", err)
		}
	}
}
