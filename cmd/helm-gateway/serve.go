package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/helm-gateway/pkg/api"
	"github.com/Mindburn-Labs/helm-gateway/pkg/config"
	"github.com/Mindburn-Labs/helm-gateway/pkg/eventsink"
	"github.com/Mindburn-Labs/helm-gateway/pkg/interactions"
	"github.com/Mindburn-Labs/helm-gateway/pkg/messagestore"
	"github.com/Mindburn-Labs/helm-gateway/pkg/observability"
)

// gateway is the assembled server: handler plus everything that needs closing.
type gateway struct {
	handler   http.Handler
	service   *interactions.Service
	sink      eventsink.Sink
	telemetry *observability.Provider
	slo       *observability.SLOTracker
	closeSink func() error
}

func (g *gateway) Close(ctx context.Context) error {
	var errs []error
	if err := g.closeSink(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	if err := g.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// newGateway wires config and accounts into a ready handler.
func newGateway(ctx context.Context, cfg *config.Config, accounts *config.AccountsFile, logger *slog.Logger) (*gateway, error) {
	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTLPEndpoint
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("telemetry configured", "service", telemetry.ServiceName(), "enabled", otelCfg.Enabled)

	sink, closeSink, err := openSink(ctx, cfg, logger)
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, err
	}

	slo := observability.NewSLOTracker(observability.DefaultSLOTargets()...)
	svc, err := interactions.NewService(interactions.Options{
		Sink:      sink,
		Telemetry: telemetry,
		Logger:    logger,
		Fallback:  interactions.Fallback{Port: cfg.Port},
		OnOutcome: func(o interactions.Outcome) { recordOutcome(slo, o) },
	})
	if err != nil {
		_ = closeSink()
		_ = telemetry.Shutdown(ctx)
		return nil, err
	}

	for _, a := range accounts.Accounts {
		acct := interactions.Account{
			ID:          a.ID,
			Credential:  a.Credential(),
			CallbackURL: a.CallbackURL,
		}
		if a.MessageAPIURL != "" {
			acct.Store = messagestore.NewHTTPStore(a.MessageAPIURL, acct.Credential, nil)
		}
		if a.BotTokenEnv != "" && acct.Credential == "" {
			logger.Warn("bot token variable is empty, using a process-local secret",
				"account", a.ID, "env", a.BotTokenEnv)
		}
		if err := svc.RegisterAccount(acct); err != nil {
			_ = closeSink()
			_ = telemetry.Shutdown(ctx)
			return nil, fmt.Errorf("register account %s: %w", a.ID, err)
		}
	}

	g := &gateway{
		service:   svc,
		sink:      sink,
		telemetry: telemetry,
		slo:       slo,
		closeSink: closeSink,
	}

	mux := http.NewServeMux()
	mux.Handle(interactions.DefaultPathPrefix+"/{account}", svc)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		api.WriteNotFound(w, "Not found")
	})

	limiter := api.NewGlobalRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)
	g.handler = api.RequestIDMiddleware(api.AccessLog(logger, limiter.Middleware(mux)))
	return g, nil
}

func (g *gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"accounts": g.service.Accounts(),
		"slo":      g.slo.Snapshot(),
	})
}

// recordOutcome feeds the SLO tracker. Callbacks count as successful when
// accepted; steps are only sampled when they ran.
func recordOutcome(slo *observability.SLOTracker, o interactions.Outcome) {
	slo.Record(observability.SLOObservation{
		Operation: observability.OperationCallback,
		Latency:   o.Duration,
		Success:   o.Rejection == nil && !o.Aborted,
	})
	for _, step := range []interactions.StepResult{o.Dispatch, o.Update} {
		if step.Step == "" || step.Skipped {
			continue
		}
		slo.Record(observability.SLOObservation{
			Operation: step.Step,
			Latency:   step.Duration,
			Success:   step.Err == nil,
		})
	}
}

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	cmd.StringVar(&cfg.AccountsFile, "accounts", cfg.AccountsFile, "Path to the accounts file")
	cmd.IntVar(&cfg.Port, "port", cfg.Port, "Loopback port to listen on")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !interactions.IsLoopback(cfg.BindAddr) && cfg.BindAddr != "localhost" {
		_, _ = fmt.Fprintf(stderr, "Error: BIND_ADDR %q is not a loopback address\n", cfg.BindAddr)
		return 2
	}

	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	accounts, err := config.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		logger.Error("failed to load accounts", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, accounts, logger)
	if err != nil {
		logger.Error("failed to start gateway", "error", err)
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           gw.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("interaction endpoint listening", "addr", srv.Addr, "accounts", gw.service.Accounts())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	_, _ = fmt.Fprintf(stdout, "%sHELM Gateway%s ready: http://%s%s/<account>\n",
		ColorBold+ColorBlue, ColorReset, srv.Addr, interactions.DefaultPathPrefix)

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Error("gateway close", "error", err)
	}
	return code
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	addr := cmd.String("addr", cfg.Addr(), "Gateway address (host:port or URL)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	target := *addr
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "http://" + target
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(target, "/") + "/healthz")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
